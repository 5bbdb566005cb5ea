package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"stockcast/internal/bus"
	"stockcast/internal/config"
	"stockcast/internal/persistence"
	"stockcast/internal/telemetry"
)

// Stream tails the feedback log, maintains per-item drift windows and
// requests incremental retrains when drift persists. Entries are consumed
// strictly in ascending id order; last_processed_id never decreases.
type Stream struct {
	repo    persistence.FeedbackRepo
	cache   *DriftCache
	warm    *WarmStore
	gov     *Governor
	events  bus.EventBus
	metrics telemetry.Metrics
	cfg     config.FeedbackConfig

	limiter *rate.Limiter

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	done            chan struct{}
	lastProcessedID int64
	processed       int64
	driftTriggers   int64
}

// Stats is a point-in-time view of the poller.
type Stats struct {
	Running         bool                 `json:"running"`
	LastProcessedID int64                `json:"last_processed_id"`
	Processed       int64                `json:"entries_processed"`
	DriftTriggers   int64                `json:"drift_triggers"`
	Items           map[string]ItemStats `json:"items"`
}

// NewStream creates the feedback poller. warm may be nil.
func NewStream(repo persistence.FeedbackRepo, cache *DriftCache, warm *WarmStore,
	gov *Governor, events bus.EventBus, metrics telemetry.Metrics, cfg config.FeedbackConfig) *Stream {
	return &Stream{
		repo:    repo,
		cache:   cache,
		warm:    warm,
		gov:     gov,
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		// One batch per poll tick at most; the limiter keeps a backlogged
		// table from starving the process between ticks.
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Start begins polling. Idempotent: a second Start while running is a
// no-op.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	maxID, err := s.repo.MaxID(ctx)
	if err != nil {
		return err
	}
	s.lastProcessedID = maxID

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(runCtx)

	log.Info().Int64("last_processed_id", maxID).
		Dur("interval", s.cfg.PollInterval).Int("batch", s.cfg.BatchSize).
		Msg("feedback stream started")
	return nil
}

// Stop halts polling and waits for the in-flight poll to finish. Safe to
// call twice.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("feedback stream stopped")
}

func (s *Stream) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.poll(ctx); err != nil {
				// Poll errors are contained; the loop continues next tick.
				log.Error().Err(err).Msg("feedback poll failed")
			}
		}
	}
}

// poll consumes one batch in ascending id order.
func (s *Stream) poll(ctx context.Context) error {
	s.mu.Lock()
	afterID := s.lastProcessedID
	s.mu.Unlock()

	entries, err := s.repo.ListAfter(ctx, afterID, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.metrics.SetGauge("poller_lag", 0)
		return nil
	}

	now := time.Now()
	for _, entry := range entries {
		s.seedWindow(ctx, entry.ItemCode)

		s.events.Emit(ctx, bus.TopicFeedbackIngested, map[string]interface{}{
			"feedback_id": entry.ID,
			"item":        entry.ItemCode,
			"type":        string(entry.Type),
			"delta_pct":   entry.DeltaPct,
		})
		s.metrics.IncCounter("feedback_ingested", nil, 1)

		s.cache.Observe(entry.ItemCode, entry.MAPE)
		if err := s.warm.Append(ctx, entry.ItemCode, entry.MAPE); err != nil {
			log.Warn().Err(err).Str("item", entry.ItemCode).Msg("drift warm store append failed")
		}

		s.checkDrift(ctx, entry.ItemCode, now)

		s.mu.Lock()
		s.lastProcessedID = entry.ID
		s.processed++
		s.mu.Unlock()
	}

	// Approximate lag: a full batch means there is likely more behind it.
	if len(entries) == s.cfg.BatchSize {
		s.metrics.SetGauge("poller_lag", float64(s.cfg.BatchSize))
	} else {
		s.metrics.SetGauge("poller_lag", 0)
	}
	return nil
}

// checkDrift evaluates the item's window and, past the cool-down,
// emits drift_detected and queues an incremental retrain.
func (s *Stream) checkDrift(ctx context.Context, itemCode string, now time.Time) {
	thresholdPct := s.cfg.DriftThreshold * 100

	if !s.cache.ShouldTrigger(itemCode, s.cfg.DriftMinSamples, thresholdPct, s.cfg.DriftCooldown, now) {
		return
	}

	s.mu.Lock()
	s.driftTriggers++
	s.mu.Unlock()

	s.events.Emit(ctx, bus.TopicDriftDetected, map[string]interface{}{
		"item":          itemCode,
		"threshold_pct": thresholdPct,
	})
	s.metrics.IncCounter("drift_triggers", map[string]string{"item": itemCode}, 1)
	log.Warn().Str("item", itemCode).Float64("threshold_pct", thresholdPct).
		Msg("drift detected")

	if s.cfg.IncrementalEnable {
		s.gov.EnqueueRetrain(itemCode)
	}
}

// seedWindow lazily reconstructs an item's window after restart: the warm
// store first, then the newest persisted feedback rows.
func (s *Stream) seedWindow(ctx context.Context, itemCode string) {
	if s.cache.Has(itemCode) {
		return
	}

	if mapes, err := s.warm.Load(ctx, itemCode); err == nil && len(mapes) > 0 {
		s.cache.Seed(itemCode, mapes)
		return
	}

	recent, err := s.repo.RecentByItem(ctx, itemCode, s.cfg.DriftWindowSize)
	if err != nil {
		log.Warn().Err(err).Str("item", itemCode).Msg("drift window rebuild failed")
		s.cache.Seed(itemCode, nil)
		return
	}
	// RecentByItem is newest-first; windows store oldest-first.
	mapes := make([]float64, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		mapes = append(mapes, recent[i].MAPE)
	}
	s.cache.Seed(itemCode, mapes)
}

// Stats returns a snapshot of poller state and per-item drift windows.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Running:         s.running,
		LastProcessedID: s.lastProcessedID,
		Processed:       s.processed,
		DriftTriggers:   s.driftTriggers,
	}
	s.mu.Unlock()
	st.Items = s.cache.Snapshot()
	return st
}

// ClearCache drops all drift windows.
func (s *Stream) ClearCache() {
	s.cache.Clear()
}
