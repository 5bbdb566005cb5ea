package feedback

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stockcast/internal/domain"
	"stockcast/internal/persistence"
	"stockcast/internal/telemetry"
)

// Weight-adjustment rule constants.
const (
	// Feedback below this |delta%| carries no weight proposal.
	adjustmentDeltaPctFloor = 10.0
	// Per-signal delta applied when a reason keyword matches.
	signalDelta = 0.05
	// Any single application may not move a weight further than this.
	maxStep = 0.20
)

// Governor applies queued feedback to per-item signal weights under
// bounded-step and cool-down rules.
type Governor struct {
	feedback persistence.FeedbackRepo
	weights  persistence.WeightRepo
	runs     persistence.RunRepo
	metrics  telemetry.Metrics

	cooldown time.Duration

	mu          sync.Mutex
	lastRetrain map[string]time.Time

	requests chan string
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewGovernor creates an auto-retrain governor. cooldown bounds how often
// a drift-triggered retrain may run per item.
func NewGovernor(feedback persistence.FeedbackRepo, weights persistence.WeightRepo,
	runs persistence.RunRepo, metrics telemetry.Metrics, cooldown time.Duration) *Governor {
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	return &Governor{
		feedback:    feedback,
		weights:     weights,
		runs:        runs,
		metrics:     metrics,
		cooldown:    cooldown,
		lastRetrain: make(map[string]time.Time),
		requests:    make(chan string, 256),
		stopped:     make(chan struct{}),
	}
}

// EnqueueRetrain queues an incremental retrain for an item. Non-blocking:
// a full queue drops the request (the next drift trigger re-queues).
func (g *Governor) EnqueueRetrain(itemCode string) {
	select {
	case g.requests <- itemCode:
	default:
		log.Warn().Str("item", itemCode).Msg("retrain queue full, request dropped")
	}
}

// Run consumes retrain requests until the context is cancelled.
func (g *Governor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			g.stopOnce.Do(func() { close(g.stopped) })
			return
		case itemCode := <-g.requests:
			if err := g.RetrainItem(ctx, itemCode); err != nil {
				log.Error().Err(err).Str("item", itemCode).Msg("incremental retrain failed")
			}
		}
	}
}

// RetrainItem applies the item's unapplied feedback, subject to the
// per-item cool-down.
func (g *Governor) RetrainItem(ctx context.Context, itemCode string) error {
	g.mu.Lock()
	last, ok := g.lastRetrain[itemCode]
	if ok && time.Since(last) < g.cooldown {
		g.mu.Unlock()
		log.Debug().Str("item", itemCode).Time("last", last).Msg("retrain in cooldown")
		return nil
	}
	g.lastRetrain[itemCode] = time.Now()
	g.mu.Unlock()

	entries, err := g.feedback.RecentByItem(ctx, itemCode, 20)
	if err != nil {
		return err
	}

	applied := 0
	for _, entry := range entries {
		if entry.Applied {
			continue
		}
		changed, err := g.Apply(ctx, &entry)
		if err != nil {
			return err
		}
		if changed {
			applied++
		}
	}
	if applied > 0 {
		g.metrics.IncCounter("retrains_applied", nil, 1)
		log.Info().Str("item", itemCode).Int("entries", applied).Msg("weights retrained")
	}
	return nil
}

// ApplyPending backfills all unapplied feedback. Returns the applied
// count and the distinct items whose weights changed.
func (g *Governor) ApplyPending(ctx context.Context) (int, []string, error) {
	entries, err := g.feedback.ListUnapplied(ctx, 1000)
	if err != nil {
		return 0, nil, err
	}

	applied := 0
	updated := make(map[string]bool)
	for _, entry := range entries {
		changed, err := g.Apply(ctx, &entry)
		if err != nil {
			return applied, keys(updated), err
		}
		if changed {
			applied++
			updated[entry.ItemCode] = true
		}
	}
	if applied > 0 {
		g.metrics.IncCounter("retrains_applied", nil, 1)
	}
	return applied, keys(updated), nil
}

// Apply folds one feedback entry into the item's weight vector and marks
// it applied. The applied flag makes re-application a no-op, so replays
// converge to the same vector. Returns whether weights changed.
func (g *Governor) Apply(ctx context.Context, entry *domain.FeedbackEntry) (bool, error) {
	if entry.Applied {
		return false, nil
	}

	deltas := ProposeAdjustment(entry)
	now := time.Now()

	if deltas == nil {
		// Nothing to learn, but the entry is consumed.
		if err := g.feedback.MarkApplied(ctx, entry.ID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		return false, nil
	}

	current := domain.DefaultWeights()
	if w, err := g.weights.Get(ctx, entry.ItemCode); err == nil {
		current = *w
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	next := applyBounded(current, deltas)
	if err := g.weights.Upsert(ctx, entry.ItemCode, next); err != nil {
		return false, err
	}
	if err := g.feedback.MarkApplied(ctx, entry.ID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	log.Info().Str("item", entry.ItemCode).Int64("feedback_id", entry.ID).
		Float64("sum", next.Sum()).Msg("weight vector adjusted")
	return true, nil
}

// ProposeAdjustment derives signal-weight deltas from an adjustment-type
// feedback entry. Only large adjustments with a parseable reason propose
// anything.
func ProposeAdjustment(entry *domain.FeedbackEntry) map[domain.SignalKind]float64 {
	if entry.Type != domain.FeedbackAdjustment {
		return nil
	}
	if math.Abs(entry.DeltaPct) <= adjustmentDeltaPctFloor {
		return nil
	}

	reason := strings.ToLower(entry.Reason)
	switch {
	case strings.Contains(reason, "menu"):
		return map[domain.SignalKind]float64{
			domain.SignalMenuRotation: +signalDelta,
			domain.SignalUsageHistory: -signalDelta,
		}
	case strings.Contains(reason, "population"):
		return map[domain.SignalKind]float64{
			domain.SignalPopulation:   +signalDelta,
			domain.SignalUsageHistory: -signalDelta,
		}
	default:
		return nil
	}
}

// applyBounded applies deltas, clamps to [0,1], caps any per-weight move
// at maxStep, then renormalizes to sum 1.0.
func applyBounded(current domain.WeightVector, deltas map[domain.SignalKind]float64) domain.WeightVector {
	next := current
	for kind, d := range deltas {
		next.Set(kind, next.Get(kind)+d)
	}
	next = next.Clamp()

	for _, kind := range domain.AllSignals() {
		step := next.Get(kind) - current.Get(kind)
		if step > maxStep {
			next.Set(kind, current.Get(kind)+maxStep)
		} else if step < -maxStep {
			next.Set(kind, current.Get(kind)-maxStep)
		}
	}

	return next.Normalize()
}

// OnRunRejected converts a rejected run's lines into rejection-type
// feedback entries so the drift stream sees the negative signal. Existing
// entries for a line are left alone.
func (g *Governor) OnRunRejected(ctx context.Context, runID, note string) {
	lines, err := g.runs.ListLines(ctx, runID)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("failed to load lines for rejected run")
		return
	}

	for _, line := range lines {
		entry := &domain.FeedbackEntry{
			LineID:       line.ID,
			ItemCode:     line.ItemCode,
			Type:         domain.FeedbackRejection,
			OriginalPred: line.PredictedUsage,
			Adjustment:   0,
			Reason:       note,
			Delta:        -line.PredictedUsage,
			DeltaPct:     -100,
			MAPE:         100,
			SubmittedBy:  "ledger",
			SubmittedAt:  time.Now(),
		}
		if err := g.feedback.Insert(ctx, entry); err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				continue // entry already exists for this line+type
			}
			log.Error().Err(err).Str("item", line.ItemCode).Msg("failed to record rejection feedback")
		}
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
