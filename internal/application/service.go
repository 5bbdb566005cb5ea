package application

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"stockcast/internal/authz"
	"stockcast/internal/bus"
	"stockcast/internal/config"
	"stockcast/internal/domain"
	"stockcast/internal/engine"
	"stockcast/internal/feedback"
	"stockcast/internal/health"
	"stockcast/internal/ledger"
	"stockcast/internal/persistence"
	"stockcast/internal/policy"
	"stockcast/internal/pricing"
	"stockcast/internal/signals"
	"stockcast/internal/telemetry"
)

// Service is the process root for the forecast core: it owns the
// long-lived components, wires cross-component notifications through the
// event bus, and fronts every exposed operation with the role matrix.
type Service struct {
	cfg     config.Config
	repo    *persistence.Repository
	authz   authz.Authorizer
	events  bus.EventBus
	metrics telemetry.Metrics

	costs    *pricing.Resolver
	engine   *engine.Engine
	ledger   *ledger.Ledger
	stream   *feedback.Stream
	governor *feedback.Governor
	auditor  *health.Auditor

	govCancel context.CancelFunc
}

// Deps are the externally supplied collaborators.
type Deps struct {
	Repo    *persistence.Repository
	AuthZ   authz.Authorizer
	Events  bus.EventBus
	Metrics telemetry.Metrics
	Audit   health.Audit
	Warm    *feedback.WarmStore
}

// New assembles the forecast core. The stream→governor→engine→store cycle
// is broken here: the ledger publishes rejections on the bus and the
// governor consumes them as feedback rows.
func New(cfg config.Config, d Deps) *Service {
	s := &Service{
		cfg:     cfg,
		repo:    d.Repo,
		authz:   d.AuthZ,
		events:  d.Events,
		metrics: d.Metrics,
	}

	s.costs = pricing.NewResolver(d.Repo.Prices)
	provider := signals.NewProvider(d.Repo.Signals, cfg.Forecast.HistoryDays)
	s.engine = engine.New(d.Repo.Items, d.Repo.Runs, d.Repo.Weights, provider, s.costs, d.Metrics)
	s.ledger = ledger.New(d.Repo.Runs, d.Repo.Approvals, d.Events, d.Metrics)
	s.governor = feedback.NewGovernor(d.Repo.Feedback, d.Repo.Weights, d.Repo.Runs,
		d.Metrics, cfg.Feedback.RetrainCooldown)

	cache := feedback.NewDriftCache(cfg.Feedback.DriftWindowSize)
	s.stream = feedback.NewStream(d.Repo.Feedback, cache, d.Warm, s.governor,
		d.Events, d.Metrics, cfg.Feedback)

	s.auditor = health.NewAuditor(d.Audit, s.retrainCycle, d.Metrics, cfg.Health)

	// Rejections feed the governor as negative-signal feedback rows.
	d.Events.Subscribe(bus.TopicForecastRejected, func(ctx context.Context, ev bus.Event) {
		runID, _ := ev.Payload["run_id"].(string)
		note, _ := ev.Payload["reason_code"].(string)
		if runID != "" {
			s.governor.OnRunRejected(ctx, runID, note)
		}
	})

	return s
}

// Start launches the stream poller, governor worker and health auditor.
func (s *Service) Start(ctx context.Context) error {
	govCtx, cancel := context.WithCancel(context.Background())
	s.govCancel = cancel
	go s.governor.Run(govCtx)

	if err := s.stream.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start feedback stream: %w", err)
	}
	if err := s.auditor.Start(); err != nil {
		s.stream.Stop()
		cancel()
		return fmt.Errorf("failed to start health auditor: %w", err)
	}
	return nil
}

// Stop shuts the long-lived components down, awaiting in-flight work.
func (s *Service) Stop() {
	s.auditor.Stop()
	s.stream.Stop()
	if s.govCancel != nil {
		s.govCancel()
	}
}

// GenerateForecast runs one forecast cycle. FINANCE or OWNER only.
func (s *Service) GenerateForecast(ctx context.Context, actor authz.Actor, horizonDays int, tenant, location string) (*engine.Result, error) {
	if err := s.authz.RequireRole(actor, authz.CanGenerate...); err != nil {
		return nil, err
	}
	if horizonDays <= 0 {
		horizonDays = s.cfg.Forecast.HorizonDays
	}
	return s.engine.Run(ctx, engine.Options{
		HorizonDays:     horizonDays,
		Tenant:          tenant,
		Location:        location,
		Actor:           actor.ID,
		ShadowMode:      s.cfg.Forecast.ShadowMode,
		ModelVersion:    s.cfg.Forecast.ModelVersion,
		DefaultLeadTime: s.cfg.Forecast.DefaultLeadTime,
		DefaultSafety:   s.cfg.Forecast.DefaultSafety,
	})
}

// Approve records the terminal approval of a run. FINANCE or OWNER, and
// never the run's creator.
func (s *Service) Approve(ctx context.Context, actor authz.Actor, runID, note string) error {
	if err := s.authz.RequireRole(actor, authz.CanApprove...); err != nil {
		return err
	}
	return s.ledger.Approve(ctx, runID, actor, note)
}

// Reject records the terminal rejection of a run.
func (s *Service) Reject(ctx context.Context, actor authz.Actor, runID, note string, reason domain.RejectReason) error {
	if err := s.authz.RequireRole(actor, authz.CanApprove...); err != nil {
		return err
	}
	return s.ledger.Reject(ctx, runID, actor, note, reason)
}

// GetRunState returns the run, its approvals and a category summary.
func (s *Service) GetRunState(ctx context.Context, actor authz.Actor, runID string) (*ledger.RunState, error) {
	if err := s.authz.RequireRole(actor, authz.CanView...); err != nil {
		return nil, err
	}
	return s.ledger.State(ctx, runID)
}

// FeedbackResult is the outcome of SubmitFeedback.
type FeedbackResult struct {
	FeedbackID int64                `json:"feedback_id"`
	Delta      float64              `json:"delta"`
	DeltaPct   float64              `json:"delta_pct"`
	Proposed   *domain.WeightVector `json:"weight_adjustments,omitempty"`
}

// SubmitFeedback records a human signal against a forecast line. FINANCE,
// OPS or OWNER.
func (s *Service) SubmitFeedback(ctx context.Context, actor authz.Actor, lineID int64,
	fbType domain.FeedbackType, adjustment float64, reason string) (*FeedbackResult, error) {
	if err := s.authz.RequireRole(actor, authz.CanFeedback...); err != nil {
		return nil, err
	}
	switch fbType {
	case domain.FeedbackAdjustment, domain.FeedbackApproval, domain.FeedbackRejection:
	default:
		return nil, fmt.Errorf("feedback type %q: %w", fbType, domain.ErrInvalidArgument)
	}

	line, err := s.repo.Runs.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	delta := adjustment - line.PredictedUsage
	deltaPct := 0.0
	if line.PredictedUsage > 0 {
		deltaPct = 100 * delta / line.PredictedUsage
	}

	entry := &domain.FeedbackEntry{
		LineID:       lineID,
		ItemCode:     line.ItemCode,
		Type:         fbType,
		OriginalPred: line.PredictedUsage,
		Adjustment:   adjustment,
		Reason:       reason,
		Delta:        delta,
		DeltaPct:     deltaPct,
		MAPE:         math.Abs(deltaPct),
		SubmittedBy:  actor.ID,
		SubmittedAt:  time.Now(),
	}
	if deltas := feedback.ProposeAdjustment(entry); deltas != nil {
		// Stored as a delta vector: zero for untouched signals.
		var proposed domain.WeightVector
		for kind, d := range deltas {
			proposed.Set(kind, d)
		}
		entry.Proposed = &proposed
	}

	if err := s.repo.Feedback.Insert(ctx, entry); err != nil {
		return nil, err
	}

	return &FeedbackResult{
		FeedbackID: entry.ID,
		Delta:      entry.Delta,
		DeltaPct:   entry.DeltaPct,
		Proposed:   entry.Proposed,
	}, nil
}

// ApplyResult is the outcome of ApplyPendingFeedback.
type ApplyResult struct {
	AppliedCount int      `json:"applied_count"`
	UpdatedItems []string `json:"updated_items"`
}

// ApplyPendingFeedback backfills all unapplied feedback into weights.
func (s *Service) ApplyPendingFeedback(ctx context.Context, actor authz.Actor) (*ApplyResult, error) {
	if err := s.authz.RequireRole(actor, authz.CanFeedback...); err != nil {
		return nil, err
	}
	applied, items, err := s.governor.ApplyPending(ctx)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{AppliedCount: applied, UpdatedItems: items}, nil
}

// CalculateAccuracy evaluates forecast accuracy over the trailing period.
func (s *Service) CalculateAccuracy(ctx context.Context, actor authz.Actor, from, to time.Time) (*domain.AccuracyRecord, error) {
	if err := s.authz.RequireRole(actor, authz.CanView...); err != nil {
		return nil, err
	}
	return engine.CalculateAccuracy(ctx, s.repo.Runs, from, to)
}

// GenerateRecommendations classifies a run's lines A/B/C and persists
// service-level reorder recommendations. FINANCE or OWNER.
func (s *Service) GenerateRecommendations(ctx context.Context, actor authz.Actor, runID string) ([]domain.Recommendation, error) {
	if err := s.authz.RequireRole(actor, authz.CanGenerate...); err != nil {
		return nil, err
	}

	run, err := s.repo.Runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunCompleted {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, domain.ErrInvalidRunState)
	}

	lines, err := s.repo.Runs.ListLines(ctx, runID)
	if err != nil {
		return nil, err
	}

	inputs := make([]policy.ItemForecast, 0, len(lines))
	for _, line := range lines {
		// Quantile approximation: the spread widens as confidence drops.
		half := line.PredictedUsage * (1 - line.Confidence) * 1.65
		inputs = append(inputs, policy.ItemForecast{
			ItemCode:     line.ItemCode,
			Mean:         line.PredictedUsage,
			P05:          math.Max(0, line.PredictedUsage-half),
			P95:          line.PredictedUsage + half,
			HorizonDays:  run.HorizonDays,
			LeadTimeDays: line.LeadTimeDays,
			CurrentStock: line.CurrentStock,
			UnitCost:     s.costs.UnitCost(ctx, run.Tenant, line.ItemCode, run.ForecastDate),
		})
	}

	recs := policy.Recommend(inputs)
	for i := range recs {
		if err := s.repo.Recommendations.Insert(ctx, &recs[i]); err != nil {
			return nil, err
		}
	}

	log.Info().Str("run_id", runID).Int("recommendations", len(recs)).
		Msg("recommendations generated")
	return recs, nil
}

// StreamStats exposes poller state.
func (s *Service) StreamStats() feedback.Stats { return s.stream.Stats() }

// ClearDriftCache drops all drift windows.
func (s *Service) ClearDriftCache() { s.stream.ClearCache() }

// HealthStatus exposes the auditor's state.
func (s *Service) HealthStatus() health.Status { return s.auditor.Status() }

// HealthHistory exposes the bounded audit history.
func (s *Service) HealthHistory() []health.Record { return s.auditor.History() }

// TriggerAudit runs one audit immediately.
func (s *Service) TriggerAudit(ctx context.Context, actor authz.Actor) (*health.Record, error) {
	if err := s.authz.RequireRole(actor, authz.CanGenerate...); err != nil {
		return nil, err
	}
	return s.auditor.TriggerManual(ctx)
}

// retrainCycle is the audit-gated forecast + weight application cycle.
func (s *Service) retrainCycle(ctx context.Context) error {
	if _, _, err := s.governor.ApplyPending(ctx); err != nil {
		return err
	}
	_, err := s.engine.Run(ctx, engine.Options{
		HorizonDays:     s.cfg.Forecast.HorizonDays,
		Actor:           "auditor",
		ShadowMode:      s.cfg.Forecast.ShadowMode,
		ModelVersion:    s.cfg.Forecast.ModelVersion,
		DefaultLeadTime: s.cfg.Forecast.DefaultLeadTime,
		DefaultSafety:   s.cfg.Forecast.DefaultSafety,
	})
	return err
}
