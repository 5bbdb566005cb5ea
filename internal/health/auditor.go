package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"stockcast/internal/config"
	"stockcast/internal/domain"
	"stockcast/internal/telemetry"
)

// Report is the structure the pluggable audit procedure returns.
type Report struct {
	HealthScore       int      `json:"health_score"` // 0-100
	Status            string   `json:"status"`
	Issues            []string `json:"issues"`
	FixedMutations    int      `json:"fixed_mutations"`
	StockoutRiskCount int      `json:"stockout_risk_count"`
	ShouldRetrain     int      `json:"should_retrain"` // new invoices since last audit
}

// Audit is the external reconciliation procedure.
type Audit interface {
	Run(ctx context.Context) (*Report, error)
}

// RetrainFunc triggers a forecast run plus weight application cycle.
type RetrainFunc func(ctx context.Context) error

// Record is one bounded-history audit entry.
type Record struct {
	Timestamp        time.Time     `json:"timestamp"`
	Score            int           `json:"score"`
	Status           string        `json:"status"`
	Issues           int           `json:"issues"`
	FixedMutations   int           `json:"fixed_mutations"`
	StockoutRisks    int           `json:"stockout_risks"`
	RetrainTriggered bool          `json:"retrain_triggered"`
	Duration         time.Duration `json:"duration"`
	Error            string        `json:"error,omitempty"`
}

// Status is the auditor's externally visible state.
type Status struct {
	Running      bool      `json:"running"`
	AuditRunning bool      `json:"audit_running"`
	LastScore    int       `json:"last_score"`
	LastRun      time.Time `json:"last_run"`
	LastRetrain  time.Time `json:"last_retrain"`
	AuditCount   int64     `json:"audit_count"`
}

// Auditor runs the scheduled health and reconciliation audit. One audit
// executes at a time; retrains triggered from audits respect a global
// cool-down.
type Auditor struct {
	audit   Audit
	retrain RetrainFunc
	metrics telemetry.Metrics
	cfg     config.HealthConfig

	breaker *gobreaker.CircuitBreaker
	cron    *cron.Cron

	mu          sync.Mutex
	running     bool
	inFlight    bool
	lastScore   int
	lastRun     time.Time
	lastRetrain time.Time
	auditCount  int64
	history     []Record
	wg          sync.WaitGroup
}

// NewAuditor creates a health auditor around the pluggable audit
// procedure.
func NewAuditor(audit Audit, retrain RetrainFunc, metrics telemetry.Metrics, cfg config.HealthConfig) *Auditor {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "health-audit",
		Timeout: 5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).
				Str("to", to.String()).Msg("audit circuit breaker state change")
		},
	})

	return &Auditor{
		audit:     audit,
		retrain:   retrain,
		metrics:   metrics,
		cfg:       cfg,
		breaker:   breaker,
		lastScore: -1,
	}
}

// Start schedules the audit on the configured cron expression.
// Idempotent: a second Start while running is a no-op.
func (a *Auditor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(a.cfg.Schedule, func() {
		a.execute(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to parse health schedule %q: %w", a.cfg.Schedule, err)
	}

	c.Start()
	a.cron = c
	a.running = true

	log.Info().Str("schedule", a.cfg.Schedule).Bool("auto_retrain", a.cfg.AutoRetrain).
		Msg("health auditor started")
	return nil
}

// Stop halts the schedule and awaits the in-flight audit. Safe to call
// twice.
func (a *Auditor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	<-c.Stop().Done()
	a.wg.Wait()
	log.Info().Msg("health auditor stopped")
}

// TriggerManual runs one audit immediately, outside the schedule.
func (a *Auditor) TriggerManual(ctx context.Context) (*Record, error) {
	rec := a.execute(ctx)
	if rec == nil {
		return nil, fmt.Errorf("audit already in progress: %w", domain.ErrInvalidArgument)
	}
	return rec, nil
}

// execute runs one audit under the single-flight guard. Returns nil when
// another audit holds the guard.
func (a *Auditor) execute(ctx context.Context) *Record {
	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		log.Debug().Msg("audit skipped, previous execution still running")
		return nil
	}
	a.inFlight = true
	a.wg.Add(1)
	prevScore := a.lastScore
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
		a.wg.Done()
	}()

	start := time.Now()
	auditCtx, cancel := context.WithTimeout(ctx, a.cfg.AuditTimeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.audit.Run(auditCtx)
	})

	rec := Record{Timestamp: start}
	if err != nil {
		rec.Error = err.Error()
		rec.Duration = time.Since(start)
		log.Error().Err(err).Msg("health audit failed")
		a.metrics.IncCounter("audit_alerts", map[string]string{"severity": "error"}, 1)
		a.appendHistory(rec)
		return &rec
	}

	report := result.(*Report)
	rec.Score = report.HealthScore
	rec.Status = report.Status
	rec.Issues = len(report.Issues)
	rec.FixedMutations = report.FixedMutations
	rec.StockoutRisks = report.StockoutRiskCount

	a.metrics.SetGauge("health_score", float64(report.HealthScore))
	a.alert(report, prevScore)
	rec.RetrainTriggered = a.maybeRetrain(ctx, report)

	rec.Duration = time.Since(start)
	a.metrics.ObserveHistogram("audit_duration_seconds", rec.Duration.Seconds())

	a.mu.Lock()
	a.lastScore = report.HealthScore
	a.lastRun = start
	a.auditCount++
	a.mu.Unlock()
	a.appendHistory(rec)

	log.Info().Int("score", report.HealthScore).Str("status", report.Status).
		Int("issues", len(report.Issues)).Dur("duration", rec.Duration).
		Msg("health audit completed")
	return &rec
}

// alert emits severity-tagged alerts per the thresholds.
func (a *Auditor) alert(report *Report, prevScore int) {
	switch {
	case report.HealthScore < a.cfg.AlertCritical:
		a.metrics.IncCounter("audit_alerts", map[string]string{"severity": "critical"}, 1)
		log.Error().Int("score", report.HealthScore).Strs("issues", report.Issues).
			Msg("CRITICAL health alert")
	case report.HealthScore < a.cfg.AlertWarning,
		prevScore >= 0 && prevScore-report.HealthScore > a.cfg.ScoreDropWarning,
		report.StockoutRiskCount > a.cfg.StockoutRiskLimit:
		a.metrics.IncCounter("audit_alerts", map[string]string{"severity": "warning"}, 1)
		log.Warn().Int("score", report.HealthScore).Int("prev_score", prevScore).
			Int("stockout_risks", report.StockoutRiskCount).Msg("health warning")
	}
}

// maybeRetrain triggers the forecast + weight cycle when the report asks
// for it, auto-retrain is enabled and the global cool-down has elapsed.
func (a *Auditor) maybeRetrain(ctx context.Context, report *Report) bool {
	if report.ShouldRetrain <= 0 || !a.cfg.AutoRetrain || a.retrain == nil {
		return false
	}

	a.mu.Lock()
	since := time.Since(a.lastRetrain)
	if !a.lastRetrain.IsZero() && since < a.cfg.RetrainCooldown {
		a.mu.Unlock()
		log.Info().Dur("since_last", since).Dur("cooldown", a.cfg.RetrainCooldown).
			Msg("auto-retrain in cooldown")
		return false
	}
	a.lastRetrain = time.Now()
	a.mu.Unlock()

	log.Info().Int("new_invoices", report.ShouldRetrain).Msg("auto-retrain triggered by audit")
	if err := a.retrain(ctx); err != nil {
		log.Error().Err(err).Msg("auto-retrain cycle failed")
		return false
	}
	return true
}

func (a *Auditor) appendHistory(rec Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, rec)
	if len(a.history) > a.cfg.HistorySize {
		a.history = a.history[len(a.history)-a.cfg.HistorySize:]
	}
}

// Status returns the auditor's current state.
func (a *Auditor) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Running:      a.running,
		AuditRunning: a.inFlight,
		LastScore:    a.lastScore,
		LastRun:      a.lastRun,
		LastRetrain:  a.lastRetrain,
		AuditCount:   a.auditCount,
	}
}

// History returns a copy of the bounded audit history, oldest first.
func (a *Auditor) History() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, len(a.history))
	copy(out, a.history)
	return out
}
