package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcast/internal/config"
	"stockcast/internal/domain"
	"stockcast/internal/telemetry"
)

type scriptedAudit struct {
	mu      sync.Mutex
	reports []*Report
	calls   int
	block   chan struct{} // when set, Run waits until closed
}

func (s *scriptedAudit) Run(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if idx >= len(s.reports) {
		idx = len(s.reports) - 1
	}
	return s.reports[idx], nil
}

type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counters: make(map[string]float64), gauges: make(map[string]float64)}
}

func (m *countingMetrics) IncCounter(name string, labels map[string]string, n float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name
	if sev := labels["severity"]; sev != "" {
		key += ":" + sev
	}
	m.counters[key] += n
}

func (m *countingMetrics) SetGauge(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = v
}

func (m *countingMetrics) ObserveHistogram(string, float64) {}

func (m *countingMetrics) counter(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		Schedule:          "0 */6 * * *",
		AutoRetrain:       false,
		RetrainCooldown:   24 * time.Hour,
		AlertCritical:     60,
		AlertWarning:      75,
		ScoreDropWarning:  15,
		StockoutRiskLimit: 10,
		AuditTimeout:      time.Minute,
		HistorySize:       100,
	}
}

func TestTriggerManualRecordsAudit(t *testing.T) {
	audit := &scriptedAudit{reports: []*Report{{HealthScore: 92, Status: "healthy"}}}
	metrics := newCountingMetrics()
	a := NewAuditor(audit, nil, metrics, testHealthConfig())

	rec, err := a.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 92, rec.Score)
	assert.Equal(t, "healthy", rec.Status)
	assert.False(t, rec.RetrainTriggered)

	status := a.Status()
	assert.Equal(t, 92, status.LastScore)
	assert.Equal(t, int64(1), status.AuditCount)
	assert.InDelta(t, 92.0, metrics.gauges["health_score"], 1e-9)
}

func TestCriticalScoreAlerts(t *testing.T) {
	audit := &scriptedAudit{reports: []*Report{
		{HealthScore: 45, Status: "critical", Issues: []string{"stock ledger broken"}},
	}}
	metrics := newCountingMetrics()
	a := NewAuditor(audit, nil, metrics, testHealthConfig())

	_, err := a.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics.counter("audit_alerts:critical"))
}

func TestScoreDropWarns(t *testing.T) {
	audit := &scriptedAudit{reports: []*Report{
		{HealthScore: 95, Status: "healthy"},
		{HealthScore: 78, Status: "degraded"}, // 17-point drop > 15
	}}
	metrics := newCountingMetrics()
	a := NewAuditor(audit, nil, metrics, testHealthConfig())

	_, err := a.TriggerManual(context.Background())
	require.NoError(t, err)
	_, err = a.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics.counter("audit_alerts:warning"))
}

func TestAutoRetrainRespectsCooldown(t *testing.T) {
	audit := &scriptedAudit{reports: []*Report{
		{HealthScore: 90, Status: "healthy", ShouldRetrain: 3},
	}}
	cfg := testHealthConfig()
	cfg.AutoRetrain = true

	retrains := 0
	retrain := func(ctx context.Context) error {
		retrains++
		return nil
	}
	a := NewAuditor(audit, retrain, telemetry.Nop{}, cfg)

	rec, err := a.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.RetrainTriggered)
	assert.Equal(t, 1, retrains)

	// Still wanting a retrain, but inside the 24h cool-down.
	rec, err = a.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.RetrainTriggered)
	assert.Equal(t, 1, retrains)
}

func TestAutoRetrainDisabledByDefault(t *testing.T) {
	audit := &scriptedAudit{reports: []*Report{
		{HealthScore: 90, Status: "healthy", ShouldRetrain: 3},
	}}

	retrains := 0
	a := NewAuditor(audit, func(ctx context.Context) error { retrains++; return nil },
		telemetry.Nop{}, testHealthConfig())

	rec, err := a.TriggerManual(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.RetrainTriggered)
	assert.Zero(t, retrains)
}

func TestSingleFlight(t *testing.T) {
	block := make(chan struct{})
	audit := &scriptedAudit{
		reports: []*Report{{HealthScore: 90, Status: "healthy"}},
		block:   block,
	}
	a := NewAuditor(audit, nil, telemetry.Nop{}, testHealthConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.TriggerManual(context.Background())
	}()

	// Wait until the first audit holds the guard.
	deadline := time.After(2 * time.Second)
	for !a.Status().AuditRunning {
		select {
		case <-deadline:
			t.Fatal("first audit never started")
		case <-time.After(2 * time.Millisecond):
		}
	}

	_, err := a.TriggerManual(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	close(block)
	<-done
	assert.Equal(t, int64(1), a.Status().AuditCount)
}

func TestHistoryIsBounded(t *testing.T) {
	audit := &scriptedAudit{reports: []*Report{{HealthScore: 90, Status: "healthy"}}}
	cfg := testHealthConfig()
	cfg.HistorySize = 2
	a := NewAuditor(audit, nil, telemetry.Nop{}, cfg)

	for i := 0; i < 5; i++ {
		_, err := a.TriggerManual(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, a.History(), 2)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := testHealthConfig()
	cfg.Schedule = "not a cron line"
	a := NewAuditor(&scriptedAudit{reports: []*Report{{}}}, nil, telemetry.Nop{}, cfg)
	assert.Error(t, a.Start())
}

func TestStartStopIdempotent(t *testing.T) {
	a := NewAuditor(&scriptedAudit{reports: []*Report{{HealthScore: 90}}}, nil,
		telemetry.Nop{}, testHealthConfig())

	require.NoError(t, a.Start())
	require.NoError(t, a.Start())
	a.Stop()
	a.Stop()
	assert.False(t, a.Status().Running)
}
