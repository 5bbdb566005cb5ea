package feedback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcast/internal/domain"
	"stockcast/internal/telemetry"
)

type fakeFeedbackRepo struct {
	mu      sync.Mutex
	entries []domain.FeedbackEntry
}

func (f *fakeFeedbackRepo) Insert(ctx context.Context, entry *domain.FeedbackEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.LineID == entry.LineID && e.Type == entry.Type {
			return fmt.Errorf("duplicate feedback: %w", domain.ErrInvalidArgument)
		}
	}
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeFeedbackRepo) MaxID(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return 0, nil
	}
	return f.entries[len(f.entries)-1].ID, nil
}

func (f *fakeFeedbackRepo) ListAfter(ctx context.Context, afterID int64, batch int) ([]domain.FeedbackEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FeedbackEntry
	for _, e := range f.entries {
		if e.ID > afterID && len(out) < batch {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeFeedbackRepo) ListUnapplied(ctx context.Context, limit int) ([]domain.FeedbackEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FeedbackEntry
	for _, e := range f.entries {
		if !e.Applied && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeFeedbackRepo) MarkApplied(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries[i].Applied = true
			f.entries[i].AppliedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeFeedbackRepo) RecentByItem(ctx context.Context, itemCode string, n int) ([]domain.FeedbackEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FeedbackEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < n; i-- {
		if f.entries[i].ItemCode == itemCode {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

type fakeWeightRepo struct {
	mu     sync.Mutex
	byItem map[string]domain.WeightVector
}

func (f *fakeWeightRepo) Get(ctx context.Context, itemCode string) (*domain.WeightVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byItem[itemCode]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &w, nil
}

func (f *fakeWeightRepo) Upsert(ctx context.Context, itemCode string, w domain.WeightVector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byItem == nil {
		f.byItem = make(map[string]domain.WeightVector)
	}
	f.byItem[itemCode] = w
	return nil
}

type fakeRunRepo struct {
	lines map[string][]domain.ForecastLine
}

func (f *fakeRunRepo) InsertRun(ctx context.Context, run *domain.ForecastRun) error { return nil }
func (f *fakeRunRepo) GetRun(ctx context.Context, runID string) (*domain.ForecastRun, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeRunRepo) InsertLine(ctx context.Context, line *domain.ForecastLine) error { return nil }
func (f *fakeRunRepo) CompleteRun(ctx context.Context, runID string, items int, avgConf, totalValue float64) error {
	return nil
}
func (f *fakeRunRepo) FailRun(ctx context.Context, runID string, msg string) error { return nil }
func (f *fakeRunRepo) ListLines(ctx context.Context, runID string) ([]domain.ForecastLine, error) {
	return f.lines[runID], nil
}
func (f *fakeRunRepo) GetLine(ctx context.Context, lineID int64) (*domain.ForecastLine, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeRunRepo) LinesWithActuals(ctx context.Context, from, to time.Time) ([]domain.ForecastLine, error) {
	return nil, nil
}

func newTestGovernor(repo *fakeFeedbackRepo, weights *fakeWeightRepo) *Governor {
	return NewGovernor(repo, weights, &fakeRunRepo{}, telemetry.Nop{}, time.Hour)
}

func menuAdjustment(lineID int64) *domain.FeedbackEntry {
	return &domain.FeedbackEntry{
		LineID:       lineID,
		ItemCode:     "Y",
		Type:         domain.FeedbackAdjustment,
		OriginalPred: 100,
		Adjustment:   130,
		Delta:        30,
		DeltaPct:     30,
		MAPE:         30,
		Reason:       "menu change",
		SubmittedBy:  "ops@co",
		SubmittedAt:  time.Now(),
	}
}

func TestApplyMenuFeedbackShiftsWeights(t *testing.T) {
	repo := &fakeFeedbackRepo{}
	weights := &fakeWeightRepo{}
	g := newTestGovernor(repo, weights)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, menuAdjustment(1)))

	applied, items, err := g.ApplyPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, []string{"Y"}, items)

	w, err := weights.Get(ctx, "Y")
	require.NoError(t, err)
	assert.InDelta(t, 0.35, w.UsageHistory, 1e-9)
	assert.InDelta(t, 0.25, w.Population, 1e-9)
	assert.InDelta(t, 0.20, w.MenuRotation, 1e-9)
	assert.InDelta(t, 0.10, w.ParLevel, 1e-9)
	assert.InDelta(t, 0.10, w.Seasonality, 1e-9)
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)

	// Re-application is a no-op: the entry is consumed.
	applied, _, err = g.ApplyPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	after, _ := weights.Get(ctx, "Y")
	assert.Equal(t, *w, *after)
}

func TestApplySmallDeltaConsumesWithoutChange(t *testing.T) {
	repo := &fakeFeedbackRepo{}
	weights := &fakeWeightRepo{}
	g := newTestGovernor(repo, weights)
	ctx := context.Background()

	entry := menuAdjustment(1)
	entry.Adjustment = 105
	entry.Delta = 5
	entry.DeltaPct = 5 // under the 10% floor
	require.NoError(t, repo.Insert(ctx, entry))

	applied, _, err := g.ApplyPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	_, err = weights.Get(ctx, "Y")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Consumed regardless.
	pending, _ := repo.ListUnapplied(ctx, 10)
	assert.Empty(t, pending)
}

func TestProposeAdjustment(t *testing.T) {
	cases := []struct {
		name   string
		entry  *domain.FeedbackEntry
		expect map[domain.SignalKind]float64
	}{
		{
			"menu reason",
			&domain.FeedbackEntry{Type: domain.FeedbackAdjustment, DeltaPct: 30, Reason: "menu change"},
			map[domain.SignalKind]float64{domain.SignalMenuRotation: 0.05, domain.SignalUsageHistory: -0.05},
		},
		{
			"population reason",
			&domain.FeedbackEntry{Type: domain.FeedbackAdjustment, DeltaPct: -25, Reason: "population dropped"},
			map[domain.SignalKind]float64{domain.SignalPopulation: 0.05, domain.SignalUsageHistory: -0.05},
		},
		{
			"unparseable reason",
			&domain.FeedbackEntry{Type: domain.FeedbackAdjustment, DeltaPct: 30, Reason: "felt like it"},
			nil,
		},
		{
			"small delta",
			&domain.FeedbackEntry{Type: domain.FeedbackAdjustment, DeltaPct: 8, Reason: "menu change"},
			nil,
		},
		{
			"non-adjustment type",
			&domain.FeedbackEntry{Type: domain.FeedbackApproval, DeltaPct: 30, Reason: "menu change"},
			nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ProposeAdjustment(tc.entry)
			if tc.expect == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			for kind, want := range tc.expect {
				assert.InDelta(t, want, got[kind], 1e-9, "signal %s", kind)
			}
		})
	}
}

func TestApplyBoundedInvariants(t *testing.T) {
	current := domain.DefaultWeights()
	// A delta far beyond the cap.
	next := applyBounded(current, map[domain.SignalKind]float64{
		domain.SignalMenuRotation: 0.9,
		domain.SignalUsageHistory: -0.9,
	})

	assert.InDelta(t, 1.0, next.Sum(), 1e-9)
	require.NoError(t, next.Validate())
	for _, kind := range domain.AllSignals() {
		step := math.Abs(next.Get(kind) - current.Get(kind))
		// Renormalization may nudge the capped step slightly; the pre-scale
		// bound is 0.20 and the post-scale drift stays well inside 0.21.
		assert.LessOrEqual(t, step, 0.21, "signal %s moved %f", kind, step)
	}
}

func TestRetrainItemRespectsCooldown(t *testing.T) {
	repo := &fakeFeedbackRepo{}
	weights := &fakeWeightRepo{}
	g := newTestGovernor(repo, weights)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, menuAdjustment(1)))
	require.NoError(t, g.RetrainItem(ctx, "Y"))

	w, err := weights.Get(ctx, "Y")
	require.NoError(t, err)

	// Another entry arrives; a second retrain inside the cool-down leaves
	// it pending.
	require.NoError(t, repo.Insert(ctx, menuAdjustment(2)))
	require.NoError(t, g.RetrainItem(ctx, "Y"))

	after, _ := weights.Get(ctx, "Y")
	assert.Equal(t, *w, *after)

	pending, _ := repo.ListUnapplied(ctx, 10)
	assert.Len(t, pending, 1)
}

func TestOnRunRejectedRecordsFeedback(t *testing.T) {
	repo := &fakeFeedbackRepo{}
	runs := &fakeRunRepo{lines: map[string][]domain.ForecastLine{
		"run-1": {
			{ID: 11, RunID: "run-1", ItemCode: "MILK", PredictedUsage: 10},
			{ID: 12, RunID: "run-1", ItemCode: "RICE", PredictedUsage: 4},
		},
	}}
	g := NewGovernor(repo, &fakeWeightRepo{}, runs, telemetry.Nop{}, time.Hour)
	ctx := context.Background()

	g.OnRunRejected(ctx, "run-1", "too_high")
	entries, _ := repo.ListAfter(ctx, 0, 10)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.FeedbackRejection, entries[0].Type)
	assert.InDelta(t, 100.0, entries[0].MAPE, 1e-9)
	assert.Equal(t, "ledger", entries[0].SubmittedBy)

	// Replay is idempotent: duplicate line+type rows are skipped.
	g.OnRunRejected(ctx, "run-1", "too_high")
	entries, _ = repo.ListAfter(ctx, 0, 10)
	assert.Len(t, entries, 2)
}
