package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcast/internal/authz"
	"stockcast/internal/bus"
	"stockcast/internal/domain"
	"stockcast/internal/telemetry"
)

type fakeRuns struct {
	runs  map[string]*domain.ForecastRun
	lines map[string][]domain.ForecastLine
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		runs:  make(map[string]*domain.ForecastRun),
		lines: make(map[string][]domain.ForecastLine),
	}
}

func (f *fakeRuns) InsertRun(ctx context.Context, run *domain.ForecastRun) error {
	cp := *run
	f.runs[run.RunID] = &cp
	return nil
}

func (f *fakeRuns) GetRun(ctx context.Context, runID string) (*domain.ForecastRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRuns) InsertLine(ctx context.Context, line *domain.ForecastLine) error {
	f.lines[line.RunID] = append(f.lines[line.RunID], *line)
	return nil
}

func (f *fakeRuns) CompleteRun(ctx context.Context, runID string, items int, avgConf, totalValue float64) error {
	f.runs[runID].Status = domain.RunCompleted
	return nil
}

func (f *fakeRuns) FailRun(ctx context.Context, runID string, msg string) error {
	f.runs[runID].Status = domain.RunFailed
	return nil
}

func (f *fakeRuns) ListLines(ctx context.Context, runID string) ([]domain.ForecastLine, error) {
	return f.lines[runID], nil
}

func (f *fakeRuns) GetLine(ctx context.Context, lineID int64) (*domain.ForecastLine, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeRuns) LinesWithActuals(ctx context.Context, from, to time.Time) ([]domain.ForecastLine, error) {
	return nil, nil
}

// fakeApprovals enforces one terminal decision per run the way the
// transactional repo does.
type fakeApprovals struct {
	runs   *fakeRuns
	events map[string][]domain.ApprovalEvent
}

func newFakeApprovals(runs *fakeRuns) *fakeApprovals {
	return &fakeApprovals{runs: runs, events: make(map[string][]domain.ApprovalEvent)}
}

func (f *fakeApprovals) Insert(ctx context.Context, event *domain.ApprovalEvent, newStatus domain.ApprovalStatus) error {
	run, ok := f.runs.runs[event.RunID]
	if !ok {
		return domain.ErrNotFound
	}
	if run.ApprovalStatus != domain.ApprovalPending || len(f.events[event.RunID]) > 0 {
		return domain.ErrAlreadyDecided
	}
	run.ApprovalStatus = newStatus
	f.events[event.RunID] = append(f.events[event.RunID], *event)
	return nil
}

func (f *fakeApprovals) ListByRun(ctx context.Context, runID string) ([]domain.ApprovalEvent, error) {
	return f.events[runID], nil
}

func seedCompletedRun(t *testing.T, runs *fakeRuns, runID, creator string) {
	t.Helper()
	require.NoError(t, runs.InsertRun(context.Background(), &domain.ForecastRun{
		RunID:          runID,
		CreatedBy:      creator,
		Status:         domain.RunCompleted,
		ApprovalStatus: domain.ApprovalPending,
	}))
	require.NoError(t, runs.InsertLine(context.Background(), &domain.ForecastLine{
		RunID: runID, ItemCode: "MILK", Category: "dairy", OrderQty: 17, Confidence: 0.9,
	}))
	require.NoError(t, runs.InsertLine(context.Background(), &domain.ForecastLine{
		RunID: runID, ItemCode: "RICE", Category: "dry", OrderQty: 5, Confidence: 0.7,
	}))
}

func newTestLedger(runs *fakeRuns) (*Ledger, *bus.InMemoryBus) {
	b := bus.NewInMemoryBus()
	return New(runs, newFakeApprovals(runs), b, telemetry.Nop{}), b
}

func TestDualControl(t *testing.T) {
	runs := newFakeRuns()
	seedCompletedRun(t, runs, "run-1", "alice@co")
	l, _ := newTestLedger(runs)
	ctx := context.Background()

	// The creator may not approve their own run, whatever their role.
	err := l.Approve(ctx, "run-1", authz.Actor{ID: "alice@co", Role: authz.RoleOwner}, "ok")
	assert.ErrorIs(t, err, domain.ErrDualControlViolation)

	run, _ := runs.GetRun(ctx, "run-1")
	assert.Equal(t, domain.ApprovalPending, run.ApprovalStatus)

	// A different approver succeeds.
	err = l.Approve(ctx, "run-1", authz.Actor{ID: "bob@co", Role: authz.RoleFinance}, "ok")
	require.NoError(t, err)

	run, _ = runs.GetRun(ctx, "run-1")
	assert.Equal(t, domain.ApprovalApproved, run.ApprovalStatus)

	// The decision is terminal.
	err = l.Approve(ctx, "run-1", authz.Actor{ID: "carol@co", Role: authz.RoleFinance}, "me too")
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
}

func TestApproveRequiresCompletedRun(t *testing.T) {
	runs := newFakeRuns()
	require.NoError(t, runs.InsertRun(context.Background(), &domain.ForecastRun{
		RunID: "run-1", CreatedBy: "alice@co",
		Status: domain.RunRunning, ApprovalStatus: domain.ApprovalPending,
	}))
	l, _ := newTestLedger(runs)

	err := l.Approve(context.Background(), "run-1", authz.Actor{ID: "bob@co", Role: authz.RoleFinance}, "ok")
	assert.ErrorIs(t, err, domain.ErrInvalidRunState)
}

func TestApproveRequiresNote(t *testing.T) {
	runs := newFakeRuns()
	seedCompletedRun(t, runs, "run-1", "alice@co")
	l, _ := newTestLedger(runs)

	err := l.Approve(context.Background(), "run-1", authz.Actor{ID: "bob@co", Role: authz.RoleFinance}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRejectValidatesReasonCode(t *testing.T) {
	runs := newFakeRuns()
	seedCompletedRun(t, runs, "run-1", "alice@co")
	l, _ := newTestLedger(runs)

	err := l.Reject(context.Background(), "run-1",
		authz.Actor{ID: "bob@co", Role: authz.RoleFinance}, "bad numbers", "vibes")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRejectEmitsEventWithReason(t *testing.T) {
	runs := newFakeRuns()
	seedCompletedRun(t, runs, "run-1", "alice@co")
	l, b := newTestLedger(runs)

	var gotReason string
	b.Subscribe(bus.TopicForecastRejected, func(ctx context.Context, ev bus.Event) {
		gotReason, _ = ev.Payload["reason_code"].(string)
	})

	err := l.Reject(context.Background(), "run-1",
		authz.Actor{ID: "bob@co", Role: authz.RoleFinance}, "way over", domain.ReasonTooHigh)
	require.NoError(t, err)

	assert.Equal(t, string(domain.ReasonTooHigh), gotReason)
	assert.Equal(t, 1, b.PublishedCount(bus.TopicForecastRejected))

	run, _ := runs.GetRun(context.Background(), "run-1")
	assert.Equal(t, domain.ApprovalRejected, run.ApprovalStatus)
}

func TestDecisionSnapshotsLines(t *testing.T) {
	runs := newFakeRuns()
	seedCompletedRun(t, runs, "run-1", "alice@co")
	l, _ := newTestLedger(runs)
	ctx := context.Background()

	require.NoError(t, l.Approve(ctx, "run-1", authz.Actor{ID: "bob@co", Role: authz.RoleFinance}, "ok"))

	state, err := l.State(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, state.Approvals, 1)

	event := state.Approvals[0]
	assert.Equal(t, domain.ActionApprove, event.Action)
	assert.Equal(t, "bob@co", event.Approver)
	assert.Equal(t, 2, event.ItemsAffected)
	assert.Equal(t, 22, event.TotalOrderQty)
	require.Len(t, event.Snapshot, 2)
	assert.Equal(t, "MILK", event.Snapshot[0].ItemCode)
	assert.Equal(t, 17, event.Snapshot[0].OrderQty)
}

func TestStateSummarizesByCategory(t *testing.T) {
	runs := newFakeRuns()
	seedCompletedRun(t, runs, "run-1", "alice@co")
	l, _ := newTestLedger(runs)

	state, err := l.State(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"dairy": 1, "dry": 1}, state.ByCategory)
}
