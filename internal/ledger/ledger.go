package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"stockcast/internal/authz"
	"stockcast/internal/bus"
	"stockcast/internal/domain"
	"stockcast/internal/persistence"
	"stockcast/internal/telemetry"
)

// Ledger records terminal approve/reject decisions on forecast runs under
// dual control. Runs stay in shadow until approved; even with shadow mode
// off the approval record is mandatory.
type Ledger struct {
	runs      persistence.RunRepo
	approvals persistence.ApprovalRepo
	events    bus.EventBus
	metrics   telemetry.Metrics
}

// New creates an approval ledger.
func New(runs persistence.RunRepo, approvals persistence.ApprovalRepo,
	events bus.EventBus, metrics telemetry.Metrics) *Ledger {
	return &Ledger{runs: runs, approvals: approvals, events: events, metrics: metrics}
}

// RunState is the full decision view of a run.
type RunState struct {
	Run        *domain.ForecastRun    `json:"run"`
	Approvals  []domain.ApprovalEvent `json:"approvals"`
	ByCategory map[string]int         `json:"by_category"`
}

// Approve records the terminal approval of a completed run.
func (l *Ledger) Approve(ctx context.Context, runID string, actor authz.Actor, note string) error {
	return l.decide(ctx, runID, actor, note, domain.ActionApprove, nil)
}

// Reject records the terminal rejection of a completed run. The rejection
// is surfaced on the event bus so the governor can consume it as a
// negative signal.
func (l *Ledger) Reject(ctx context.Context, runID string, actor authz.Actor, note string, reason domain.RejectReason) error {
	if !domain.ValidRejectReason(reason) {
		return fmt.Errorf("reason code %q: %w", reason, domain.ErrInvalidArgument)
	}
	return l.decide(ctx, runID, actor, note, domain.ActionReject, &reason)
}

func (l *Ledger) decide(ctx context.Context, runID string, actor authz.Actor, note string,
	action domain.ApprovalAction, reason *domain.RejectReason) error {
	if note == "" {
		return fmt.Errorf("decision note is required: %w", domain.ErrInvalidArgument)
	}

	run, err := l.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunCompleted {
		return fmt.Errorf("run %s is %s, decisions require completed: %w",
			runID, run.Status, domain.ErrInvalidRunState)
	}
	if run.ApprovalStatus != domain.ApprovalPending {
		return fmt.Errorf("run %s: %w", runID, domain.ErrAlreadyDecided)
	}
	if actor.ID == run.CreatedBy {
		return fmt.Errorf("approver %s created run %s: %w",
			actor.ID, runID, domain.ErrDualControlViolation)
	}

	lines, err := l.runs.ListLines(ctx, runID)
	if err != nil {
		return err
	}

	event := &domain.ApprovalEvent{
		RunID:        runID,
		Action:       action,
		Approver:     actor.ID,
		ApproverRole: string(actor.Role),
		Note:         note,
		ReasonCode:   reason,
		DecidedAt:    time.Now(),
	}
	// Decision-time snapshot so later line edits cannot rewrite history.
	for _, line := range lines {
		event.Snapshot = append(event.Snapshot, domain.LineSnapshot{
			ItemCode:   line.ItemCode,
			OrderQty:   line.OrderQty,
			Confidence: line.Confidence,
		})
		event.TotalOrderQty += line.OrderQty
	}
	event.ItemsAffected = len(lines)

	newStatus := domain.ApprovalApproved
	if action == domain.ActionReject {
		newStatus = domain.ApprovalRejected
	}

	if err := l.approvals.Insert(ctx, event, newStatus); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"run_id":   runID,
		"approver": actor.ID,
		"items":    event.ItemsAffected,
	}
	if action == domain.ActionApprove {
		l.metrics.IncCounter("forecast_approved",
			map[string]string{"items": strconv.Itoa(event.ItemsAffected)}, 1)
		l.events.Emit(ctx, bus.TopicForecastApproved, payload)
	} else {
		payload["reason_code"] = string(*reason)
		l.metrics.IncCounter("forecast_rejected",
			map[string]string{"reason": string(*reason)}, 1)
		l.events.Emit(ctx, bus.TopicForecastRejected, payload)
	}

	log.Info().Str("run_id", runID).Str("action", string(action)).
		Str("approver", actor.ID).Int("items", event.ItemsAffected).
		Msg("forecast run decided")
	return nil
}

// State returns the run, its approval events and a per-category line
// count summary.
func (l *Ledger) State(ctx context.Context, runID string) (*RunState, error) {
	run, err := l.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	approvals, err := l.approvals.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	lines, err := l.runs.ListLines(ctx, runID)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string]int)
	for _, line := range lines {
		byCategory[line.Category]++
	}

	return &RunState{Run: run, Approvals: approvals, ByCategory: byCategory}, nil
}
