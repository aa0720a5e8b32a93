package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// planLedger buffers the audit trail of one scheduling request. The run row
// is created lazily on the first recorded mutation; buffered actions are
// written in a single batch on finalize together with the run summary.
// Requests that mutate nothing leave no trace.
type planLedger struct {
	repo    domain.PlanRunRepository
	userID  uuid.UUID
	runID   uuid.UUID
	created bool
	actions []domain.PlanAction
}

func newPlanLedger(repo domain.PlanRunRepository, userID uuid.UUID) *planLedger {
	return &planLedger{repo: repo, userID: userID, runID: uuid.New()}
}

// RunID returns the stable id of this run, valid before the row exists so
// commits can stamp plan_id on captures and calendar events up front.
func (l *planLedger) RunID() uuid.UUID { return l.runID }

func (l *planLedger) ensure(ctx context.Context) error {
	if l.created {
		return nil
	}
	run := domain.PlanRun{ID: l.runID, UserID: l.userID, CreatedAt: time.Now().UTC()}
	if err := l.repo.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create plan run: %w", err)
	}
	l.created = true
	return nil
}

// Record buffers one capture mutation. Insertion order is the audit order.
func (l *planLedger) Record(ctx context.Context, c *domain.Capture, kind domain.ActionKind, prev, next domain.PlacementSnapshot) error {
	if err := l.ensure(ctx); err != nil {
		return err
	}
	l.actions = append(l.actions, domain.PlanAction{
		ID:             uuid.New(),
		PlanID:         l.runID,
		CaptureID:      c.ID,
		CaptureContent: c.Content,
		Kind:           kind,
		Prev:           prev,
		Next:           next,
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

// Summary renders the current action tally.
func (l *planLedger) Summary() string {
	return domain.SummarizeActions(l.actions)
}

// Finalize writes the buffered actions and the run summary. A no-op when
// nothing was recorded.
func (l *planLedger) Finalize(ctx context.Context) error {
	if !l.created {
		return nil
	}
	if len(l.actions) > 0 {
		if err := l.repo.AppendActions(ctx, l.actions); err != nil {
			return fmt.Errorf("append plan actions: %w", err)
		}
	}
	if err := l.repo.UpdateSummary(ctx, l.runID, l.Summary()); err != nil {
		return fmt.Errorf("update plan summary: %w", err)
	}
	return nil
}
