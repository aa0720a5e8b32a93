package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/database"
)

// PlanRunRepository persists the audit ledger of scheduling runs.
type PlanRunRepository struct {
	conn database.Connection
}

// NewPlanRunRepository creates a plan run repository.
func NewPlanRunRepository(conn database.Connection) *PlanRunRepository {
	return &PlanRunRepository{conn: conn}
}

func (r *PlanRunRepository) rebind(query string) string {
	return r.conn.Driver().Rebind(query)
}

// CreateRun inserts a new plan run.
func (r *PlanRunRepository) CreateRun(ctx context.Context, run domain.PlanRun) error {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := r.rebind(`INSERT INTO plan_runs (id, user_id, summary, created_at)
		VALUES (?, ?, ?, ?)`)
	if _, err := r.conn.Exec(ctx, query,
		run.ID.String(), run.UserID.String(), run.Summary, encodeTime(createdAt),
	); err != nil {
		return fmt.Errorf("create plan run: %w", err)
	}
	return nil
}

// AppendActions writes a batch of actions in one transaction, assigning
// positions after the run's current tail so insertion order survives.
func (r *PlanRunRepository) AppendActions(ctx context.Context, actions []domain.PlanAction) error {
	if len(actions) == 0 {
		return nil
	}
	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin action append: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var position int64
	row := tx.QueryRow(ctx, r.rebind(`SELECT COALESCE(MAX(position), 0) FROM plan_actions WHERE plan_id = ?`),
		actions[0].PlanID.String())
	if err := row.Scan(&position); err != nil {
		return fmt.Errorf("read action position: %w", err)
	}

	insert := r.rebind(`INSERT INTO plan_actions (
			id, plan_id, capture_id, capture_content, kind, position,
			prev_status, prev_planned_start, prev_planned_end,
			prev_event_id, prev_event_etag, prev_freeze_until, prev_plan_id,
			next_status, next_planned_start, next_planned_end,
			next_event_id, next_event_etag, next_freeze_until, next_plan_id,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, action := range actions {
		position++
		id := action.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := action.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, insert,
			id.String(), action.PlanID.String(), action.CaptureID.String(),
			action.CaptureContent, string(action.Kind), position,
			string(action.Prev.Status), encodeTimePtr(action.Prev.PlannedStart), encodeTimePtr(action.Prev.PlannedEnd),
			encodeStringPtr(action.Prev.CalendarEventID), encodeStringPtr(action.Prev.CalendarEventEtag),
			encodeTimePtr(action.Prev.FreezeUntil), encodeUUIDPtr(action.Prev.PlanID),
			string(action.Next.Status), encodeTimePtr(action.Next.PlannedStart), encodeTimePtr(action.Next.PlannedEnd),
			encodeStringPtr(action.Next.CalendarEventID), encodeStringPtr(action.Next.CalendarEventEtag),
			encodeTimePtr(action.Next.FreezeUntil), encodeUUIDPtr(action.Next.PlanID),
			encodeTime(createdAt),
		); err != nil {
			return fmt.Errorf("insert plan action: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// UpdateSummary persists the finalize summary on the run.
func (r *PlanRunRepository) UpdateSummary(ctx context.Context, runID uuid.UUID, summary string) error {
	query := r.rebind(`UPDATE plan_runs SET summary = ? WHERE id = ?`)
	if _, err := r.conn.Exec(ctx, query, summary, runID.String()); err != nil {
		return fmt.Errorf("update run summary: %w", err)
	}
	return nil
}

// ListActions returns the run's actions in insertion order.
func (r *PlanRunRepository) ListActions(ctx context.Context, runID uuid.UUID) ([]domain.PlanAction, error) {
	query := r.rebind(`SELECT id, plan_id, capture_id, capture_content, kind,
			prev_status, prev_planned_start, prev_planned_end,
			prev_event_id, prev_event_etag, prev_freeze_until, prev_plan_id,
			next_status, next_planned_start, next_planned_end,
			next_event_id, next_event_etag, next_freeze_until, next_plan_id,
			created_at
		FROM plan_actions WHERE plan_id = ? ORDER BY position`)
	rows, err := r.conn.Query(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query plan actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.PlanAction
	for rows.Next() {
		action, err := scanPlanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

func scanPlanAction(row database.Row) (*domain.PlanAction, error) {
	var (
		action                      domain.PlanAction
		idStr, planIDStr, capIDStr  string
		kind, createdAt             string
		prevStatus, nextStatus      sql.NullString
		prevStart, prevEnd          sql.NullString
		prevEventID, prevEventEtag  sql.NullString
		prevFreeze, prevPlanID      sql.NullString
		nextStart, nextEnd          sql.NullString
		nextEventID, nextEventEtag  sql.NullString
		nextFreeze, nextPlanID      sql.NullString
	)
	err := row.Scan(
		&idStr, &planIDStr, &capIDStr, &action.CaptureContent, &kind,
		&prevStatus, &prevStart, &prevEnd,
		&prevEventID, &prevEventEtag, &prevFreeze, &prevPlanID,
		&nextStatus, &nextStart, &nextEnd,
		&nextEventID, &nextEventEtag, &nextFreeze, &nextPlanID,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan plan action: %w", err)
	}
	if action.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse action id: %w", err)
	}
	if action.PlanID, err = uuid.Parse(planIDStr); err != nil {
		return nil, fmt.Errorf("parse plan id: %w", err)
	}
	if action.CaptureID, err = uuid.Parse(capIDStr); err != nil {
		return nil, fmt.Errorf("parse action capture id: %w", err)
	}
	action.Kind = domain.ActionKind(kind)
	if action.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}

	if action.Prev, err = scanSnapshot(prevStatus, prevStart, prevEnd, prevEventID, prevEventEtag, prevFreeze, prevPlanID); err != nil {
		return nil, err
	}
	if action.Next, err = scanSnapshot(nextStatus, nextStart, nextEnd, nextEventID, nextEventEtag, nextFreeze, nextPlanID); err != nil {
		return nil, err
	}
	return &action, nil
}

func scanSnapshot(status, start, end, eventID, eventEtag, freeze, planID sql.NullString) (domain.PlacementSnapshot, error) {
	var (
		snap domain.PlacementSnapshot
		err  error
	)
	if status.Valid {
		snap.Status = domain.CaptureStatus(status.String)
	}
	if snap.PlannedStart, err = decodeTimePtr(start); err != nil {
		return snap, err
	}
	if snap.PlannedEnd, err = decodeTimePtr(end); err != nil {
		return snap, err
	}
	snap.CalendarEventID = decodeStringPtr(eventID)
	snap.CalendarEventEtag = decodeStringPtr(eventEtag)
	if snap.FreezeUntil, err = decodeTimePtr(freeze); err != nil {
		return snap, err
	}
	if snap.PlanID, err = decodeUUIDPtr(planID); err != nil {
		return snap, err
	}
	return snap, nil
}
