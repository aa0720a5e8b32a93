// Package persistence implements the scheduling repositories on the shared
// database abstraction. Queries use `?` placeholders and are rebound for the
// active driver.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/database"
)

const captureColumns = `id, user_id, content, estimated_minutes, importance,
	urgency, impact, reschedule_penalty, status, constraint_kind,
	constraint_time, constraint_end, constraint_date, original_target_time,
	deadline_at, window_start, window_end, start_target_at,
	is_soft_start, cannot_overlap, start_flexibility, duration_flexibility,
	min_chunk_minutes, max_splits, extraction_kind, task_type_hint,
	time_pref_time_of_day, time_pref_day, externality_score, reschedule_count,
	planned_start, planned_end, scheduled_for, calendar_event_id,
	calendar_event_etag, freeze_until, plan_id, manual_touch_at,
	scheduling_notes, created_at, updated_at`

// CaptureRepository persists captures and their chunk records.
type CaptureRepository struct {
	conn database.Connection
}

// NewCaptureRepository creates a capture repository.
func NewCaptureRepository(conn database.Connection) *CaptureRepository {
	return &CaptureRepository{conn: conn}
}

func (r *CaptureRepository) rebind(query string) string {
	return r.conn.Driver().Rebind(query)
}

// FindByID loads a capture by id.
func (r *CaptureRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Capture, error) {
	query := r.rebind(`SELECT ` + captureColumns + ` FROM capture_entries WHERE id = ?`)
	row := r.conn.QueryRow(ctx, query, id.String())
	c, err := scanCapture(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, domain.ErrCaptureNotFound
		}
		return nil, fmt.Errorf("find capture: %w", err)
	}
	return c, nil
}

// FindScheduledInRange returns the user's scheduled captures whose planned
// interval intersects [from, to). Interval filtering happens here rather
// than in SQL because timestamps are stored as text.
func (r *CaptureRepository) FindScheduledInRange(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.Capture, error) {
	query := r.rebind(`SELECT ` + captureColumns + ` FROM capture_entries
		WHERE user_id = ? AND status = ?`)
	rows, err := r.conn.Query(ctx, query, userID.String(), string(domain.StatusScheduled))
	if err != nil {
		return nil, fmt.Errorf("query scheduled captures: %w", err)
	}
	defer rows.Close()

	var result []*domain.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		if c.PlannedStart == nil || c.PlannedEnd == nil {
			continue
		}
		if c.PlannedStart.Before(to) && c.PlannedEnd.After(from) {
			result = append(result, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PlannedStart.Before(*result[j].PlannedStart)
	})
	return result, nil
}

// Save upserts the full capture row.
func (r *CaptureRepository) Save(ctx context.Context, c *domain.Capture) error {
	query := r.rebind(`INSERT INTO capture_entries (` + captureColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			estimated_minutes = excluded.estimated_minutes,
			importance = excluded.importance,
			urgency = excluded.urgency,
			impact = excluded.impact,
			reschedule_penalty = excluded.reschedule_penalty,
			status = excluded.status,
			constraint_kind = excluded.constraint_kind,
			constraint_time = excluded.constraint_time,
			constraint_end = excluded.constraint_end,
			constraint_date = excluded.constraint_date,
			original_target_time = excluded.original_target_time,
			deadline_at = excluded.deadline_at,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			start_target_at = excluded.start_target_at,
			is_soft_start = excluded.is_soft_start,
			cannot_overlap = excluded.cannot_overlap,
			start_flexibility = excluded.start_flexibility,
			duration_flexibility = excluded.duration_flexibility,
			min_chunk_minutes = excluded.min_chunk_minutes,
			max_splits = excluded.max_splits,
			extraction_kind = excluded.extraction_kind,
			task_type_hint = excluded.task_type_hint,
			time_pref_time_of_day = excluded.time_pref_time_of_day,
			time_pref_day = excluded.time_pref_day,
			externality_score = excluded.externality_score,
			reschedule_count = excluded.reschedule_count,
			planned_start = excluded.planned_start,
			planned_end = excluded.planned_end,
			scheduled_for = excluded.scheduled_for,
			calendar_event_id = excluded.calendar_event_id,
			calendar_event_etag = excluded.calendar_event_etag,
			freeze_until = excluded.freeze_until,
			plan_id = excluded.plan_id,
			manual_touch_at = excluded.manual_touch_at,
			scheduling_notes = excluded.scheduling_notes,
			updated_at = excluded.updated_at`)

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	var timePref any
	if c.TimePrefTimeOfDay != nil {
		timePref = string(*c.TimePrefTimeOfDay)
	}

	_, err := r.conn.Exec(ctx, query,
		c.ID.String(), c.UserID.String(), c.Content, c.EstimatedMinutes, c.Importance,
		encodeFloatPtr(c.Urgency), encodeFloatPtr(c.Impact), encodeFloatPtr(c.ReschedulePenalty),
		string(c.Status), string(c.ConstraintKind),
		encodeTimePtr(c.ConstraintTime), encodeTimePtr(c.ConstraintEnd), encodeStringPtr(c.ConstraintDate),
		encodeTimePtr(c.OriginalTargetTime), encodeTimePtr(c.DeadlineAt),
		encodeTimePtr(c.WindowStart), encodeTimePtr(c.WindowEnd), encodeTimePtr(c.StartTargetAt),
		c.IsSoftStart, c.CannotOverlap, string(c.StartFlexibility), string(c.DurationFlexibility),
		encodeIntPtr(c.MinChunkMinutes), encodeIntPtr(c.MaxSplits),
		encodeStringPtr(c.ExtractionKind), encodeStringPtr(c.TaskTypeHint),
		timePref, encodeStringPtr(c.TimePrefDay),
		c.ExternalityScore, c.RescheduleCount,
		encodeTimePtr(c.PlannedStart), encodeTimePtr(c.PlannedEnd), encodeTimePtr(c.ScheduledFor),
		encodeStringPtr(c.CalendarEventID), encodeStringPtr(c.CalendarEventEtag),
		encodeTimePtr(c.FreezeUntil), encodeUUIDPtr(c.PlanID), encodeTimePtr(c.ManualTouchAt),
		encodeStringPtr(c.SchedulingNotes),
		encodeTime(createdAt), encodeTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("save capture: %w", err)
	}
	return nil
}

// ReplaceChunks overwrites the capture's chunk records wholesale.
func (r *CaptureRepository) ReplaceChunks(ctx context.Context, captureID uuid.UUID, chunks []domain.Chunk) error {
	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk replace: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, r.rebind(`DELETE FROM capture_chunks WHERE capture_id = ?`), captureID.String()); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	insert := r.rebind(`INSERT INTO capture_chunks (capture_id, start_at, end_at, prime, late, overlapped)
		VALUES (?, ?, ?, ?, ?, ?)`)
	for _, chunk := range chunks {
		if _, err := tx.Exec(ctx, insert,
			captureID.String(), encodeTime(chunk.Start), encodeTime(chunk.End),
			chunk.Prime, chunk.Late, chunk.Overlapped,
		); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListChunks returns the capture's chunks ordered by start time.
func (r *CaptureRepository) ListChunks(ctx context.Context, captureID uuid.UUID) ([]domain.Chunk, error) {
	query := r.rebind(`SELECT capture_id, start_at, end_at, prime, late, overlapped
		FROM capture_chunks WHERE capture_id = ?`)
	rows, err := r.conn.Query(ctx, query, captureID.String())
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var (
			chunk        domain.Chunk
			idStr        string
			startStr     string
			endStr       string
		)
		if err := rows.Scan(&idStr, &startStr, &endStr, &chunk.Prime, &chunk.Late, &chunk.Overlapped); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if chunk.CaptureID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse chunk capture id: %w", err)
		}
		if chunk.Start, err = decodeTime(startStr); err != nil {
			return nil, err
		}
		if chunk.End, err = decodeTime(endStr); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Start.Before(chunks[j].Start) })
	return chunks, nil
}

func scanCapture(row database.Row) (*domain.Capture, error) {
	var (
		c                 domain.Capture
		idStr, userIDStr  string
		status, kind      string
		startFlex, durFlex string

		urgency, impact, penalty sql.NullFloat64
		constraintTime, constraintEnd, originalTarget, deadlineAt   sql.NullString
		windowStart, windowEnd, startTarget                         sql.NullString
		constraintDate, extractionKind, taskTypeHint                sql.NullString
		timePrefTOD, timePrefDay                                    sql.NullString
		minChunk, maxSplits                                         sql.NullInt64
		plannedStart, plannedEnd, scheduledFor                      sql.NullString
		eventID, eventEtag                                          sql.NullString
		freezeUntil, planID, manualTouch, schedulingNotes           sql.NullString
		createdAt, updatedAt                                        string
	)

	err := row.Scan(
		&idStr, &userIDStr, &c.Content, &c.EstimatedMinutes, &c.Importance,
		&urgency, &impact, &penalty, &status, &kind,
		&constraintTime, &constraintEnd, &constraintDate, &originalTarget,
		&deadlineAt, &windowStart, &windowEnd, &startTarget,
		&c.IsSoftStart, &c.CannotOverlap, &startFlex, &durFlex,
		&minChunk, &maxSplits, &extractionKind, &taskTypeHint,
		&timePrefTOD, &timePrefDay, &c.ExternalityScore, &c.RescheduleCount,
		&plannedStart, &plannedEnd, &scheduledFor, &eventID,
		&eventEtag, &freezeUntil, &planID, &manualTouch,
		&schedulingNotes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse capture id: %w", err)
	}
	if c.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	c.Status = domain.CaptureStatus(status)
	c.ConstraintKind = domain.NormalizeConstraintKind(kind)
	c.StartFlexibility = domain.StartFlexibility(startFlex)
	c.DurationFlexibility = domain.DurationFlexibility(durFlex)

	c.Urgency = decodeFloatPtr(urgency)
	c.Impact = decodeFloatPtr(impact)
	c.ReschedulePenalty = decodeFloatPtr(penalty)
	c.ConstraintDate = decodeStringPtr(constraintDate)
	c.ExtractionKind = decodeStringPtr(extractionKind)
	c.TaskTypeHint = decodeStringPtr(taskTypeHint)
	c.TimePrefDay = decodeStringPtr(timePrefDay)
	c.MinChunkMinutes = decodeIntPtr(minChunk)
	c.MaxSplits = decodeIntPtr(maxSplits)
	c.CalendarEventID = decodeStringPtr(eventID)
	c.CalendarEventEtag = decodeStringPtr(eventEtag)
	c.SchedulingNotes = decodeStringPtr(schedulingNotes)

	if timePrefTOD.Valid && timePrefTOD.String != "" {
		tod := domain.TimeOfDay(timePrefTOD.String)
		c.TimePrefTimeOfDay = &tod
	}

	for _, field := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&c.ConstraintTime, constraintTime},
		{&c.ConstraintEnd, constraintEnd},
		{&c.OriginalTargetTime, originalTarget},
		{&c.DeadlineAt, deadlineAt},
		{&c.WindowStart, windowStart},
		{&c.WindowEnd, windowEnd},
		{&c.StartTargetAt, startTarget},
		{&c.PlannedStart, plannedStart},
		{&c.PlannedEnd, plannedEnd},
		{&c.ScheduledFor, scheduledFor},
		{&c.FreezeUntil, freezeUntil},
		{&c.ManualTouchAt, manualTouch},
	} {
		if *field.dst, err = decodeTimePtr(field.src); err != nil {
			return nil, err
		}
	}
	if c.PlanID, err = decodeUUIDPtr(planID); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
