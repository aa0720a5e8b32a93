package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CaptureRepository defines persistence for captures and their chunks.
type CaptureRepository interface {
	// FindByID loads a capture, returning ErrCaptureNotFound when missing.
	FindByID(ctx context.Context, id uuid.UUID) (*Capture, error)

	// FindScheduledInRange returns the user's scheduled captures whose
	// planned interval intersects [from, to).
	FindScheduledInRange(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*Capture, error)

	// Save persists the full capture row (create or update).
	Save(ctx context.Context, c *Capture) error

	// ReplaceChunks overwrites the capture's chunk records wholesale.
	ReplaceChunks(ctx context.Context, captureID uuid.UUID, chunks []Chunk) error

	// ListChunks returns the capture's chunk records ordered by start.
	ListChunks(ctx context.Context, captureID uuid.UUID) ([]Chunk, error)
}

// PlanRunRepository defines persistence for the audit ledger.
type PlanRunRepository interface {
	// CreateRun inserts a new plan run.
	CreateRun(ctx context.Context, run PlanRun) error

	// AppendActions writes a batch of actions, preserving order.
	AppendActions(ctx context.Context, actions []PlanAction) error

	// UpdateSummary persists the finalize summary on the run.
	UpdateSummary(ctx context.Context, runID uuid.UUID, summary string) error

	// ListActions returns the run's actions in insertion order.
	ListActions(ctx context.Context, runID uuid.UUID) ([]PlanAction, error)
}
