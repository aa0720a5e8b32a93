// Package application defines the calendar gateway contract the scheduling
// engine works against. Provider-specific behavior lives in
// internal/calendar/infrastructure.
package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPreconditionFailed is returned when a delete carries a stale
	// version tag. The caller may refetch the tag and retry once.
	ErrPreconditionFailed = errors.New("calendar event version tag is stale")
	// ErrUnauthorized is returned when the provider rejects our credentials
	// after the token refresh attempt.
	ErrUnauthorized = errors.New("calendar authorization rejected")
	// ErrEventNotFound is returned when the referenced event no longer exists.
	ErrEventNotFound = errors.New("calendar event not found")
)

// Private property keys carried on events created by this system.
const (
	PropOwnedMarker      = "diaGuru"
	PropCaptureID        = "capture_id"
	PropActionID         = "action_id"
	PropPrioritySnapshot = "priority_snapshot"
	PropPlanID           = "plan_id"
)

// Event is a provider-neutral calendar event.
type Event struct {
	ID      string
	Summary string
	// Etag is the provider's opaque version tag, required as a precondition
	// on delete so user-edited events are never silently destroyed.
	Etag    string
	Start   time.Time
	End     time.Time
	AllDay  bool
	Private map[string]string
}

// IsOwned reports whether this event was created by the scheduler.
func (e Event) IsOwned() bool {
	return e.Private[PropOwnedMarker] == "true"
}

// CaptureID returns the capture this owned event represents, or uuid.Nil.
func (e Event) CaptureID() uuid.UUID {
	id, err := uuid.Parse(e.Private[PropCaptureID])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// InProgress reports whether the event is running at the given instant.
func (e Event) InProgress(now time.Time) bool {
	return !e.Start.After(now) && e.End.After(now)
}

// EventDraft is the payload for creating a new event.
type EventDraft struct {
	Summary string
	Start   time.Time
	End     time.Time
	Private map[string]string
}

// Gateway abstracts the external calendar provider.
type Gateway interface {
	// ListEvents returns all events intersecting [from, to).
	ListEvents(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]Event, error)

	// CreateEvent inserts a new event and returns it with provider id and
	// version tag populated. Never retried silently: a duplicate insert
	// would double-book the user.
	CreateEvent(ctx context.Context, userID uuid.UUID, draft EventDraft) (*Event, error)

	// GetEvent fetches a single event, primarily to refresh its version tag.
	GetEvent(ctx context.Context, userID uuid.UUID, eventID string) (*Event, error)

	// DeleteEvent removes an event, sending etag as a precondition when
	// non-empty. Returns ErrPreconditionFailed on a stale tag.
	DeleteEvent(ctx context.Context, userID uuid.UUID, eventID, etag string) error
}

// AccountStore records provider account health, e.g. when refresh tokens die.
type AccountStore interface {
	MarkNeedsReconnect(ctx context.Context, userID uuid.UUID) error
}

// BuildOwnedSummary renders the calendar-visible summary for a capture.
// The prefix lets users recognize scheduler-managed events at a glance.
func BuildOwnedSummary(content string) string {
	const prefix = "[DG] "
	const maxLen = 200
	s := prefix + content
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
