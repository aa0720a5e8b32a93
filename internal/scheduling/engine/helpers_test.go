package engine

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

func utcTime(y int, mo time.Month, d, h, min int) time.Time {
	return time.Date(y, mo, d, h, min, 0, 0, time.UTC)
}

func loadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func ptr[T any](v T) *T {
	return &v
}

func newCapture(importance, estimatedMinutes int, now time.Time) *domain.Capture {
	return &domain.Capture{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Content:          "write quarterly report",
		EstimatedMinutes: estimatedMinutes,
		Importance:       importance,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func ownedEvent(id string, start, end time.Time, captureID uuid.UUID) calendarApp.Event {
	return calendarApp.Event{
		ID:      id,
		Summary: "[DG] write quarterly report",
		Etag:    "v1",
		Start:   start,
		End:     end,
		Private: map[string]string{
			calendarApp.PropOwnedMarker: "true",
			calendarApp.PropCaptureID:   captureID.String(),
		},
	}
}

func externalEvent(id string, start, end time.Time) calendarApp.Event {
	return calendarApp.Event{
		ID:      id,
		Summary: "team standup",
		Etag:    "v1",
		Start:   start,
		End:     end,
	}
}
