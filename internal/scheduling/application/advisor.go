package application

import (
	"context"
	"time"

	"github.com/diaguru/diaguru/internal/scheduling/domain"
)

// Advisor action verbs returned by the conflict advisor.
const (
	AdvisorActionSuggestSlot = "suggest_slot"
	AdvisorActionAskOverlap  = "ask_overlap"
	AdvisorActionDefer       = "defer"
)

// AdvisorConflict summarizes one blocking event for the advisor prompt.
type AdvisorConflict struct {
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Owned   bool      `json:"owned"`
}

// AdvisorInput is the structured context handed to the conflict advisor.
type AdvisorInput struct {
	CaptureContent   string            `json:"capture_content"`
	EstimatedMinutes int               `json:"estimated_minutes"`
	Preferred        *domain.TimeSlot  `json:"preferred,omitempty"`
	Suggestion       *domain.TimeSlot  `json:"suggestion,omitempty"`
	Conflicts        []AdvisorConflict `json:"conflicts"`
	Timezone         string            `json:"timezone"`
	BusySummary      []string          `json:"busy_summary"`
}

// AdvisorReply is the advisor's JSON-shaped answer. Slot, when present, has
// already been validated against the working window and busy intervals.
type AdvisorReply struct {
	Action  string           `json:"action"`
	Message string           `json:"message"`
	Slot    *domain.TimeSlot `json:"slot,omitempty"`
}

// ConflictAdvisor proposes a resolution when no automatic commit is
// possible. Implementations must be side-effect free; a nil reply with a
// nil error means the advisor declined to answer.
type ConflictAdvisor interface {
	Advise(ctx context.Context, input AdvisorInput) (*AdvisorReply, error)
}
