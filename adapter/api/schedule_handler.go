package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diaguru/diaguru/internal/scheduling/application"
	"github.com/diaguru/diaguru/internal/scheduling/domain"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/lock"
	"github.com/diaguru/diaguru/pkg/observability"
)

// requestLockTTL bounds how long one scheduling request may hold the user
// lock; a crashed node frees the user after this.
const requestLockTTL = 60 * time.Second

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (uuid.UUID, bool)
}

// StaticTokenAuthenticator accepts one token mapped to one user, the
// single-tenant deployment shape.
type StaticTokenAuthenticator struct {
	token  string
	userID uuid.UUID
}

// NewStaticTokenAuthenticator creates a single-token authenticator.
func NewStaticTokenAuthenticator(token string, userID uuid.UUID) *StaticTokenAuthenticator {
	return &StaticTokenAuthenticator{token: token, userID: userID}
}

// Authenticate implements Authenticator.
func (a *StaticTokenAuthenticator) Authenticate(token string) (uuid.UUID, bool) {
	if a.token == "" || token != a.token {
		return uuid.Nil, false
	}
	return a.userID, true
}

// ScheduleHandler handles scheduling API requests.
type ScheduleHandler struct {
	service *application.SchedulerService
	auth    Authenticator
	locks   lock.RequestLock
	logger  *slog.Logger
}

// NewScheduleHandler creates a schedule handler. locks may be nil.
func NewScheduleHandler(service *application.SchedulerService, auth Authenticator, locks lock.RequestLock, logger *slog.Logger) *ScheduleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleHandler{
		service: service,
		auth:    auth,
		locks:   locks,
		logger:  logger,
	}
}

// scheduleRequestBody is the wire shape of a scheduling request. The policy
// flags accept the aliases older clients send.
type scheduleRequestBody struct {
	CaptureID             string     `json:"captureId"`
	Action                string     `json:"action"`
	Timezone              string     `json:"timezone"`
	TimezoneOffsetMinutes *int       `json:"timezoneOffsetMinutes"`
	PreferredStart        *time.Time `json:"preferredStart"`
	PreferredEnd          *time.Time `json:"preferredEnd"`

	AllowOverlap       *bool `json:"allowOverlap"`
	AllowDoubleBooking *bool `json:"allowDoubleBooking"`

	AllowRebalance  *bool `json:"allowRebalance"`
	AllowPreemption *bool `json:"allowPreemption"`

	AllowLatePlacement *bool `json:"allowLatePlacement"`
	AllowLate          *bool `json:"allowLate"`
	ScheduleLate       *bool `json:"scheduleLate"`
}

func anySet(flags ...*bool) bool {
	for _, f := range flags {
		if f != nil && *f {
			return true
		}
	}
	return false
}

// ScheduleCapture handles POST /api/v1/schedule-capture.
func (h *ScheduleHandler) ScheduleCapture(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	var body scheduleRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	captureID, err := uuid.Parse(body.CaptureID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "captureId must be a valid UUID")
		return
	}

	if h.locks != nil {
		release, err := h.locks.Acquire(r.Context(), userID.String(), requestLockTTL)
		if err != nil {
			if err == lock.ErrLockHeld {
				writeError(w, http.StatusTooManyRequests, "another scheduling request is in progress")
				return
			}
			h.logger.Error("request lock failed", "error", err)
			writeError(w, http.StatusInternalServerError, "request lock unavailable")
			return
		}
		defer release()
	}

	req := application.ScheduleRequest{
		CaptureID:             captureID,
		UserID:                userID,
		Action:                body.Action,
		Timezone:              body.Timezone,
		TimezoneOffsetMinutes: body.TimezoneOffsetMinutes,
		PreferredStart:        body.PreferredStart,
		PreferredEnd:          body.PreferredEnd,
		AllowOverlap:          anySet(body.AllowOverlap, body.AllowDoubleBooking),
		AllowRebalance:        anySet(body.AllowRebalance, body.AllowPreemption),
		AllowLatePlacement:    anySet(body.AllowLatePlacement, body.AllowLate, body.ScheduleLate),
	}

	ctx := observability.WithUserID(r.Context(), userID.String())
	result, err := h.service.ScheduleCapture(ctx, req)
	if err != nil {
		h.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ScheduleHandler) authenticate(r *http.Request) (uuid.UUID, bool) {
	if h.auth == nil {
		return uuid.Nil, false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return uuid.Nil, false
	}
	return h.auth.Authenticate(token)
}

func (h *ScheduleHandler) writeScheduleError(w http.ResponseWriter, err error) {
	if se, ok := domain.AsScheduleError(err); ok {
		if se.Status >= http.StatusInternalServerError {
			h.logger.Error("scheduling failed", "status", se.Status, "error", err)
		}
		body := map[string]any{
			"error":   http.StatusText(se.Status),
			"message": se.Message,
		}
		if se.Reason != "" {
			body["reason"] = se.Reason
		}
		// Conflict payloads carry the capacity report and alternatives as
		// top-level fields; other statuses keep theirs under details.
		if se.Status == http.StatusConflict {
			for k, v := range se.Details {
				body[k] = v
			}
		} else if len(se.Details) > 0 {
			body["details"] = se.Details
		}
		writeJSON(w, se.Status, body)
		return
	}
	h.logger.Error("scheduling failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
