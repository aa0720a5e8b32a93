// Package google implements the calendar gateway against the Google
// Calendar v3 REST API.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// TokenSourceProvider resolves the per-user OAuth token source. Token
// refresh happens inside the source; a refresh failure surfaces as an
// authorization error.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, userID uuid.UUID) (oauth2.TokenSource, error)
}

// Gateway talks to one Google calendar on behalf of each user.
type Gateway struct {
	tokens     TokenSourceProvider
	logger     *slog.Logger
	baseURL    string
	calendarID string
}

// NewGateway creates a Google Calendar gateway against the user's primary
// calendar.
func NewGateway(tokens TokenSourceProvider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		tokens:     tokens,
		logger:     logger,
		baseURL:    defaultBaseURL,
		calendarID: "primary",
	}
}

// WithBaseURL overrides the API base URL, used by tests.
func (g *Gateway) WithBaseURL(baseURL string) *Gateway {
	if baseURL != "" {
		g.baseURL = baseURL
	}
	return g
}

// WithCalendarID targets a specific calendar instead of primary.
func (g *Gateway) WithCalendarID(calendarID string) *Gateway {
	if calendarID != "" {
		g.calendarID = calendarID
	}
	return g
}

func (g *Gateway) client(ctx context.Context, userID uuid.UUID) (*http.Client, error) {
	if g.tokens == nil {
		return nil, fmt.Errorf("oauth tokens not configured: %w", calendarApp.ErrUnauthorized)
	}
	source, err := g.tokens.TokenSource(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("token source: %w: %w", calendarApp.ErrUnauthorized, err)
	}
	// Force the refresh up front so auth death is detected before any
	// mutation is attempted.
	if _, err := source.Token(); err != nil {
		g.logger.Warn("oauth token refresh failed", "error", err)
		return nil, fmt.Errorf("token refresh: %w: %w", calendarApp.ErrUnauthorized, err)
	}
	return &http.Client{
		Timeout:   15 * time.Second,
		Transport: &oauthTransport{base: http.DefaultTransport, source: source},
	}, nil
}

type wireEvent struct {
	ID                 string `json:"id,omitempty"`
	Etag               string `json:"etag,omitempty"`
	Summary            string `json:"summary"`
	ExtendedProperties struct {
		Private map[string]string `json:"private,omitempty"`
	} `json:"extendedProperties,omitempty"`
	Start struct {
		DateTime string `json:"dateTime,omitempty"`
		Date     string `json:"date,omitempty"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime,omitempty"`
		Date     string `json:"date,omitempty"`
	} `json:"end"`
}

func (w wireEvent) toEvent() (calendarApp.Event, bool) {
	ev := calendarApp.Event{
		ID:      w.ID,
		Summary: w.Summary,
		Etag:    w.Etag,
		Private: w.ExtendedProperties.Private,
	}
	switch {
	case w.Start.DateTime != "" && w.End.DateTime != "":
		start, err1 := time.Parse(time.RFC3339, w.Start.DateTime)
		end, err2 := time.Parse(time.RFC3339, w.End.DateTime)
		if err1 != nil || err2 != nil {
			return ev, false
		}
		ev.Start, ev.End = start.UTC(), end.UTC()
	case w.Start.Date != "" && w.End.Date != "":
		start, err1 := time.Parse("2006-01-02", w.Start.Date)
		end, err2 := time.Parse("2006-01-02", w.End.Date)
		if err1 != nil || err2 != nil {
			return ev, false
		}
		ev.Start, ev.End = start, end
		ev.AllDay = true
	default:
		return ev, false
	}
	return ev, true
}

// ListEvents returns all events intersecting [from, to), recurring ones
// expanded into single instances.
func (g *Gateway) ListEvents(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]calendarApp.Event, error) {
	client, err := g.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("timeMin", from.UTC().Format(time.RFC3339))
	query.Set("timeMax", to.UTC().Format(time.RFC3339))
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")
	query.Set("maxResults", "2500")

	listURL := fmt.Sprintf("%s/calendars/%s/events?%s", g.baseURL, url.PathEscape(g.calendarID), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}

	var payload struct {
		Items []wireEvent `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	events := make([]calendarApp.Event, 0, len(payload.Items))
	for _, item := range payload.Items {
		if ev, ok := item.toEvent(); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// CreateEvent inserts a new event and returns it with the provider id and
// version tag.
func (g *Gateway) CreateEvent(ctx context.Context, userID uuid.UUID, draft calendarApp.EventDraft) (*calendarApp.Event, error) {
	client, err := g.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	var w wireEvent
	w.Summary = draft.Summary
	w.ExtendedProperties.Private = draft.Private
	w.Start.DateTime = draft.Start.UTC().Format(time.RFC3339)
	w.End.DateTime = draft.End.UTC().Format(time.RFC3339)

	body, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	insertURL := fmt.Sprintf("%s/calendars/%s/events", g.baseURL, url.PathEscape(g.calendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, insertURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}

	var created wireEvent
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, err
	}
	ev, ok := created.toEvent()
	if !ok {
		return nil, fmt.Errorf("create event: malformed response for event %q", created.ID)
	}
	return &ev, nil
}

// GetEvent fetches a single event, primarily to refresh its version tag.
func (g *Gateway) GetEvent(ctx context.Context, userID uuid.UUID, eventID string) (*calendarApp.Event, error) {
	client, err := g.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	getURL := fmt.Sprintf("%s/calendars/%s/events/%s", g.baseURL, url.PathEscape(g.calendarID), url.PathEscape(eventID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}

	var w wireEvent
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, err
	}
	ev, ok := w.toEvent()
	if !ok {
		return nil, fmt.Errorf("get event: malformed response for event %q", eventID)
	}
	return &ev, nil
}

// DeleteEvent removes an event. A non-empty etag is sent as If-Match so a
// user-edited event is never destroyed from under them.
func (g *Gateway) DeleteEvent(ctx context.Context, userID uuid.UUID, eventID, etag string) error {
	client, err := g.client(ctx, userID)
	if err != nil {
		return err
	}

	deleteURL := fmt.Sprintf("%s/calendars/%s/events/%s", g.baseURL, url.PathEscape(g.calendarID), url.PathEscape(eventID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return err
	}
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return responseError(resp)
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("status=%d body=%s: %w", resp.StatusCode, string(body), calendarApp.ErrUnauthorized)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("status=%d: %w", resp.StatusCode, calendarApp.ErrEventNotFound)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("status=%d: %w", resp.StatusCode, calendarApp.ErrPreconditionFailed)
	default:
		return fmt.Errorf("calendar request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
}

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}
