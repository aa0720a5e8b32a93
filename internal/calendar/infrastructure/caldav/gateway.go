// Package caldav implements the calendar gateway against a CalDAV server
// (Apple Calendar, Fastmail, Nextcloud, etc.).
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
)

// Common CalDAV server URLs.
const (
	AppleCalDAVURL    = "https://caldav.icloud.com"
	FastmailCalDAVURL = "https://caldav.fastmail.com"
)

// Private properties are carried as X- iCalendar properties.
const (
	propOwned      = "X-DIAGURU"
	propPrefix     = "X-DIAGURU-"
	productID      = "-//diaGuru//Scheduler//EN"
	uidSuffix      = ".ics"
	requestTimeout = 30 * time.Second
)

// Gateway talks to one CalDAV calendar collection with basic auth.
type Gateway struct {
	baseURL      string
	username     string
	password     string // app-specific password for Apple
	calendarPath string // specific calendar path, or empty for default
	logger       *slog.Logger
}

// NewGateway creates a CalDAV calendar gateway.
func NewGateway(baseURL, username, password string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		baseURL:  baseURL,
		username: username,
		password: password,
		logger:   logger,
	}
}

// WithCalendarPath sets the specific calendar path to use.
func (g *Gateway) WithCalendarPath(path string) *Gateway {
	g.calendarPath = path
	return g
}

// ListEvents returns events intersecting [from, to).
func (g *Gateway) ListEvents(ctx context.Context, _ uuid.UUID, from, to time.Time) ([]calendarApp.Event, error) {
	client, err := g.getClient()
	if err != nil {
		return nil, err
	}
	calPath, err := g.findCalendarPath(ctx, client)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Props: []string{"VERSION"},
			Comps: []caldav.CalendarCompRequest{
				{
					Name:     "VEVENT",
					AllProps: true,
				},
			},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}
	objects, err := client.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, g.mapError("query calendar", err)
	}

	events := make([]calendarApp.Event, 0, len(objects))
	for i := range objects {
		if ev := parseCalendarObject(&objects[i]); ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

// CreateEvent puts a new event object; the object path doubles as the
// event id.
func (g *Gateway) CreateEvent(ctx context.Context, _ uuid.UUID, draft calendarApp.EventDraft) (*calendarApp.Event, error) {
	client, err := g.getClient()
	if err != nil {
		return nil, err
	}
	calPath, err := g.findCalendarPath(ctx, client)
	if err != nil {
		return nil, err
	}

	uid := uuid.New().String()
	eventPath := calPath + uid + uidSuffix
	cal := toICalendar(uid, draft)

	obj, err := client.PutCalendarObject(ctx, eventPath, cal)
	if err != nil {
		return nil, g.mapError("put calendar object", err)
	}

	ev := calendarApp.Event{
		ID:      eventPath,
		Summary: draft.Summary,
		Start:   draft.Start,
		End:     draft.End,
		Private: draft.Private,
	}
	if obj != nil {
		ev.Etag = obj.ETag
	}
	return &ev, nil
}

// GetEvent fetches a single event by its object path.
func (g *Gateway) GetEvent(ctx context.Context, _ uuid.UUID, eventID string) (*calendarApp.Event, error) {
	client, err := g.getClient()
	if err != nil {
		return nil, err
	}
	obj, err := client.GetCalendarObject(ctx, eventID)
	if err != nil {
		return nil, g.mapError("get calendar object", err)
	}
	ev := parseCalendarObject(obj)
	if ev == nil {
		return nil, calendarApp.ErrEventNotFound
	}
	return ev, nil
}

// DeleteEvent removes an event. The WebDAV client offers no conditional
// delete, so the version check is fetch-and-compare: a changed tag aborts
// before the removal.
func (g *Gateway) DeleteEvent(ctx context.Context, _ uuid.UUID, eventID, etag string) error {
	client, err := g.getClient()
	if err != nil {
		return err
	}
	if etag != "" {
		obj, err := client.GetCalendarObject(ctx, eventID)
		if err != nil {
			return g.mapError("get calendar object", err)
		}
		if obj.ETag != "" && obj.ETag != etag {
			return calendarApp.ErrPreconditionFailed
		}
	}
	if err := client.RemoveAll(ctx, eventID); err != nil {
		return g.mapError("remove calendar object", err)
	}
	return nil
}

func (g *Gateway) getClient() (*caldav.Client, error) {
	httpClient := &http.Client{Timeout: requestTimeout}
	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, g.username, g.password), g.baseURL)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	return client, nil
}

func (g *Gateway) findCalendarPath(ctx context.Context, client *caldav.Client) (string, error) {
	if g.calendarPath != "" {
		return g.calendarPath, nil
	}
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", g.mapError("find principal", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", g.mapError("find calendar home set", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", g.mapError("find calendars", err)
	}
	if len(cals) == 0 {
		return "", fmt.Errorf("no calendars found")
	}
	return cals[0].Path, nil
}

// mapError folds WebDAV HTTP failures onto the gateway's sentinel errors.
// The client library wraps status codes in unexported types, so the
// mapping falls back to the rendered status text.
func (g *Gateway) mapError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return fmt.Errorf("%s: %w", op, calendarApp.ErrUnauthorized)
	case strings.Contains(msg, "412"):
		return fmt.Errorf("%s: %w", op, calendarApp.ErrPreconditionFailed)
	case strings.Contains(msg, "404") || strings.Contains(msg, "410"):
		return fmt.Errorf("%s: %w", op, calendarApp.ErrEventNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// toICalendar renders a draft as a VCALENDAR with the private properties
// encoded as X-DIAGURU properties.
func toICalendar(uid string, draft calendarApp.EventDraft) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, draft.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, draft.End.UTC())
	event.Props.SetText(ical.PropSummary, draft.Summary)

	for key, value := range draft.Private {
		name := propOwned
		if key != calendarApp.PropOwnedMarker {
			name = propPrefix + strings.ToUpper(strings.ReplaceAll(key, "_", "-"))
		}
		prop := ical.NewProp(name)
		prop.Value = value
		event.Props[name] = []ical.Prop{*prop}
	}

	cal.Children = append(cal.Children, event.Component)
	return cal
}

// parseCalendarObject maps a CalDAV object onto the gateway event shape.
func parseCalendarObject(obj *caldav.CalendarObject) *calendarApp.Event {
	if obj == nil || obj.Data == nil {
		return nil
	}
	for _, child := range obj.Data.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		ev := &calendarApp.Event{
			ID:      obj.Path,
			Etag:    obj.ETag,
			Private: map[string]string{},
		}
		if props := child.Props[ical.PropSummary]; len(props) > 0 {
			ev.Summary = props[0].Value
		}
		for name, props := range child.Props {
			if len(props) == 0 {
				continue
			}
			switch {
			case name == propOwned:
				ev.Private[calendarApp.PropOwnedMarker] = props[0].Value
			case strings.HasPrefix(name, propPrefix):
				key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, propPrefix), "-", "_"))
				ev.Private[key] = props[0].Value
			}
		}

		icalEvent := &ical.Event{Component: child}
		start, err := icalEvent.DateTimeStart(time.UTC)
		if err != nil {
			return nil
		}
		end, err := icalEvent.DateTimeEnd(time.UTC)
		if err != nil {
			return nil
		}
		ev.Start, ev.End = start.UTC(), end.UTC()
		if start.Hour() == 0 && start.Minute() == 0 && end.Hour() == 0 && end.Minute() == 0 {
			ev.AllDay = true
		}
		return ev
	}
	return nil
}
