package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"secretary/internal/retry"
)

const prodID = "-//secretary//caldav//RU"

// CalDAVConfig locates a calendar on a CalDAV server such as Yandex.
type CalDAVConfig struct {
	URL      string
	Login    string
	Password string
	// Name picks a calendar by display name. Empty means the first one.
	Name string
	// Path skips discovery when the calendar collection path is known.
	Path string
}

// CalDAV keeps events as iCalendar objects in one calendar collection.
// Objects are named after the event id, so a repeated PUT overwrites
// instead of duplicating.
type CalDAV struct {
	client  *caldav.Client
	path    string
	login   string
	retrier *retry.Retrier
}

// NewCalDAV connects and, unless cfg.Path is set, discovers the calendar.
// httpClient may be nil.
func NewCalDAV(ctx context.Context, cfg CalDAVConfig, retrier *retry.Retrier, httpClient *http.Client) (*CalDAV, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("caldav url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	marked := *httpClient
	marked.Transport = statusTransport{base: transport}

	var hc webdav.HTTPClient = &marked
	if cfg.Login != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, cfg.Login, cfg.Password)
	}
	client, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	c := &CalDAV{client: client, path: cfg.Path, login: cfg.Login, retrier: retrier}
	if c.path == "" {
		c.path, err = retry.Do(ctx, retrier, "discover caldav calendar", func(ctx context.Context) (string, error) {
			return c.discover(ctx, cfg.Name)
		})
		if err != nil {
			return nil, err
		}
	}
	if !strings.HasSuffix(c.path, "/") {
		c.path += "/"
	}
	return c, nil
}

func (c *CalDAV) discover(ctx context.Context, name string) (string, error) {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	home, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home: %w", err)
	}
	calendars, err := c.client.FindCalendars(ctx, home)
	if err != nil {
		return "", fmt.Errorf("list calendars: %w", err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("no calendars under %s", home)
	}
	for _, cal := range calendars {
		if name != "" && cal.Name == name {
			return cal.Path, nil
		}
	}
	return calendars[0].Path, nil
}

// CreateEvent stores ev with a 15 minute display alarm and returns its UID.
func (c *CalDAV) CreateEvent(ctx context.Context, ev Event) (string, error) {
	uid := ev.ID
	if uid == "" {
		uid = EventID(uuid.NewString())
	}
	cal := c.encode(uid, ev, time.Now())
	path := c.path + uid + ".ics"
	err := c.retrier.Run(ctx, "put caldav event", func(ctx context.Context) error {
		_, err := c.client.PutCalendarObject(ctx, path, cal)
		return err
	})
	if err != nil {
		return "", err
	}
	return uid, nil
}

// Agenda lists events overlapping [from, to), earliest first.
func (c *CalDAV) Agenda(ctx context.Context, from, to time.Time) ([]Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}
	objects, err := retry.Do(ctx, c.retrier, "query caldav events", func(ctx context.Context) ([]caldav.CalendarObject, error) {
		return c.client.QueryCalendar(ctx, c.path, query)
	})
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, item := range obj.Data.Events() {
			if status, _ := item.Props.Text(ical.PropStatus); strings.EqualFold(status, "CANCELLED") {
				continue
			}
			start, err := item.DateTimeStart(time.UTC)
			if err != nil {
				continue
			}
			end, _ := item.DateTimeEnd(time.UTC)
			uid, _ := item.Props.Text(ical.PropUID)
			summary, _ := item.Props.Text(ical.PropSummary)
			description, _ := item.Props.Text(ical.PropDescription)
			events = append(events, Event{ID: uid, Summary: summary, Description: description, Start: start, End: end})
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func (c *CalDAV) encode(uid string, ev Event, now time.Time) *ical.Calendar {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	end := ev.End
	if end.Before(ev.Start) {
		end = ev.Start
	}
	event.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	event.Props.SetText(ical.PropSummary, ev.Summary)
	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}
	if c.login != "" && strings.Contains(c.login, "@") {
		organizer := ical.NewProp(ical.PropOrganizer)
		organizer.Value = "mailto:" + c.login
		event.Props.Set(organizer)
	}
	if ev.Attendee != "" {
		attendee := ical.NewProp(ical.PropAttendee)
		attendee.Value = "mailto:" + ev.Attendee
		attendee.Params.Set("ROLE", "REQ-PARTICIPANT")
		attendee.Params.Set("PARTSTAT", "NEEDS-ACTION")
		attendee.Params.Set("RSVP", "TRUE")
		event.Props.Add(attendee)
	}

	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, "Напоминание")
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = "-PT15M"
	alarm.Props.Set(trigger)
	event.Children = append(event.Children, alarm)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, event.Component)
	return cal
}

// statusTransport turns throttling and server errors into transient errors
// before the WebDAV client sees them.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, retry.Transient(fmt.Errorf("caldav %s %s: %s", req.Method, req.URL.Path, resp.Status))
	}
	return resp, nil
}
