package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"secretary/internal/retry"
)

// Google talks to one calendar through the Calendar v3 API. Calls go through
// the retrier like store calls do.
type Google struct {
	srv        *gcal.Service
	calendarID string
	retrier    *retry.Retrier
}

func NewGoogle(ctx context.Context, calendarID, credentialsFile string, retrier *retry.Retrier, opts ...option.ClientOption) (*Google, error) {
	if calendarID == "" {
		return nil, fmt.Errorf("calendar id is required")
	}
	opts = append([]option.ClientOption{option.WithScopes(gcal.CalendarEventsScope)}, opts...)
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Google{srv: srv, calendarID: calendarID, retrier: retrier}, nil
}

// CreateEvent inserts ev and returns its id. When ev.ID is set it is sent as
// the event id, so an insert repeated after a lost response finds the event
// already there and succeeds.
func (g *Google) CreateEvent(ctx context.Context, ev Event) (string, error) {
	body := &gcal.Event{
		Id:          ev.ID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}
	if ev.Attendee != "" {
		body.Attendees = []*gcal.EventAttendee{{Email: ev.Attendee}}
	}
	return retry.Do(ctx, g.retrier, "create calendar event", func(ctx context.Context) (string, error) {
		created, err := g.srv.Events.Insert(g.calendarID, body).Context(ctx).Do()
		if err != nil {
			if ev.ID != "" && isConflict(err) {
				return ev.ID, nil
			}
			return "", err
		}
		return created.Id, nil
	})
}

// Agenda lists single events starting in [from, to), earliest first.
func (g *Google) Agenda(ctx context.Context, from, to time.Time) ([]Event, error) {
	resp, err := retry.Do(ctx, g.retrier, "list calendar events", func(ctx context.Context) (*gcal.Events, error) {
		return g.srv.Events.List(g.calendarID).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Status == "cancelled" {
			continue
		}
		events = append(events, Event{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Start:       eventTime(item.Start),
			End:         eventTime(item.End),
		})
	}
	return events, nil
}

// EventID turns a task id into a valid calendar event id (base32hex
// characters only).
func EventID(taskID string) string {
	return strings.ToLower(strings.ReplaceAll(taskID, "-", ""))
}

func eventTime(dt *gcal.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
