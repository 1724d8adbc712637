// Package calendar mirrors tasks with a due time into a Google or CalDAV
// calendar and reads the user's agenda back.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by Disabled, used when no calendar is configured.
var ErrDisabled = errors.New("calendar integration disabled")

// Event is a timed calendar entry.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	// Attendee is invited when set.
	Attendee string
}

// Client is implemented by Google, CalDAV and Disabled.
type Client interface {
	CreateEvent(ctx context.Context, ev Event) (string, error)
	Agenda(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Disabled rejects every call with ErrDisabled.
type Disabled struct{}

func (Disabled) CreateEvent(context.Context, Event) (string, error) { return "", ErrDisabled }

func (Disabled) Agenda(context.Context, time.Time, time.Time) ([]Event, error) {
	return nil, ErrDisabled
}
