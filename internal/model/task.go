package model

import "time"

const (
	StatusTodo = "todo"
	StatusDone = "done"
)

// Task is a personal task or reminder. Tasks are flagged, never removed.
type Task struct {
	ID              string
	UserID          int64
	Title           string
	Description     string
	Status          string
	Priority        string
	Due             *time.Time
	Tags            []string
	CalendarEventID string
	FiredAt         *time.Time
	CreatedAt       time.Time
}

func (t Task) IsCompleted() bool { return t.Status == StatusDone }

func (t Task) IsFired() bool { return t.FiredAt != nil }

// ShortID is the id prefix shown to users.
func (t Task) ShortID() string {
	if len(t.ID) > 8 {
		return t.ID[:8]
	}
	return t.ID
}
