package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"secretary/internal/calendar"
	"secretary/internal/model"
	"secretary/internal/repository"
)

var (
	ErrTitleRequired = errors.New("title is required")
	ErrBadDue        = errors.New("unrecognised due time")
)

// eventLength is the duration of calendar events created for tasks.
const eventLength = 30 * time.Minute

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string
	Description string
	Priority    string
	// Due is the user's own text, read in the profile timezone.
	Due  string
	Tags []string
}

// TaskService wraps task-related business logic.
type TaskService struct {
	tasks           *repository.TaskRepository
	calendar        calendar.Client
	defaultTimezone string
	log             *slog.Logger
	Now             func() time.Time
}

func NewTaskService(tasks *repository.TaskRepository, cal calendar.Client, defaultTimezone string, logger *slog.Logger) *TaskService {
	if cal == nil {
		cal = calendar.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		tasks:           tasks,
		calendar:        cal,
		defaultTimezone: defaultTimezone,
		log:             logger,
		Now:             time.Now,
	}
}

// CreateTask stores a new task. When the task has a due time and the user
// wants calendar entries, an event is created first; a calendar failure is
// logged and the task is stored without one.
func (s *TaskService) CreateTask(ctx context.Context, profile model.UserProfile, input TaskInput) (model.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return model.Task{}, ErrTitleRequired
	}

	task := model.Task{
		ID:          uuid.NewString(),
		UserID:      profile.ID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Priority:    strings.ToLower(strings.TrimSpace(input.Priority)),
		Tags:        input.Tags,
	}
	if raw := strings.TrimSpace(input.Due); raw != "" {
		due, err := ParseDue(raw, s.Now(), profile.Location(s.defaultTimezone))
		if err != nil {
			return model.Task{}, err
		}
		task.Due = &due
	}

	if task.Due != nil && profile.NotifyCalendar {
		id, err := s.calendar.CreateEvent(ctx, calendar.Event{
			ID:          calendar.EventID(task.ID),
			Summary:     task.Title,
			Description: task.Description,
			Start:       *task.Due,
			End:         task.Due.Add(eventLength),
			Attendee:    profile.Email,
		})
		switch {
		case err == nil:
			task.CalendarEventID = id
		case errors.Is(err, calendar.ErrDisabled):
		default:
			s.log.WarnContext(ctx, "calendar event not created", "user_id", profile.ID, "task_id", task.ID, "error", err)
		}
	}

	return s.tasks.InsertTask(ctx, task)
}

// OpenTasks lists tasks not yet done, earliest due first.
func (s *TaskService) OpenTasks(ctx context.Context, userID int64) ([]model.Task, error) {
	tasks, err := s.tasks.ListTasks(ctx, userID, model.StatusTodo)
	if err != nil {
		return nil, err
	}
	sortByDue(tasks)
	return tasks, nil
}

// CompleteTask resolves ref (an id or id prefix) and marks that task done.
func (s *TaskService) CompleteTask(ctx context.Context, userID int64, ref string) (model.Task, error) {
	task, err := s.tasks.FindTask(ctx, userID, ref)
	if err != nil {
		return model.Task{}, err
	}
	return s.tasks.MarkCompleted(ctx, userID, task.ID)
}

// Agenda returns calendar events for the next day.
func (s *TaskService) Agenda(ctx context.Context, now time.Time) ([]calendar.Event, error) {
	return s.calendar.Agenda(ctx, now, now.Add(24*time.Hour))
}

// dueLayouts are tried in order; the parsed wall time is taken in the
// user's zone.
var dueLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"02.01.2006 15:04",
	"02.01 15:04",
	"2006-01-02",
	"02.01.2006",
}

// ParseDue reads a due time typed by a user: an absolute date with optional
// time, a bare HH:MM (today, or tomorrow if already past), or an offset such
// as "+90m" or "+2h".
func ParseDue(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	now = now.In(loc)

	if strings.HasPrefix(raw, "+") {
		d, err := time.ParseDuration(raw[1:])
		if err != nil || d <= 0 {
			return time.Time{}, fmt.Errorf("%w: %q", ErrBadDue, raw)
		}
		return now.Add(d).Truncate(time.Minute), nil
	}

	if clock, err := time.ParseInLocation("15:04", raw, loc); err == nil {
		due := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
		return due, nil
	}

	for _, layout := range dueLayouts {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err != nil {
			continue
		}
		if !strings.Contains(layout, "2006") {
			t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		}
		if !strings.Contains(layout, "15:04") {
			t = time.Date(t.Year(), t.Month(), t.Day(), 9, 0, 0, 0, loc)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadDue, raw)
}
