package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"secretary/internal/model"
)

// Notifier delivers a text to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// UserLister returns every profile as currently stored.
type UserLister interface {
	ListUsers(ctx context.Context) ([]model.UserProfile, error)
}

// DueTasks is the task store as seen by the reminder pass.
type DueTasks interface {
	DueByUser(ctx context.Context, now time.Time, horizon time.Duration) (map[int64][]model.Task, error)
	MarkFired(ctx context.Context, taskID string, at time.Time) error
}

// State of the reminder loop.
type State int32

const (
	StateIdle State = iota
	StatePolling
)

func (s State) String() string {
	if s == StatePolling {
		return "polling"
	}
	return "idle"
}

// PassResult summarises one reminder pass.
type PassResult struct {
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
	Users    int       `json:"users"`
	Notified int       `json:"notified"`
	Failed   int       `json:"failed"`
	Error    string    `json:"error,omitempty"`
}

// ReminderScheduler scans every user's due tasks on a fixed interval and
// sends one reminder per task. A task is marked fired only after its
// reminder was delivered, so a failed delivery is retried on the next pass.
type ReminderScheduler struct {
	users     UserLister
	tasks     DueTasks
	notifier  Notifier
	reminders *ReminderService
	interval  time.Duration
	log       *slog.Logger
	Now       func() time.Time

	passMu sync.Mutex
	state  atomic.Int32
	last   atomic.Pointer[PassResult]
}

func NewReminderScheduler(users UserLister, tasks DueTasks, notifier Notifier, reminders *ReminderService, interval time.Duration, logger *slog.Logger) *ReminderScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		users:     users,
		tasks:     tasks,
		notifier:  notifier,
		reminders: reminders,
		interval:  interval,
		log:       logger,
		Now:       time.Now,
	}
}

func (s *ReminderScheduler) State() State { return State(s.state.Load()) }

// LastPass returns the result of the latest finished pass, nil before the first.
func (s *ReminderScheduler) LastPass() *PassResult { return s.last.Load() }

// Run does a pass at once and then one per interval until ctx is done.
// Ticks that arrive while a pass is still running are skipped.
func (s *ReminderScheduler) Run(ctx context.Context) error {
	sched := NewSchedulerService(time.UTC, s.log)
	if _, err := sched.ScheduleInterval(s.interval, func() { s.RunPass(ctx) }); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "reminder scheduler started", "interval", s.interval.String())
	s.RunPass(ctx)

	sched.Start()
	<-ctx.Done()
	sched.Stop()
	s.log.Info("reminder scheduler stopped")
	return ctx.Err()
}

// RunPass is one scan-and-notify pass. Passes never overlap; a caller
// arriving during a pass waits for it to end.
func (s *ReminderScheduler) RunPass(ctx context.Context) (res PassResult) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	s.state.Store(int32(StatePolling))
	defer s.state.Store(int32(StateIdle))

	began := time.Now()
	now := s.Now()
	res = PassResult{Started: now.UTC()}
	defer func() {
		res.Duration = time.Since(began).Round(time.Millisecond).String()
		r := res
		s.last.Store(&r)
	}()
	if ctx.Err() != nil {
		res.Error = ctx.Err().Error()
		return res
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "reminder pass: list users", "error", err)
		res.Error = err.Error()
		return res
	}

	var recipients []model.UserProfile
	for _, user := range users {
		if user.Active && user.NotifyTelegram {
			recipients = append(recipients, user)
		}
	}
	res.Users = len(recipients)

	var due map[int64][]model.Task
	if len(recipients) > 0 {
		due, err = s.tasks.DueByUser(ctx, now, 0)
		if err != nil {
			s.log.ErrorContext(ctx, "reminder pass: load tasks", "error", err)
			res.Error = err.Error()
			return res
		}
	}

	for _, user := range recipients {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			break
		}
		s.remindUser(ctx, user, due[user.ID], now, &res)
	}

	if res.Notified > 0 || res.Failed > 0 {
		s.log.InfoContext(ctx, "reminder pass finished", "users", res.Users, "notified", res.Notified, "failed", res.Failed)
	} else {
		s.log.DebugContext(ctx, "reminder pass finished", "users", res.Users)
	}
	return res
}

func (s *ReminderScheduler) remindUser(ctx context.Context, user model.UserProfile, due []model.Task, now time.Time, res *PassResult) {
	for _, task := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.notifier.Notify(ctx, user.ID, s.reminders.ReminderText(user, task)); err != nil {
			s.log.WarnContext(ctx, "reminder not delivered", "user_id", user.ID, "task_id", task.ID, "error", err)
			res.Failed++
			continue
		}
		if err := s.tasks.MarkFired(ctx, task.ID, now); err != nil {
			// Delivered but not recorded: the next pass sends it again.
			s.log.ErrorContext(ctx, "reminder sent but not marked fired", "user_id", user.ID, "task_id", task.ID, "error", err)
			res.Failed++
			continue
		}
		res.Notified++
	}
}
