package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DigestService sends each active user the daily summary of open tasks.
type DigestService struct {
	users     UserLister
	reminders *ReminderService
	notifier  Notifier
	log       *slog.Logger
}

func NewDigestService(users UserLister, reminders *ReminderService, notifier Notifier, logger *slog.Logger) *DigestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestService{users: users, reminders: reminders, notifier: notifier, log: logger}
}

// SendDigests returns how many digests went out. Per-user failures are
// logged and skipped; only failing to list users is an error.
func (s *DigestService) SendDigests(ctx context.Context, now time.Time) (int, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("send digests: %w", err)
	}
	sent := 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !user.Active || !user.NotifyTelegram {
			continue
		}
		text, err := s.reminders.DailySummary(ctx, user, now)
		if err != nil {
			s.log.ErrorContext(ctx, "digest: build summary", "user_id", user.ID, "error", err)
			continue
		}
		if err := s.notifier.Notify(ctx, user.ID, text); err != nil {
			s.log.WarnContext(ctx, "digest not delivered", "user_id", user.ID, "error", err)
			continue
		}
		sent++
	}
	s.log.InfoContext(ctx, "digests sent", "count", sent)
	return sent, nil
}
