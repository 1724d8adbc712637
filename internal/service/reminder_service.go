package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"secretary/internal/model"
)

// TaskLister is the read side of the task repository.
type TaskLister interface {
	ListTasks(ctx context.Context, userID int64, status string) ([]model.Task, error)
}

// ReminderService builds human-readable texts for reminders and digests.
type ReminderService struct {
	tasks           TaskLister
	defaultTimezone string
}

func NewReminderService(tasks TaskLister, defaultTimezone string) *ReminderService {
	return &ReminderService{tasks: tasks, defaultTimezone: defaultTimezone}
}

// ReminderText is the message sent when a task falls due.
func (s *ReminderService) ReminderText(profile model.UserProfile, task model.Task) string {
	loc := profile.Location(s.defaultTimezone)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏰ <b>Напоминание</b>\n%s", html.EscapeString(strings.TrimSpace(task.Title))))
	if task.Due != nil {
		sb.WriteString(fmt.Sprintf("\n   🗓 %s", task.Due.In(loc).Format("02.01.2006 15:04")))
	}
	if d := strings.TrimSpace(task.Description); d != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(d)))
	}
	sb.WriteString(fmt.Sprintf("\n\nОтметить выполненной: /done %s", task.ShortID()))
	return sb.String()
}

// DailySummary lists the user's open tasks: overdue, due within a day, and
// the rest.
func (s *ReminderService) DailySummary(ctx context.Context, profile model.UserProfile, now time.Time) (string, error) {
	tasks, err := s.tasks.ListTasks(ctx, profile.ID, model.StatusTodo)
	if err != nil {
		return "", err
	}
	loc := profile.Location(s.defaultTimezone)
	now = now.In(loc)

	var overdue, today, later []model.Task
	for _, task := range tasks {
		switch {
		case task.Due == nil:
			later = append(later, task)
		case task.Due.Before(now):
			overdue = append(overdue, task)
		case task.Due.Sub(now) <= 24*time.Hour:
			today = append(today, task)
		default:
			later = append(later, task)
		}
	}
	sortByDue(overdue)
	sortByDue(today)
	sortByDue(later)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📋 <b>Сводка на день, %s</b>\n", html.EscapeString(profile.Name())))
	builder.WriteString(fmt.Sprintf("🗓 %s\n", now.Format("02.01.2006")))

	if len(tasks) == 0 {
		builder.WriteString("\n— нет открытых задач")
		return builder.String(), nil
	}
	writeSection(&builder, "⚠️ <b>Просрочено</b>", overdue, now)
	writeSection(&builder, "🔥 <b>В ближайшие сутки</b>", today, now)
	writeSection(&builder, "🟢 <b>Позже</b>", later, now)
	return strings.TrimSpace(builder.String()), nil
}

func writeSection(b *strings.Builder, title string, tasks []model.Task, now time.Time) {
	if len(tasks) == 0 {
		return
	}
	b.WriteString("\n" + title + "\n")
	for _, task := range tasks {
		b.WriteString(formatTask(task, now))
	}
}

// sortByDue orders tasks by due time; tasks without one go last, newest first.
func sortByDue(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		switch {
		case tasks[i].Due == nil && tasks[j].Due == nil:
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		case tasks[i].Due == nil:
			return false
		case tasks[j].Due == nil:
			return true
		default:
			return tasks[i].Due.Before(*tasks[j].Due)
		}
	})
}

func formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("• %s <code>%s</code>", title, task.ShortID()))

	if task.Due != nil {
		d := task.Due.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ %s — <b>просрочено</b>", d.Format("02.01 15:04")))
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏰ %s", d.Format("02.01 15:04")))
		}
	}

	if len(task.Tags) > 0 {
		sb.WriteString(fmt.Sprintf("\n   🏷 %s", html.EscapeString(strings.Join(task.Tags, ", "))))
	}

	sb.WriteByte('\n')
	return sb.String()
}
