package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"secretary/internal/model"
)

// TaskRepository handles the PersonalTasks region. Rows are addressed by
// their id cell, located afresh on every write.
type TaskRepository struct {
	db  *DB
	Now func() time.Time
}

func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db, Now: time.Now}
}

// InsertTask appends task, filling in a missing id, the status and the
// creation time.
func (r *TaskRepository) InsertTask(ctx context.Context, task model.Task) (model.Task, error) {
	if task.UserID == 0 {
		return model.Task{}, fmt.Errorf("insert task: owner is required")
	}
	region := r.db.regions.Tasks
	t, err := r.db.table(ctx, region)
	if err != nil {
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = model.StatusTodo
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	task.FiredAt = nil
	task.CreatedAt = r.Now().UTC().Truncate(time.Second)

	if err := r.db.append(ctx, region, t.newRow(encodeTask(task))); err != nil {
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// ListTasks returns the user's tasks in sheet order, optionally only those
// with the given status.
func (r *TaskRepository) ListTasks(ctx context.Context, userID int64, status string) ([]model.Task, error) {
	t, err := r.db.table(ctx, r.db.regions.Tasks)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []model.Task
	for _, rt := range ownedTasks(t, userID) {
		if status != "" && !strings.EqualFold(rt.task.Status, status) {
			continue
		}
		tasks = append(tasks, rt.task)
	}
	return tasks, nil
}

// UpcomingTasks returns the user's open, unfired tasks due no later than
// now+horizon, earliest first. Overdue tasks are included.
func (r *TaskRepository) UpcomingTasks(ctx context.Context, userID int64, now time.Time, horizon time.Duration) ([]model.Task, error) {
	t, err := r.db.table(ctx, r.db.regions.Tasks)
	if err != nil {
		return nil, fmt.Errorf("upcoming tasks: %w", err)
	}
	return upcoming(ownedTasks(t, userID), now.Add(horizon)), nil
}

// DueByUser is UpcomingTasks for every owner at once, from a single read of
// the region.
func (r *TaskRepository) DueByUser(ctx context.Context, now time.Time, horizon time.Duration) (map[int64][]model.Task, error) {
	t, err := r.db.table(ctx, r.db.regions.Tasks)
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	owned := make(map[int64][]rowTask)
	for _, rt := range decodeTasks(t) {
		owned[rt.task.UserID] = append(owned[rt.task.UserID], rt)
	}
	limit := now.Add(horizon)
	due := make(map[int64][]model.Task, len(owned))
	for owner, rows := range owned {
		if tasks := upcoming(rows, limit); len(tasks) > 0 {
			due[owner] = tasks
		}
	}
	return due, nil
}

func upcoming(rows []rowTask, limit time.Time) []model.Task {
	var due []model.Task
	for _, rt := range rows {
		task := rt.task
		if task.Due == nil || task.IsCompleted() || task.IsFired() {
			continue
		}
		if task.Due.After(limit) {
			continue
		}
		due = append(due, task)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Due.Before(*due[j].Due)
	})
	return due
}

// FindTask resolves a full id or a unique id prefix among the user's tasks.
func (r *TaskRepository) FindTask(ctx context.Context, userID int64, ref string) (model.Task, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return model.Task{}, fmt.Errorf("find task: %w", ErrNotFound)
	}
	t, err := r.db.table(ctx, r.db.regions.Tasks)
	if err != nil {
		return model.Task{}, fmt.Errorf("find task: %w", err)
	}
	var matches []model.Task
	for _, rt := range ownedTasks(t, userID) {
		id := strings.ToLower(rt.task.ID)
		if id == ref {
			return rt.task, nil
		}
		if strings.HasPrefix(id, ref) {
			matches = append(matches, rt.task)
		}
	}
	switch len(matches) {
	case 0:
		return model.Task{}, fmt.Errorf("find task %q: %w", ref, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return model.Task{}, fmt.Errorf("find task %q: %w", ref, ErrAmbiguous)
	}
}

// MarkFired records that a reminder for the task was delivered. Marking an
// already fired task is a no-op. The row is located on a fresh read, since
// positions may shift when rows are removed by hand.
func (r *TaskRepository) MarkFired(ctx context.Context, taskID string, at time.Time) error {
	region := r.db.regions.Tasks
	t, err := r.db.table(ctx, region)
	if err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	rt, ok := taskByID(t, taskID)
	if !ok {
		return fmt.Errorf("mark fired %s: %w", taskID, ErrNotFound)
	}
	if rt.task.IsFired() {
		return nil
	}
	row := rt.rec.with(map[string]string{colFiredAt: formatTime(at)})
	if err := r.db.update(ctx, region, rt.rec.index, row); err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	return nil
}

// MarkCompleted sets the task status to done.
func (r *TaskRepository) MarkCompleted(ctx context.Context, userID int64, taskID string) (model.Task, error) {
	region := r.db.regions.Tasks
	t, err := r.db.table(ctx, region)
	if err != nil {
		return model.Task{}, fmt.Errorf("complete task: %w", err)
	}
	rt, ok := taskByID(t, taskID)
	if !ok || rt.task.UserID != userID {
		return model.Task{}, fmt.Errorf("complete task %s: %w", taskID, ErrNotFound)
	}
	if rt.task.IsCompleted() {
		return rt.task, nil
	}
	rt.task.Status = model.StatusDone
	row := rt.rec.with(map[string]string{colStatus: model.StatusDone})
	if err := r.db.update(ctx, region, rt.rec.index, row); err != nil {
		return model.Task{}, fmt.Errorf("complete task: %w", err)
	}
	return rt.task, nil
}

type rowTask struct {
	rec  record
	task model.Task
}

func ownedTasks(t *table, userID int64) []rowTask {
	var out []rowTask
	for _, rt := range decodeTasks(t) {
		if rt.task.UserID == userID {
			out = append(out, rt)
		}
	}
	return out
}

func taskByID(t *table, id string) (rowTask, bool) {
	for _, rt := range decodeTasks(t) {
		if rt.task.ID == id {
			return rt, true
		}
	}
	return rowTask{}, false
}

func decodeTasks(t *table) []rowTask {
	var out []rowTask
	for _, rec := range t.records() {
		task, ok := decodeTask(rec)
		if !ok {
			t.skip(rec.index, "missing id or user_id")
			continue
		}
		out = append(out, rowTask{rec: rec, task: task})
	}
	return out
}

func decodeTask(rec record) (model.Task, bool) {
	id := rec.get(colID)
	owner, ok := parseUserID(rec.get(colUserID))
	if id == "" || !ok {
		return model.Task{}, false
	}
	task := model.Task{
		ID:              id,
		UserID:          owner,
		Title:           rec.get(colTitle),
		Description:     rec.get(colDescription),
		Status:          strings.ToLower(rec.get(colStatus)),
		Priority:        rec.get(colPriority),
		Tags:            splitTags(rec.get(colTags)),
		CalendarEventID: rec.get(colCalendarEventID),
	}
	if due, ok := parseTime(rec.get(colDue)); ok {
		task.Due = &due
	}
	if fired, ok := parseTime(rec.get(colFiredAt)); ok {
		task.FiredAt = &fired
	}
	task.CreatedAt, _ = parseTime(rec.get(colCreatedAt))
	return task, true
}

func encodeTask(task model.Task) map[string]string {
	values := map[string]string{
		colID:              task.ID,
		colUserID:          strconv.FormatInt(task.UserID, 10),
		colTitle:           task.Title,
		colDescription:     task.Description,
		colStatus:          task.Status,
		colPriority:        task.Priority,
		colTags:            strings.Join(task.Tags, ","),
		colCalendarEventID: task.CalendarEventID,
		colCreatedAt:       formatTime(task.CreatedAt),
	}
	if task.Due != nil {
		values[colDue] = formatTime(*task.Due)
	}
	if task.FiredAt != nil {
		values[colFiredAt] = formatTime(*task.FiredAt)
	}
	return values
}
