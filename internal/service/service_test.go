package service

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secretary/internal/cache"
	"secretary/internal/model"
	"secretary/internal/repository"
	"secretary/internal/retry"
	"secretary/internal/sheet"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	mem   *sheet.Memory
	users *repository.UserRepository
	tasks *repository.TaskRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := sheet.NewMemory()
	r := &retry.Retrier{Attempts: 3, Logger: discardLogger()}
	db := repository.NewDB(mem, r, repository.DefaultRegions(), discardLogger())
	return &fixture{
		mem:   mem,
		users: repository.NewUserRepository(db, cache.NewUsers()),
		tasks: repository.NewTaskRepository(db),
	}
}

func (f *fixture) user(t *testing.T, id int64, name string) {
	t.Helper()
	_, err := f.users.CreateOrUpdateProfile(context.Background(), id, repository.ProfileUpdate{DisplayName: &name})
	require.NoError(t, err)
}

func (f *fixture) task(t *testing.T, owner int64, title string, due time.Time) model.Task {
	t.Helper()
	task, err := f.tasks.InsertTask(context.Background(), model.Task{UserID: owner, Title: title, Due: &due})
	require.NoError(t, err)
	return task
}

// fakeNotifier records deliveries per chat and fails chats listed in fail.
type fakeNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
	fail map[int64]error
	// gate, when set, blocks every delivery until it is closed.
	gate chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[int64][]string), fail: make(map[int64]error)}
}

func (n *fakeNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	if n.gate != nil {
		select {
		case <-n.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[chatID]; err != nil {
		return err
	}
	n.sent[chatID] = append(n.sent[chatID], text)
	return nil
}

func (n *fakeNotifier) count(chatID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[chatID])
}

func (n *fakeNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, texts := range n.sent {
		total += len(texts)
	}
	return total
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }
