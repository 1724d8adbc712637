package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretary/internal/cache"
	"secretary/internal/model"
	"secretary/internal/retry"
	"secretary/internal/sheet"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) (*DB, *sheet.Memory) {
	t.Helper()
	mem := sheet.NewMemory()
	r := &retry.Retrier{Attempts: 3, Logger: discardLogger()}
	return NewDB(mem, r, DefaultRegions(), discardLogger()), mem
}

func newTestRepos(t *testing.T) (*UserRepository, *NoteRepository, *TaskRepository, *sheet.Memory) {
	t.Helper()
	db, mem := newTestDB(t)
	return NewUserRepository(db, cache.NewUsers()), NewNoteRepository(db), NewTaskRepository(db), mem
}

func TestEnsureStructures_CreatesEachRegionOnce(t *testing.T) {
	db, mem := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureStructures(ctx))
	require.NoError(t, db.EnsureStructures(ctx))
	db.Reset()
	require.NoError(t, db.EnsureStructures(ctx))

	assert.Equal(t, []string{"Users", "PersonalNotes", "PersonalTasks"}, mem.Regions())
	for _, spec := range NewSchema(DefaultRegions()) {
		rows := mem.Rows(spec.Name)
		require.Len(t, rows, 1, spec.Name)
		assert.Equal(t, spec.Header, rows[0])
	}
}

func TestEnsureStructures_ConcurrentCallsShareOneReconcile(t *testing.T) {
	db, mem := newTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.EnsureStructures(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, mem.Calls("list"))
	assert.Equal(t, 3, mem.Calls("create"))
	assert.Len(t, mem.Regions(), 3)
}

func TestEnsureStructures_KeepsExistingHeaderAndRows(t *testing.T) {
	db, mem := newTestDB(t)
	mem.Seed("Users",
		[]string{"display_name", "user_id", "notes by hand"},
		[]string{"Ann", "1", "vip"},
	)

	require.NoError(t, db.EnsureStructures(context.Background()))

	rows := mem.Rows("Users")
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"display_name", "user_id", "notes by hand"}, rows[0][:3])
	assert.Contains(t, rows[0], colLastSeenAt)
	assert.Equal(t, []string{"Ann", "1", "vip"}, rows[1])
}

func TestEnsureStructures_WritesMissingHeader(t *testing.T) {
	db, mem := newTestDB(t)
	mem.Seed("PersonalNotes")

	require.NoError(t, db.EnsureStructures(context.Background()))

	rows := mem.Rows("PersonalNotes")
	require.Len(t, rows, 1)
	assert.Equal(t, NewSchema(DefaultRegions())[1].Header, rows[0])
}

func TestEnsureStructures_FailureIsNotRemembered(t *testing.T) {
	db, mem := newTestDB(t)
	ctx := context.Background()
	denied := errors.New("permission denied")
	mem.FailNext("create", "Users", denied)

	err := db.EnsureStructures(ctx)
	require.ErrorIs(t, err, denied)

	require.NoError(t, db.EnsureStructures(ctx))
	assert.Len(t, mem.Regions(), 3)
}

func TestEnsureStructures_TransientFailuresAreRetried(t *testing.T) {
	db, mem := newTestDB(t)
	flap := retry.Transient(errors.New("connection reset"))
	mem.FailNext("list", "", flap, flap)

	require.NoError(t, db.EnsureStructures(context.Background()))
	assert.Equal(t, 3, mem.Calls("list"))
}

func TestEnsureStructures_UnavailableStore(t *testing.T) {
	db, mem := newTestDB(t)
	flap := retry.Transient(errors.New("connection reset"))
	mem.FailNext("list", "", flap, flap, flap)

	err := db.EnsureStructures(context.Background())
	require.ErrorIs(t, err, retry.ErrUnavailable)
	assert.Empty(t, mem.Regions())
}

func TestDB_VanishedRegionIsRecreated(t *testing.T) {
	_, notes, _, mem := newTestRepos(t)
	ctx := context.Background()
	profile := model.UserProfile{ID: 3}

	_, err := notes.AppendNote(ctx, profile, "first", nil)
	require.NoError(t, err)
	mem.Drop("PersonalNotes")

	text, err := notes.ReadNotes(ctx, profile, 5)
	require.NoError(t, err)
	assert.Equal(t, "Заметок пока нет.", text)
	assert.Contains(t, mem.Regions(), "PersonalNotes")

	mem.Drop("PersonalNotes")
	_, err = notes.AppendNote(ctx, profile, "second", nil)
	require.NoError(t, err)
	assert.Len(t, mem.Rows("PersonalNotes"), 2)
}

func TestDB_UpdateOnVanishedRegionIsNotRepeated(t *testing.T) {
	db, mem := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureStructures(ctx))
	mem.Drop("PersonalTasks")

	err := db.update(ctx, "PersonalTasks", 4, []string{"t1"})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, sheet.ErrNoRegion)

	rows := mem.Rows("PersonalTasks")
	require.Len(t, rows, 1)
	assert.Equal(t, NewSchema(DefaultRegions())[2].Header, rows[0])
}

func TestMergeHeader(t *testing.T) {
	merged, changed := mergeHeader(nil, []string{"a", "b"})
	assert.True(t, changed)
	assert.Equal(t, []string{"a", "b"}, merged)

	merged, changed = mergeHeader([]string{" B ", "a"}, []string{"a", "b"})
	assert.False(t, changed)
	assert.Equal(t, []string{" B ", "a"}, merged)

	merged, changed = mergeHeader([]string{"b"}, []string{"a", "b", "c"})
	assert.True(t, changed)
	assert.Equal(t, []string{"b", "a", "c"}, merged)
}
