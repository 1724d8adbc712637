package sheet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Client {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "regions.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Client{
		"memory": NewMemory(),
		"sqlite": db,
	}
}

func TestClients_RegionLifecycle(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := c.ReadRegion(ctx, "Users")
			require.ErrorIs(t, err, ErrNoRegion)
			require.ErrorIs(t, c.AppendRow(ctx, "Users", []string{"1"}), ErrNoRegion)

			require.NoError(t, c.CreateRegion(ctx, "Users", []string{"user_id", "display_name"}))
			require.NoError(t, c.CreateRegion(ctx, "Notes", []string{"id"}))
			require.NoError(t, c.AppendRow(ctx, "Users", []string{"1", "Ann"}))
			require.NoError(t, c.AppendRow(ctx, "Users", []string{"2", "Bob"}))
			require.NoError(t, c.UpdateRow(ctx, "Users", 2, []string{"2", "Bobby"}))

			rows, err := c.ReadRegion(ctx, "Users")
			require.NoError(t, err)
			assert.Equal(t, [][]string{
				{"user_id", "display_name"},
				{"1", "Ann"},
				{"2", "Bobby"},
			}, rows)

			names, err := c.ListRegions(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"Users", "Notes"}, names)
		})
	}
}

func TestClients_CreateExistingRegionKeepsRows(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.CreateRegion(ctx, "Tasks", []string{"id"}))
			require.NoError(t, c.AppendRow(ctx, "Tasks", []string{"t1"}))
			require.NoError(t, c.CreateRegion(ctx, "Tasks", []string{"id", "title"}))

			rows, err := c.ReadRegion(ctx, "Tasks")
			require.NoError(t, err)
			assert.Equal(t, [][]string{{"id", "title"}, {"t1"}}, rows)

			names, err := c.ListRegions(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"Tasks"}, names)
		})
	}
}

func TestMemory_FaultsAndCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("Users", []string{"user_id"}, []string{"7"})

	boom := errors.New("boom")
	m.FailNext("read", "Users", boom)

	_, err := m.ReadRegion(ctx, "Users")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Reads("Users"))

	rows, err := m.ReadRegion(ctx, "Users")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, m.Reads("Users"))
	assert.Equal(t, 2, m.Calls("read"))

	m.FailNext("append", "", boom)
	require.ErrorIs(t, m.AppendRow(ctx, "Users", []string{"8"}), boom)
	require.NoError(t, m.AppendRow(ctx, "Users", []string{"8"}))
	assert.Len(t, m.Rows("Users"), 3)
}

func TestA1Quoting(t *testing.T) {
	assert.Equal(t, "'Users'!A1:Z", a1("Users", "A1:Z"))
	assert.Equal(t, "'Bob''s notes'!A3", a1("Bob's notes", "A3"))
}

func TestSQLite_LogsThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	db, err := NewSQLite(filepath.Join(t.TempDir(), "regions.db"), slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.Error(t, db.db.Exec("SELECT * FROM no_such_table").Error)
	assert.Contains(t, buf.String(), "no_such_table")
	assert.Contains(t, buf.String(), "component=gorm")
}

func TestEnsureDirForSQLite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ensureDirForSQLite("file:"+filepath.Join(dir, "a", "b.db")+"?_busy_timeout=5000"))
	assert.DirExists(t, filepath.Join(dir, "a"))
	require.NoError(t, ensureDirForSQLite(":memory:"))
}
