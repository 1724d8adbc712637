package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretary/internal/model"
)

func seedNotes(t *testing.T, notes *NoteRepository, owner model.UserProfile, texts ...string) {
	t.Helper()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range texts {
		at := base.Add(time.Duration(i) * time.Minute)
		notes.Now = func() time.Time { return at }
		_, err := notes.AppendNote(context.Background(), owner, text, nil)
		require.NoError(t, err)
	}
}

func TestAppendNote_WritesRowInHeaderOrder(t *testing.T) {
	_, notes, _, mem := newTestRepos(t)
	owner := model.UserProfile{ID: 11}
	notes.Now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }

	note, err := notes.AppendNote(context.Background(), owner, "  buy milk ", []string{"home", "shop"})
	require.NoError(t, err)
	assert.NotEmpty(t, note.ID)
	assert.Equal(t, "buy milk", note.Text)

	rows := mem.Rows("PersonalNotes")
	require.Len(t, rows, 2)
	assert.Equal(t, []string{note.ID, "11", "buy milk", "2025-03-01T09:00:00Z", "home,shop"}, rows[1])
}

func TestAppendNote_RejectsEmptyText(t *testing.T) {
	_, notes, _, mem := newTestRepos(t)

	_, err := notes.AppendNote(context.Background(), model.UserProfile{ID: 1}, "   ", nil)
	require.Error(t, err)
	assert.Zero(t, mem.Calls("append"))
}

func TestReadNotes_NewestFirstWithLimit(t *testing.T) {
	_, notes, _, _ := newTestRepos(t)
	owner := model.UserProfile{ID: 1}
	seedNotes(t, notes, owner, "one", "two", "three")
	seedNotes(t, notes, model.UserProfile{ID: 2}, "someone else")

	out, err := notes.ReadNotes(context.Background(), owner, 2)
	require.NoError(t, err)
	assert.Equal(t, "• three\n• two", out)

	out, err = notes.ReadNotes(context.Background(), owner, 0)
	require.NoError(t, err)
	assert.Equal(t, "• three\n• two\n• one", out)
}

func TestReadNotes_ShowsTags(t *testing.T) {
	_, notes, _, _ := newTestRepos(t)
	owner := model.UserProfile{ID: 1}
	_, err := notes.AppendNote(context.Background(), owner, "call mom", []string{"family", "weekly"})
	require.NoError(t, err)

	out, err := notes.ReadNotes(context.Background(), owner, 5)
	require.NoError(t, err)
	assert.Equal(t, "• call mom (теги: family, weekly)", out)
}

func TestReadNotes_Empty(t *testing.T) {
	_, notes, _, _ := newTestRepos(t)

	out, err := notes.ReadNotes(context.Background(), model.UserProfile{ID: 1}, 5)
	require.NoError(t, err)
	assert.Equal(t, "Заметок пока нет.", out)
}

func TestSearchNotes_CaseInsensitive(t *testing.T) {
	_, notes, _, _ := newTestRepos(t)
	owner := model.UserProfile{ID: 1}
	seedNotes(t, notes, owner, "Buy MILK", "walk the dog", "milkshake recipe")

	out, err := notes.SearchNotes(context.Background(), owner, "milk", 5)
	require.NoError(t, err)
	assert.Equal(t, "• Buy MILK\n• milkshake recipe", out)

	out, err = notes.SearchNotes(context.Background(), owner, "cat", 5)
	require.NoError(t, err)
	assert.Equal(t, "Ничего не найдено.", out)
}

func TestSearchNotes_NonStringQueryMatchesEverything(t *testing.T) {
	_, notes, _, _ := newTestRepos(t)
	owner := model.UserProfile{ID: 1}
	seedNotes(t, notes, owner, "a", "b")
	ctx := context.Background()

	want, err := notes.SearchNotes(ctx, owner, "", 5)
	require.NoError(t, err)
	assert.Equal(t, "• a\n• b", want)

	for _, q := range []any{nil, 123, []string{"a"}, (*string)(nil)} {
		got, err := notes.SearchNotes(ctx, owner, q, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got, "query %#v", q)
	}
}

func TestNormalizeQuery(t *testing.T) {
	s := "  MiXeD "
	assert.Equal(t, "mixed", NormalizeQuery(s))
	assert.Equal(t, "mixed", NormalizeQuery(&s))
	assert.Equal(t, "", NormalizeQuery(nil))
	assert.Equal(t, "", NormalizeQuery(3.14))
}
