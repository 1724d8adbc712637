package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretary/internal/model"
	"secretary/internal/retry"
)

func ptr[T any](v T) *T { return &v }

func TestGetProfile_MissingUserIsNil(t *testing.T) {
	users, _, _, _ := newTestRepos(t)

	p, err := users.GetProfile(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetProfile_ServedFromCacheAfterWrite(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()

	_, err := users.CreateOrUpdateProfile(ctx, 1, ProfileUpdate{DisplayName: ptr("A"), Timezone: ptr("Europe/Berlin")})
	require.NoError(t, err)
	reads := mem.Reads("Users")

	p, err := users.GetProfile(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "A", p.DisplayName)
	assert.Equal(t, "Europe/Berlin", p.Timezone)
	assert.Equal(t, reads, mem.Reads("Users"))
}

func TestGetProfile_PopulatesCacheOnHit(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()
	mem.Seed("Users",
		NewSchema(DefaultRegions())[0].Header,
		[]string{"7", "ann", "Ann Smith", "Ann", "", "UTC", "TRUE", "FALSE", "TRUE", "", ""},
	)

	p, err := users.GetProfile(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Ann", p.DisplayName)
	assert.True(t, p.NotifyTelegram)
	assert.False(t, p.NotifyCalendar)

	reads := mem.Reads("Users")
	_, err = users.GetProfile(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, reads, mem.Reads("Users"))
}

func TestCreateOrUpdateProfile_UpdatesInPlace(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	users.Now = func() time.Time { return created }

	_, err := users.CreateOrUpdateProfile(ctx, 1, ProfileUpdate{DisplayName: ptr("A"), Email: ptr("a@example.com")})
	require.NoError(t, err)

	users.Now = func() time.Time { return created.Add(time.Hour) }
	p, err := users.CreateOrUpdateProfile(ctx, 1, ProfileUpdate{Timezone: ptr("Asia/Tokyo")})
	require.NoError(t, err)

	assert.Equal(t, "A", p.DisplayName)
	assert.Equal(t, "a@example.com", p.Email)
	assert.Equal(t, "Asia/Tokyo", p.Timezone)
	assert.Equal(t, created, p.CreatedAt)
	assert.Equal(t, created.Add(time.Hour), p.LastSeenAt)

	rows := mem.Rows("Users")
	require.Len(t, rows, 2)
}

func TestCreateOrUpdateProfile_KeepsHandAddedColumns(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()
	header := append(NewSchema(DefaultRegions())[0].Header, "manager_comment")
	mem.Seed("Users", header, []string{"5", "", "", "Old", "", "", "TRUE", "TRUE", "TRUE", "", "", "keep me"})

	_, err := users.CreateOrUpdateProfile(ctx, 5, ProfileUpdate{DisplayName: ptr("New")})
	require.NoError(t, err)

	rows := mem.Rows("Users")
	require.Len(t, rows, 2)
	assert.Equal(t, "New", rows[1][3])
	assert.Equal(t, "keep me", rows[1][11])
}

func TestCreateOrUpdateProfile_RowWiderThanHeader(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()
	header := NewSchema(DefaultRegions())[0].Header
	row := append([]string{"7", "", "", "Anna", "", "", "TRUE", "TRUE", "TRUE", "", ""}, "manual comment")
	require.Len(t, row, len(header)+1)
	mem.Seed("Users", header, row)

	p, err := users.GetProfile(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Anna", p.DisplayName)

	users.cache.Reset()
	_, err = users.CreateOrUpdateProfile(ctx, 7, ProfileUpdate{DisplayName: ptr("Anya")})
	require.NoError(t, err)

	rows := mem.Rows("Users")
	require.Len(t, rows, 2)
	assert.Equal(t, "Anya", rows[1][3])
	assert.Equal(t, "manual comment", rows[1][len(header)])

	list, err := users.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(7), list[0].ID)
}

func TestCreateOrUpdateProfile_ConcurrentFirstWritesMakeOneRow(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := users.CreateOrUpdateProfile(ctx, 9, ProfileUpdate{Username: ptr("nine")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, mem.Rows("Users"), 2)
}

func TestCreateOrUpdateProfile_UnavailableStoreLeavesCacheAlone(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()
	require.NoError(t, users.db.EnsureStructures(ctx))
	flap := retry.Transient(errors.New("503"))
	mem.FailNext("append", "Users", flap, flap, flap)

	_, err := users.CreateOrUpdateProfile(ctx, 3, ProfileUpdate{DisplayName: ptr("C")})
	require.ErrorIs(t, err, retry.ErrUnavailable)
	_, cached := users.cache.Get(3)
	assert.False(t, cached)
}

func TestUpdateLastSeen_TouchesOnlyTimestamp(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()
	header := NewSchema(DefaultRegions())[0].Header
	mem.Seed("Users", header, []string{"4", "dee", "Dee", "Dee", "d@example.com", "UTC", "TRUE", "TRUE", "TRUE", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	users.Now = func() time.Time { return now }

	require.NoError(t, users.UpdateLastSeen(ctx, 4))

	row := mem.Rows("Users")[1]
	assert.Equal(t, []string{"4", "dee", "Dee", "Dee", "d@example.com", "UTC", "TRUE", "TRUE", "TRUE", "2024-01-01T00:00:00Z", "2025-06-01T12:00:00Z"}, row)
}

func TestUpdateLastSeen_MissingUser(t *testing.T) {
	users, _, _, _ := newTestRepos(t)
	ctx := context.Background()
	users.cache.Put(8, model.UserProfile{ID: 8})

	err := users.UpdateLastSeen(ctx, 8)
	require.ErrorIs(t, err, ErrNotFound)
	_, cached := users.cache.Get(8)
	assert.False(t, cached)
}

func TestListUsers_ReadsStoreNotCache(t *testing.T) {
	users, _, _, mem := newTestRepos(t)
	ctx := context.Background()

	_, err := users.CreateOrUpdateProfile(ctx, 1, ProfileUpdate{DisplayName: ptr("A")})
	require.NoError(t, err)

	rows := mem.Rows("Users")
	rows[1][3] = "Edited by hand"
	rows = append(rows,
		[]string{"2", "", "", "B"},
		[]string{"not-a-number", "", "", "broken"},
		[]string{},
		[]string{"1", "", "", "duplicate"},
	)
	mem.Seed("Users", rows...)

	list, err := users.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Edited by hand", list[0].DisplayName)
	assert.Equal(t, int64(2), list[1].ID)

	cached, err := users.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", cached.DisplayName)
}
