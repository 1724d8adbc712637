package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"secretary/internal/cache"
	"secretary/internal/model"
)

// ProfileUpdate lists the editable profile fields. Nil fields are left alone.
type ProfileUpdate struct {
	Username       *string
	FullName       *string
	DisplayName    *string
	Email          *string
	Timezone       *string
	NotifyTelegram *bool
	NotifyCalendar *bool
	Active         *bool
}

func (u ProfileUpdate) apply(p *model.UserProfile) {
	setString(&p.Username, u.Username)
	setString(&p.FullName, u.FullName)
	setString(&p.DisplayName, u.DisplayName)
	setString(&p.Email, u.Email)
	setString(&p.Timezone, u.Timezone)
	setBool(&p.NotifyTelegram, u.NotifyTelegram)
	setBool(&p.NotifyCalendar, u.NotifyCalendar)
	setBool(&p.Active, u.Active)
}

// UserRepository reads and writes the Users region, with profiles shadowed
// in the user cache.
type UserRepository struct {
	db    *DB
	cache *cache.Users
	locks keyedMutex
	Now   func() time.Time
}

func NewUserRepository(db *DB, users *cache.Users) *UserRepository {
	return &UserRepository{db: db, cache: users, Now: time.Now}
}

// GetProfile returns the cached profile or scans the Users region for it.
// A missing user is reported as nil with no error.
func (r *UserRepository) GetProfile(ctx context.Context, id int64) (*model.UserProfile, error) {
	if p, ok := r.cache.Get(id); ok {
		return &p, nil
	}
	t, err := r.db.table(ctx, r.db.regions.Users)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	_, p, ok := findUser(t, id)
	if !ok {
		return nil, nil
	}
	r.cache.Put(id, p)
	return &p, nil
}

// CreateOrUpdateProfile writes the profile row for id, creating it if absent,
// and refreshes the cache entry.
func (r *UserRepository) CreateOrUpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (model.UserProfile, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	region := r.db.regions.Users
	t, err := r.db.table(ctx, region)
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("save profile: %w", err)
	}
	now := r.Now().UTC().Truncate(time.Second)

	if rec, p, ok := findUser(t, id); ok {
		update.apply(&p)
		p.LastSeenAt = now
		if err := r.db.update(ctx, region, rec.index, rec.with(encodeUser(p))); err != nil {
			return model.UserProfile{}, fmt.Errorf("update profile: %w", err)
		}
		r.cache.Put(id, p)
		return p, nil
	}

	p := model.UserProfile{
		ID:             id,
		NotifyTelegram: true,
		NotifyCalendar: true,
		Active:         true,
		CreatedAt:      now,
		LastSeenAt:     now,
	}
	update.apply(&p)
	if err := r.db.append(ctx, region, t.newRow(encodeUser(p))); err != nil {
		return model.UserProfile{}, fmt.Errorf("create profile: %w", err)
	}
	r.cache.Put(id, p)
	return p, nil
}

// UpdateLastSeen bumps last_seen_at only. It returns ErrNotFound when the
// user has no row, dropping any cached copy of it.
func (r *UserRepository) UpdateLastSeen(ctx context.Context, id int64) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	region := r.db.regions.Users
	t, err := r.db.table(ctx, region)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	rec, _, ok := findUser(t, id)
	if !ok {
		r.cache.Invalidate(id)
		return fmt.Errorf("update last seen for %d: %w", id, ErrNotFound)
	}
	now := r.Now().UTC().Truncate(time.Second)
	if err := r.db.update(ctx, region, rec.index, rec.with(map[string]string{colLastSeenAt: formatTime(now)})); err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	r.cache.Update(id, func(p *model.UserProfile) { p.LastSeenAt = now })
	return nil
}

// ListUsers reads every profile from the store, bypassing the cache so that
// hand edits are seen.
func (r *UserRepository) ListUsers(ctx context.Context) ([]model.UserProfile, error) {
	t, err := r.db.table(ctx, r.db.regions.Users)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	seen := make(map[int64]bool)
	var users []model.UserProfile
	for _, rec := range t.records() {
		p, ok := decodeUser(rec)
		if !ok {
			t.skip(rec.index, "invalid user_id")
			continue
		}
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		users = append(users, p)
	}
	return users, nil
}

// findUser returns the first row for id.
func findUser(t *table, id int64) (record, model.UserProfile, bool) {
	for _, rec := range t.records() {
		p, ok := decodeUser(rec)
		if ok && p.ID == id {
			return rec, p, true
		}
	}
	return record{}, model.UserProfile{}, false
}

func decodeUser(rec record) (model.UserProfile, bool) {
	id, ok := parseUserID(rec.get(colUserID))
	if !ok {
		return model.UserProfile{}, false
	}
	p := model.UserProfile{
		ID:             id,
		Username:       rec.get(colUsername),
		FullName:       rec.get(colFullName),
		DisplayName:    rec.get(colDisplayName),
		Email:          rec.get(colEmail),
		Timezone:       rec.get(colTimezone),
		NotifyTelegram: parseBool(rec.get(colNotifyTelegram), true),
		NotifyCalendar: parseBool(rec.get(colNotifyCalendar), true),
		Active:         parseBool(rec.get(colActive), true),
	}
	p.CreatedAt, _ = parseTime(rec.get(colCreatedAt))
	p.LastSeenAt, _ = parseTime(rec.get(colLastSeenAt))
	return p, true
}

func encodeUser(p model.UserProfile) map[string]string {
	return map[string]string{
		colUserID:         strconv.FormatInt(p.ID, 10),
		colUsername:       p.Username,
		colFullName:       p.FullName,
		colDisplayName:    p.DisplayName,
		colEmail:          p.Email,
		colTimezone:       p.Timezone,
		colNotifyTelegram: formatBool(p.NotifyTelegram),
		colNotifyCalendar: formatBool(p.NotifyCalendar),
		colActive:         formatBool(p.Active),
		colCreatedAt:      formatTime(p.CreatedAt),
		colLastSeenAt:     formatTime(p.LastSeenAt),
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
