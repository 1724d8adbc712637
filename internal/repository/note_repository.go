package repository

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"secretary/internal/model"
)

// DefaultNoteLimit is used when a caller passes no usable limit.
const DefaultNoteLimit = 5

// NoteRepository appends to and reads the PersonalNotes region.
type NoteRepository struct {
	db  *DB
	Now func() time.Time
}

func NewNoteRepository(db *DB) *NoteRepository {
	return &NoteRepository{db: db, Now: time.Now}
}

func (r *NoteRepository) AppendNote(ctx context.Context, profile model.UserProfile, text string, tags []string) (model.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Note{}, fmt.Errorf("note text is empty")
	}
	region := r.db.regions.Notes
	t, err := r.db.table(ctx, region)
	if err != nil {
		return model.Note{}, fmt.Errorf("append note: %w", err)
	}
	note := model.Note{
		ID:        uuid.NewString(),
		UserID:    profile.ID,
		Text:      text,
		Tags:      tags,
		CreatedAt: r.Now().UTC().Truncate(time.Second),
	}
	row := t.newRow(map[string]string{
		colID:        note.ID,
		colUserID:    strconv.FormatInt(note.UserID, 10),
		colText:      note.Text,
		colCreatedAt: formatTime(note.CreatedAt),
		colTags:      strings.Join(note.Tags, ","),
	})
	if err := r.db.append(ctx, region, row); err != nil {
		return model.Note{}, fmt.Errorf("append note: %w", err)
	}
	return note, nil
}

// ListNotes returns the user's notes oldest first.
func (r *NoteRepository) ListNotes(ctx context.Context, userID int64) ([]model.Note, error) {
	t, err := r.db.table(ctx, r.db.regions.Notes)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	var notes []model.Note
	for _, rec := range t.records() {
		owner, ok := parseUserID(rec.get(colUserID))
		if !ok {
			t.skip(rec.index, "invalid user_id")
			continue
		}
		if owner != userID {
			continue
		}
		n := model.Note{
			ID:     rec.get(colID),
			UserID: owner,
			Text:   rec.get(colText),
			Tags:   splitTags(rec.get(colTags)),
		}
		n.CreatedAt, _ = parseTime(rec.get(colCreatedAt))
		notes = append(notes, n)
	}
	return notes, nil
}

// ReadNotes formats the user's latest notes, newest first.
func (r *NoteRepository) ReadNotes(ctx context.Context, profile model.UserProfile, limit int) (string, error) {
	notes, err := r.ListNotes(ctx, profile.ID)
	if err != nil {
		return "", err
	}
	slices.Reverse(notes)
	notes = notes[:min(len(notes), normalizeLimit(limit))]
	if len(notes) == 0 {
		return "Заметок пока нет.", nil
	}
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		line := "• " + n.Text
		if len(n.Tags) > 0 {
			line += " (теги: " + strings.Join(n.Tags, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// SearchNotes formats up to limit of the user's notes containing query,
// compared case-insensitively. Query values arrive from decoded plan
// parameters; anything that is not a string searches for "".
func (r *NoteRepository) SearchNotes(ctx context.Context, profile model.UserProfile, query any, limit int) (string, error) {
	needle := NormalizeQuery(query)
	notes, err := r.ListNotes(ctx, profile.ID)
	if err != nil {
		return "", err
	}
	limit = normalizeLimit(limit)
	var lines []string
	for _, n := range notes {
		if len(lines) == limit {
			break
		}
		if strings.Contains(strings.ToLower(n.Text), needle) {
			lines = append(lines, "• "+n.Text)
		}
	}
	if len(lines) == 0 {
		return "Ничего не найдено.", nil
	}
	return strings.Join(lines, "\n"), nil
}

// NormalizeQuery lower-cases a string query. Missing or non-string queries
// become "".
func NormalizeQuery(query any) string {
	switch q := query.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(q))
	case *string:
		if q != nil {
			return strings.ToLower(strings.TrimSpace(*q))
		}
	}
	return ""
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultNoteLimit
	}
	return limit
}
