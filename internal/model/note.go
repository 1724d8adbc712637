package model

import "time"

// Note is a free-text personal note. Notes are never edited by the bot.
type Note struct {
	ID        string
	UserID    int64
	Text      string
	Tags      []string
	CreatedAt time.Time
}
