package model

import "time"

// UserProfile stores a Telegram user as kept in the Users region.
type UserProfile struct {
	ID             int64
	Username       string
	FullName       string
	DisplayName    string
	Email          string
	Timezone       string
	NotifyTelegram bool
	NotifyCalendar bool
	Active         bool
	CreatedAt      time.Time
	LastSeenAt     time.Time
}

// Name is what the bot calls the user.
func (p UserProfile) Name() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.FullName != "":
		return p.FullName
	case p.Username != "":
		return "@" + p.Username
	default:
		return "друг"
	}
}

// Location resolves the profile timezone, falling back to fallback and then UTC.
func (p UserProfile) Location(fallback string) *time.Location {
	for _, name := range []string{p.Timezone, fallback} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
