package repository

// Users region columns.
const (
	colUserID         = "user_id"
	colUsername       = "telegram_username"
	colFullName       = "telegram_full_name"
	colDisplayName    = "display_name"
	colEmail          = "email"
	colTimezone       = "timezone"
	colNotifyTelegram = "notify_telegram"
	colNotifyCalendar = "notify_calendar"
	colActive         = "is_active"
	colCreatedAt      = "created_at"
	colLastSeenAt     = "last_seen_at"
)

// Notes and tasks region columns.
const (
	colID              = "id"
	colText            = "text"
	colTags            = "tags"
	colTitle           = "title"
	colDescription     = "description"
	colStatus          = "status"
	colPriority        = "priority"
	colDue             = "due_datetime"
	colCalendarEventID = "calendar_event_id"
	colFiredAt         = "fired_at"
)

// Regions names the spreadsheet regions used by the repositories.
type Regions struct {
	Users string
	Notes string
	Tasks string
}

// DefaultRegions matches the sheet names of existing spreadsheets.
func DefaultRegions() Regions {
	return Regions{
		Users: "Users",
		Notes: "PersonalNotes",
		Tasks: "PersonalTasks",
	}
}

// RegionSpec is the expected header of one region.
type RegionSpec struct {
	Name   string
	Header []string
}

// Schema is the ordered set of regions the spreadsheet must contain.
type Schema []RegionSpec

func NewSchema(r Regions) Schema {
	return Schema{
		{Name: r.Users, Header: []string{
			colUserID, colUsername, colFullName, colDisplayName, colEmail, colTimezone,
			colNotifyTelegram, colNotifyCalendar, colActive, colCreatedAt, colLastSeenAt,
		}},
		{Name: r.Notes, Header: []string{
			colID, colUserID, colText, colCreatedAt, colTags,
		}},
		{Name: r.Tasks, Header: []string{
			colID, colUserID, colTitle, colDescription, colStatus, colPriority,
			colDue, colTags, colCalendarEventID, colFiredAt, colCreatedAt,
		}},
	}
}

// mergeHeader returns existing with any expected column it lacks appended.
// Existing cells keep their position and spelling.
func mergeHeader(existing, expected []string) ([]string, bool) {
	if len(existing) == 0 {
		return append([]string(nil), expected...), true
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[normalizeColumn(name)] = true
	}
	merged := append([]string(nil), existing...)
	for _, name := range expected {
		if !have[name] {
			merged = append(merged, name)
		}
	}
	return merged, len(merged) != len(existing)
}
