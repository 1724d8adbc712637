package repository

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// table is one region read in full. Cells are addressed by header name, so
// columns may be reordered or extended by hand without breaking reads.
type table struct {
	region string
	header []string
	cols   map[string]int
	rows   [][]string
	log    *slog.Logger
}

// record is a data row together with its position in the region.
type record struct {
	index int // header is 0
	cols  map[string]int
	width int
	cells []string
}

func newTable(region string, rows [][]string, logger *slog.Logger) *table {
	t := &table{region: region, cols: make(map[string]int), log: logger}
	if len(rows) == 0 {
		return t
	}
	t.header = rows[0]
	for i, name := range t.header {
		key := normalizeColumn(name)
		if _, dup := t.cols[key]; key != "" && !dup {
			t.cols[key] = i
		}
	}
	t.rows = rows[1:]
	return t
}

// records yields the non-blank rows in sheet order. Cells past the header
// are invisible to get but survive a rewrite through with.
func (t *table) records() []record {
	out := make([]record, 0, len(t.rows))
	for i, cells := range t.rows {
		if isBlank(cells) {
			continue
		}
		out = append(out, record{index: i + 1, cols: t.cols, width: max(len(t.header), len(cells)), cells: cells})
	}
	return out
}

func (t *table) skip(index int, reason string) {
	t.log.Debug("skipping malformed row", "region", t.region, "row", index, "reason", reason)
}

// newRow lays out values in header order.
func (t *table) newRow(values map[string]string) []string {
	row := make([]string, len(t.header))
	for name, value := range values {
		if i, ok := t.cols[name]; ok {
			row[i] = value
		}
	}
	return row
}

func (r record) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

// with returns a copy of the row with the given cells replaced. Cells of
// other columns, including ones unknown to this program, are kept.
func (r record) with(values map[string]string) []string {
	row := make([]string, r.width)
	copy(row, r.cells)
	for name, value := range values {
		if i, ok := r.cols[name]; ok && i < len(row) {
			row[i] = value
		}
	}
	return row
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y", "да":
		return true
	case "false", "0", "no", "n", "нет":
		return false
	default:
		return fallback
	}
}

func formatBool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// Layouts accepted for timestamps typed into the sheet by hand. Values
// without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseUserID(value string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func splitTags(value string) []string {
	var tags []string
	for _, tag := range strings.Split(value, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
