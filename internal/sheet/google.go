package sheet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleSheets is a Client over one Google spreadsheet. Each region is a sheet tab.
type GoogleSheets struct {
	srv           *sheets.Service
	spreadsheetID string
}

// NewGoogleSheets builds the Sheets service from a service account file, or
// from application default credentials when credentialsFile is empty.
func NewGoogleSheets(ctx context.Context, spreadsheetID, credentialsFile string, opts ...option.ClientOption) (*GoogleSheets, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	opts = append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}, opts...)
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &GoogleSheets{srv: srv, spreadsheetID: spreadsheetID}, nil
}

func (g *GoogleSheets) ListRegions(ctx context.Context) ([]string, error) {
	resp, err := g.srv.Spreadsheets.Get(g.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	names := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			names = append(names, s.Properties.Title)
		}
	}
	return names, nil
}

func (g *GoogleSheets) ReadRegion(ctx context.Context, name string) ([][]string, error) {
	resp, err := g.srv.Spreadsheets.Values.Get(g.spreadsheetID, a1(name, "A1:Z")).Context(ctx).Do()
	if err != nil {
		if isRangeError(err) {
			return nil, fmt.Errorf("read %q: %w", name, ErrNoRegion)
		}
		return nil, fmt.Errorf("read %q: %w", name, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, values := range resp.Values {
		row := make([]string, len(values))
		for j, v := range values {
			row[j] = fmt.Sprint(v)
		}
		rows[i] = row
	}
	return rows, nil
}

func (g *GoogleSheets) AppendRow(ctx context.Context, name string, row []string) error {
	_, err := g.srv.Spreadsheets.Values.Append(g.spreadsheetID, a1(name, "A1"), valueRange(row)).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append %q: %w", name, err)
	}
	return nil
}

func (g *GoogleSheets) UpdateRow(ctx context.Context, name string, index int, row []string) error {
	if index < 0 {
		return fmt.Errorf("update %q: negative row index %d", name, index)
	}
	_, err := g.srv.Spreadsheets.Values.Update(g.spreadsheetID, a1(name, fmt.Sprintf("A%d", index+1)), valueRange(row)).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %q row %d: %w", name, index, err)
	}
	return nil
}

func (g *GoogleSheets) CreateRegion(ctx context.Context, name string, header []string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		}},
	}
	_, err := g.srv.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	switch {
	case err == nil:
		return g.UpdateRow(ctx, name, 0, header)
	case !isAlreadyExists(err):
		return fmt.Errorf("add sheet %q: %w", name, err)
	}

	// The tab is there already, made by a timed out attempt or by hand.
	// Only an empty first row gets the header.
	resp, err := g.srv.Spreadsheets.Values.Get(g.spreadsheetID, a1(name, "1:1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %q header: %w", name, err)
	}
	for _, row := range resp.Values {
		for _, v := range row {
			if strings.TrimSpace(fmt.Sprint(v)) != "" {
				return nil
			}
		}
	}
	return g.UpdateRow(ctx, name, 0, header)
}

func valueRange(row []string) *sheets.ValueRange {
	values := make([]interface{}, len(row))
	for i, cell := range row {
		values[i] = cell
	}
	return &sheets.ValueRange{Values: [][]interface{}{values}}
}

// a1 quotes a sheet title for use in an A1 range.
func a1(name, cells string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'!" + cells
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) &&
		apiErr.Code == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "already exists")
}

func isRangeError(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) &&
		apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Message, "Unable to parse range")
}
