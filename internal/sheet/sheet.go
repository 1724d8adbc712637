// Package sheet talks to the spreadsheet that acts as the system of record.
//
// A spreadsheet is a set of named regions. Row 0 of every region is its
// header; data rows follow. Clients do no retrying of their own, callers wrap
// them with the retry package.
package sheet

import (
	"context"
	"errors"
)

// ErrNoRegion is returned when a named region does not exist.
var ErrNoRegion = errors.New("region does not exist")

// Client is the raw remote store.
type Client interface {
	ListRegions(ctx context.Context) ([]string, error)
	// ReadRegion returns every row including the header at index 0.
	ReadRegion(ctx context.Context, name string) ([][]string, error)
	AppendRow(ctx context.Context, name string, row []string) error
	// UpdateRow overwrites the row at index, counting the header as 0.
	UpdateRow(ctx context.Context, name string, index int, row []string) error
	// CreateRegion adds a region with the given header. Creating a region
	// that already exists is not an error; the header is still written.
	CreateRegion(ctx context.Context, name string, header []string) error
}
