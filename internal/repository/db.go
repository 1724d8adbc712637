package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"secretary/internal/retry"
	"secretary/internal/sheet"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous is returned when a short id matches several rows.
	ErrAmbiguous = errors.New("ambiguous reference")
)

// DB is the spreadsheet seen as a set of tables. Every remote call goes
// through the retrier, and every table access is preceded by EnsureStructures.
type DB struct {
	client  sheet.Client
	retrier *retry.Retrier
	schema  Schema
	regions Regions
	log     *slog.Logger

	group singleflight.Group
	ready atomic.Bool
}

func NewDB(client sheet.Client, retrier *retry.Retrier, regions Regions, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{
		client:  client,
		retrier: retrier,
		schema:  NewSchema(regions),
		regions: regions,
		log:     logger,
	}
}

func (d *DB) Regions() Regions { return d.regions }

// EnsureStructures creates missing regions and header cells. Concurrent calls
// share one reconciliation; after a success later calls return immediately
// until Reset.
func (d *DB) EnsureStructures(ctx context.Context) error {
	if d.ready.Load() {
		return nil
	}
	_, err, _ := d.group.Do("ensure", func() (any, error) {
		if d.ready.Load() {
			return nil, nil
		}
		if err := d.reconcile(ctx); err != nil {
			return nil, err
		}
		d.ready.Store(true)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("ensure structures: %w", err)
	}
	return nil
}

// Reset makes the next EnsureStructures check the spreadsheet again.
func (d *DB) Reset() {
	d.ready.Store(false)
}

func (d *DB) reconcile(ctx context.Context) error {
	names, err := retry.Do(ctx, d.retrier, "list regions", d.client.ListRegions)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}

	for _, spec := range d.schema {
		if !present[spec.Name] {
			d.log.InfoContext(ctx, "creating region", "region", spec.Name, "columns", len(spec.Header))
			err := d.retrier.Run(ctx, "create "+spec.Name, func(ctx context.Context) error {
				return d.client.CreateRegion(ctx, spec.Name, spec.Header)
			})
			if err != nil {
				return err
			}
			continue
		}

		rows, err := d.readRows(ctx, spec.Name)
		if err != nil {
			return err
		}
		var header []string
		if len(rows) > 0 {
			header = rows[0]
		}
		merged, changed := mergeHeader(header, spec.Header)
		if !changed {
			continue
		}
		d.log.InfoContext(ctx, "extending region header", "region", spec.Name, "from", len(header), "to", len(merged))
		if err := d.writeRow(ctx, spec.Name, 0, merged); err != nil {
			return err
		}
	}
	return nil
}

// table reads a whole region after making sure the structures exist.
func (d *DB) table(ctx context.Context, region string) (*table, error) {
	if err := d.EnsureStructures(ctx); err != nil {
		return nil, err
	}
	var rows [][]string
	err := d.onRegion(ctx, region, true, func(ctx context.Context) error {
		var err error
		rows, err = d.readRows(ctx, region)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newTable(region, rows, d.log), nil
}

func (d *DB) append(ctx context.Context, region string, row []string) error {
	return d.onRegion(ctx, region, true, func(ctx context.Context) error {
		return d.retrier.Run(ctx, "append "+region, func(ctx context.Context) error {
			return d.client.AppendRow(ctx, region, row)
		})
	})
}

// update rewrites one row. A row index is meaningless in a recreated region,
// so a vanished region is rebuilt but the write is not repeated.
func (d *DB) update(ctx context.Context, region string, index int, row []string) error {
	err := d.onRegion(ctx, region, false, func(ctx context.Context) error {
		return d.writeRow(ctx, region, index, row)
	})
	if errors.Is(err, sheet.ErrNoRegion) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// onRegion runs op and, when the region turns out to be gone, rebuilds the
// structures. With repeat set, op runs once more on the rebuilt region.
func (d *DB) onRegion(ctx context.Context, region string, repeat bool, op func(ctx context.Context) error) error {
	err := op(ctx)
	if !errors.Is(err, sheet.ErrNoRegion) {
		return err
	}
	d.log.WarnContext(ctx, "region vanished, rebuilding structures", "region", region)
	d.Reset()
	if err := d.EnsureStructures(ctx); err != nil {
		return err
	}
	if !repeat {
		return err
	}
	return op(ctx)
}

func (d *DB) readRows(ctx context.Context, region string) ([][]string, error) {
	return retry.Do(ctx, d.retrier, "read "+region, func(ctx context.Context) ([][]string, error) {
		return d.client.ReadRegion(ctx, region)
	})
}

func (d *DB) writeRow(ctx context.Context, region string, index int, row []string) error {
	return d.retrier.Run(ctx, "update "+region, func(ctx context.Context) error {
		return d.client.UpdateRow(ctx, region, index, row)
	})
}
