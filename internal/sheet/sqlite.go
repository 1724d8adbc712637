package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"secretary/internal/retry"
)

type regionRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

func (regionRecord) TableName() string { return "regions" }

type rowRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Region    string `gorm:"index:idx_region_position,unique"`
	Position  int    `gorm:"index:idx_region_position,unique"`
	Cells     string
	UpdatedAt time.Time
}

func (rowRecord) TableName() string { return "region_rows" }

// SQLite keeps regions in a local SQLite file. It is the backend for running
// without a Google spreadsheet.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite opens a SQLite database and runs migrations. gorm warnings and
// slow queries go to logger.
func NewSQLite(dsn string, log *slog.Logger) (*SQLite, error) {
	if dsn == "" {
		dsn = "secretary.db"
	}
	if log == nil {
		log = slog.Default()
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.NewSlogLogger(log.With("component", "gorm"), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&regionRecord{}, &rowRecord{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLite) ListRegions(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&regionRecord{}).Order("id ASC").Pluck("name", &names).Error; err != nil {
		return nil, classify(fmt.Errorf("list regions: %w", err))
	}
	return names, nil
}

func (s *SQLite) ReadRegion(ctx context.Context, name string) ([][]string, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireRegion(db, name); err != nil {
		return nil, err
	}

	var records []rowRecord
	if err := db.Where("region = ?", name).Order("position ASC").Find(&records).Error; err != nil {
		return nil, classify(fmt.Errorf("read %q: %w", name, err))
	}

	var rows [][]string
	for _, rec := range records {
		for len(rows) < rec.Position {
			rows = append(rows, nil)
		}
		var cells []string
		if err := json.Unmarshal([]byte(rec.Cells), &cells); err != nil {
			return nil, fmt.Errorf("decode %q row %d: %w", name, rec.Position, err)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func (s *SQLite) AppendRow(ctx context.Context, name string, row []string) error {
	cells, err := encodeCells(row)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireRegion(tx, name); err != nil {
			return err
		}
		var last struct{ Max *int }
		if err := tx.Model(&rowRecord{}).Select("MAX(position) AS max").Where("region = ?", name).Scan(&last).Error; err != nil {
			return fmt.Errorf("append %q: %w", name, err)
		}
		next := 1
		if last.Max != nil && *last.Max+1 > next {
			next = *last.Max + 1
		}
		if err := tx.Create(&rowRecord{Region: name, Position: next, Cells: cells}).Error; err != nil {
			return fmt.Errorf("append %q: %w", name, err)
		}
		return nil
	})
	return classify(err)
}

func (s *SQLite) UpdateRow(ctx context.Context, name string, index int, row []string) error {
	if index < 0 {
		return fmt.Errorf("update %q: negative row index %d", name, index)
	}
	cells, err := encodeCells(row)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireRegion(tx, name); err != nil {
			return err
		}
		return s.putRow(tx, name, index, cells)
	})
	return classify(err)
}

func (s *SQLite) CreateRegion(ctx context.Context, name string, header []string) error {
	cells, err := encodeCells(header)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := regionRecord{Name: name}
		if err := tx.Where(regionRecord{Name: name}).FirstOrCreate(&rec).Error; err != nil {
			return fmt.Errorf("create region %q: %w", name, err)
		}
		return s.putRow(tx, name, 0, cells)
	})
	return classify(err)
}

func (s *SQLite) putRow(tx *gorm.DB, name string, index int, cells string) error {
	rec := rowRecord{Region: name, Position: index, Cells: cells}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "region"}, {Name: "position"}},
		DoUpdates: clause.AssignmentColumns([]string{"cells", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("write %q row %d: %w", name, index, err)
	}
	return nil
}

func (s *SQLite) requireRegion(db *gorm.DB, name string) error {
	var count int64
	if err := db.Model(&regionRecord{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return fmt.Errorf("lookup region %q: %w", name, err)
	}
	if count == 0 {
		return fmt.Errorf("%q: %w", name, ErrNoRegion)
	}
	return nil
}

func encodeCells(row []string) (string, error) {
	if row == nil {
		row = []string{}
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	return string(raw), nil
}

// classify marks lock contention as transient so the retry wrapper backs off.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrNoRegion) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return retry.Transient(err)
	}
	return err
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	// Ignore DSNs with explicit mode=memory or network.
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	// Strip file: prefix if present.
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}
