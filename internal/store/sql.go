// v2
// internal/store/sql.go
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"homemon/internal/reading"
)

// MonitorReading is the row layout of the monitor_readings table.
type MonitorReading struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	Datetime time.Time `gorm:"column:datetime;not null;index"`
	RawValue int64     `gorm:"column:rawvalue;not null"`
	Voltage  float64   `gorm:"column:voltage;not null"`
	Pressure float64   `gorm:"column:pressure;not null"`
}

func (MonitorReading) TableName() string {
	return "monitor_readings"
}

func (m MonitorReading) stored() Stored {
	return Stored{
		ID: strconv.FormatUint(uint64(m.ID), 10),
		Reading: reading.Reading{
			Timestamp: m.Datetime.UTC(),
			RawValue:  m.RawValue,
			Voltage:   m.Voltage,
			Pressure:  m.Pressure,
		},
	}
}

// OpenSQLite opens (creating if needed) the site database at path. The handle
// is shared by the reading store and the other dashboard tables.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serialising here avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// SQL stores readings through gorm.
type SQL struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQL migrates the monitor_readings table on db.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&MonitorReading{}); err != nil {
		return nil, unavailable("migrate", err)
	}
	return &SQL{db: db, now: time.Now}, nil
}

func (s *SQL) WithClock(now func() time.Time) *SQL {
	s.now = now
	return s
}

func (s *SQL) Insert(ctx context.Context, r reading.Reading) (Stored, error) {
	r = stamp(r, s.now)
	row := MonitorReading{Datetime: r.Timestamp, RawValue: r.RawValue, Voltage: r.Voltage, Pressure: r.Pressure}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Stored{}, unavailable("insert", err)
	}
	return row.stored(), nil
}

func (s *SQL) MostRecent(ctx context.Context) (Stored, bool, error) {
	var row MonitorReading
	err := s.db.WithContext(ctx).Order("datetime DESC").Order("id DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Stored{}, false, nil
	}
	if err != nil {
		return Stored{}, false, unavailable("most recent", err)
	}
	return row.stored(), true, nil
}

func (s *SQL) Between(ctx context.Context, from, to time.Time) ([]Stored, error) {
	var rows []MonitorReading
	err := s.db.WithContext(ctx).
		Where("datetime >= ? AND datetime < ?", from.UTC(), to.UTC()).
		Order("datetime ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("between", err)
	}
	out := make([]Stored, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.stored())
	}
	return out, nil
}

func (s *SQL) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("datetime < ?", cutoff.UTC()).Delete(&MonitorReading{})
	if res.Error != nil {
		return 0, unavailable("prune", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQL) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&MonitorReading{}).Count(&n).Error; err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Close closes the underlying connection pool, which is shared with the
// other users of the handle.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
