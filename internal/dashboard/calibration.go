// v1
// internal/dashboard/calibration.go
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"homemon/internal/calibration"
	"homemon/internal/reading"
)

// CalibrationReading pairs a raw conversion with the pressure an operator
// read off a reference gauge at the same moment.
type CalibrationReading struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	Datetime time.Time `gorm:"column:datetime;not null;index"`
	RawValue int64     `gorm:"column:rawvalue;not null"`
	Voltage  float64   `gorm:"column:voltage;not null"`
	Pressure float64   `gorm:"column:pressure;not null"`
}

func (CalibrationReading) TableName() string {
	return "calibration_readings"
}

// FitResult is the advisory line computed from the stored pairs.
type FitResult struct {
	Line     reading.Line
	RSquared float64
	Pairs    int
}

type Calibrations struct {
	db *gorm.DB
}

func NewCalibrations(db *gorm.DB) (*Calibrations, error) {
	if err := db.AutoMigrate(&CalibrationReading{}); err != nil {
		return nil, fmt.Errorf("migrate calibration_readings: %w", err)
	}
	return &Calibrations{db: db}, nil
}

// Add stores the raw side of r with the known pressure.
func (c *Calibrations) Add(ctx context.Context, r reading.Reading, knownPressure float64) (CalibrationReading, error) {
	row := CalibrationReading{
		Datetime: r.Timestamp.UTC(),
		RawValue: r.RawValue,
		Voltage:  r.Voltage,
		Pressure: knownPressure,
	}
	if row.Datetime.IsZero() {
		row.Datetime = time.Now().UTC()
	}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		return CalibrationReading{}, fmt.Errorf("insert calibration reading: %w", err)
	}
	return row, nil
}

// List returns every pair, oldest first.
func (c *Calibrations) List(ctx context.Context) ([]CalibrationReading, error) {
	var rows []CalibrationReading
	if err := c.db.WithContext(ctx).Order("datetime ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query calibration readings: %w", err)
	}
	return rows, nil
}

// Fit runs the least-squares fit over the stored pairs. ok is false while
// there are not enough distinct pairs to fit.
func (c *Calibrations) Fit(ctx context.Context) (FitResult, bool, error) {
	rows, err := c.List(ctx)
	if err != nil {
		return FitResult{}, false, err
	}
	pairs := make([]calibration.Pair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, calibration.Pair{Raw: row.RawValue, Pressure: row.Pressure})
	}
	line, err := calibration.Fit(pairs)
	if errors.Is(err, calibration.ErrTooFewPairs) || errors.Is(err, calibration.ErrFlatRawRange) {
		return FitResult{Pairs: len(pairs)}, false, nil
	}
	if err != nil {
		return FitResult{}, false, err
	}
	return FitResult{Line: line, RSquared: calibration.RSquared(line, pairs), Pairs: len(pairs)}, true, nil
}
