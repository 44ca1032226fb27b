// v2
// internal/sensor/sampler.go
// Package sensor reads the pressure transducer through an ADC and turns raw
// samples into calibrated readings.
package sensor

import (
	"context"
	"fmt"
	"math"
	"time"

	"homemon/internal/reading"
)

// Reader produces a (raw code, voltage) pair on demand.
type Reader interface {
	Sample(ctx context.Context) (raw int64, voltage float64, err error)
}

// Sampler calibrates samples from a Reader. Build one at process start and
// pass it to whatever needs readings.
type Sampler struct {
	reader Reader
	line   reading.Line
	now    func() time.Time
}

// NewSampler wires a reader to a calibration line.
func NewSampler(r Reader, line reading.Line) *Sampler {
	return &Sampler{reader: r, line: line, now: time.Now}
}

// WithClock replaces the timestamp source.
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// Line exposes the calibration line in use.
func (s *Sampler) Line() reading.Line {
	return s.line
}

// Take samples once and calibrates.
func (s *Sampler) Take(ctx context.Context) (reading.Reading, error) {
	raw, volts, err := s.reader.Sample(ctx)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("%w: %w", reading.ErrAcquisitionFailure, err)
	}
	return reading.Reading{
		Timestamp: s.now().UTC(),
		RawValue:  raw,
		Voltage:   volts,
		Pressure:  s.line.Apply(raw),
	}, nil
}

// Average takes n samples and calibrates the rounded mean raw code. The
// timestamp is taken after the last sample.
func (s *Sampler) Average(ctx context.Context, n int) (reading.Reading, error) {
	if n <= 1 {
		return s.Take(ctx)
	}
	var sumRaw int64
	var sumVolts float64
	for i := 0; i < n; i++ {
		raw, volts, err := s.reader.Sample(ctx)
		if err != nil {
			return reading.Reading{}, fmt.Errorf("%w: sample %d/%d: %w", reading.ErrAcquisitionFailure, i+1, n, err)
		}
		sumRaw += raw
		sumVolts += volts
	}
	meanRaw := int64(math.Round(float64(sumRaw) / float64(n)))
	return reading.Reading{
		Timestamp: s.now().UTC(),
		RawValue:  meanRaw,
		Voltage:   sumVolts / float64(n),
		Pressure:  s.line.Apply(meanRaw),
	}, nil
}

// Series takes n single readings, stopping at the first failure. Successful
// readings gathered before a failure are returned alongside the error.
func (s *Sampler) Series(ctx context.Context, n int) ([]reading.Reading, error) {
	out := make([]reading.Reading, 0, n)
	for i := 0; i < n; i++ {
		r, err := s.Take(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
