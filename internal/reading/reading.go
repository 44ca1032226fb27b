// v1
// internal/reading/reading.go
// Package reading holds the canonical pressure Reading, the calibration line
// that maps raw ADC codes to pressure, and the node-to-dashboard wire format.
package reading

import (
	"errors"
	"time"
)

// Reading is one sampled measurement. Values are never mutated after they
// are produced by a sampler or decoded from the wire.
type Reading struct {
	Timestamp time.Time `json:"datetime"`
	RawValue  int64     `json:"rawvalue"`
	Voltage   float64   `json:"voltage"`
	Pressure  float64   `json:"pressure"`
}

var (
	// ErrAcquisitionFailure marks a sensor or remote fetch that did not
	// produce a usable reading.
	ErrAcquisitionFailure = errors.New("reading acquisition failed")
	// ErrStorageUnavailable marks a reading store that could not complete
	// an insert or query.
	ErrStorageUnavailable = errors.New("reading storage unavailable")
)

// UTC returns a copy with the timestamp normalized to UTC.
func (r Reading) UTC() Reading {
	r.Timestamp = r.Timestamp.UTC()
	return r
}

// Age reports how old the reading is at now.
func (r Reading) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}
