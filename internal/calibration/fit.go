// v0
// internal/calibration/fit.go
// Package calibration fits a calibration line to (raw code, known pressure)
// pairs collected against a reference gauge.
package calibration

import (
	"errors"
	"math"

	"homemon/internal/reading"
)

var (
	ErrTooFewPairs  = errors.New("calibration needs at least two pairs")
	ErrFlatRawRange = errors.New("calibration pairs share a single raw value")
)

// Pair is one calibration observation.
type Pair struct {
	Raw      int64
	Pressure float64
}

// Fit computes the ordinary least squares line through pairs.
func Fit(pairs []Pair) (reading.Line, error) {
	if len(pairs) < 2 {
		return reading.Line{}, ErrTooFewPairs
	}
	n := float64(len(pairs))
	var sumX, sumY float64
	for _, p := range pairs {
		sumX += float64(p.Raw)
		sumY += p.Pressure
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for _, p := range pairs {
		dx := float64(p.Raw) - meanX
		sxx += dx * dx
		sxy += dx * (p.Pressure - meanY)
	}
	if sxx == 0 {
		return reading.Line{}, ErrFlatRawRange
	}
	slope := sxy / sxx
	return reading.Line{Slope: slope, Intercept: meanY - slope*meanX}, nil
}

// RSquared reports the coefficient of determination of line over pairs.
// It returns 1 when every pressure is identical and the line is exact.
func RSquared(line reading.Line, pairs []Pair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var mean float64
	for _, p := range pairs {
		mean += p.Pressure
	}
	mean /= float64(len(pairs))

	var ssRes, ssTot float64
	for _, p := range pairs {
		pred := line.Slope*float64(p.Raw) + line.Intercept
		ssRes += (p.Pressure - pred) * (p.Pressure - pred)
		ssTot += (p.Pressure - mean) * (p.Pressure - mean)
	}
	if ssTot == 0 {
		if ssRes < 1e-12 {
			return 1
		}
		return 0
	}
	return math.Max(0, 1-ssRes/ssTot)
}
