// v1
// internal/reading/calibrate.go
package reading

// Default calibration line fitted for the ADS1115 + 0-150 psi transducer.
const (
	DefaultSlope     = 0.004717125278
	DefaultIntercept = -2.129835157
)

// Line is a calibration line mapping raw ADC codes to pressure in psi.
type Line struct {
	Slope     float64
	Intercept float64
}

// DefaultLine returns the deployed calibration constants.
func DefaultLine() Line {
	return Line{Slope: DefaultSlope, Intercept: DefaultIntercept}
}

// Calibrate computes slope*raw + intercept, floored at zero. Pressure below
// zero is sensor noise near zero or calibration drift.
func Calibrate(raw int64, slope, intercept float64) float64 {
	p := slope*float64(raw) + intercept
	if p < 0 {
		return 0
	}
	return p
}

// Apply calibrates raw with this line.
func (l Line) Apply(raw int64) float64 {
	return Calibrate(raw, l.Slope, l.Intercept)
}
