// v3
// internal/reading/wire.go
package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// WireTimeLayout is the timestamp layout written by the sensor node.
const WireTimeLayout = time.RFC3339Nano

// legacyLayouts are formats older node builds emitted. Layouts without a zone
// are interpreted as UTC.
var legacyLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

var errMalformedWire = errors.New("malformed wire reading")

// Bounds on decoded values. The ADS1115 full scale is 6.144 V and household
// gauges stop well below the pressure ceiling.
const (
	MaxWireVoltage = 10.0
	MaxPressurePSI = 10000.0
)

// MarshalWire encodes r as [timestamp, rawValue, voltage, pressure].
func MarshalWire(r Reading) ([]byte, error) {
	arr := [4]any{
		r.Timestamp.UTC().Format(WireTimeLayout),
		r.RawValue,
		r.Voltage,
		r.Pressure,
	}
	return json.Marshal(arr)
}

// UnmarshalWire decodes the positional wire array.
func UnmarshalWire(b []byte) (Reading, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", errMalformedWire, err)
	}
	if len(parts) != 4 {
		return Reading{}, fmt.Errorf("%w: expected 4 elements, got %d", errMalformedWire, len(parts))
	}

	var ts string
	if err := json.Unmarshal(parts[0], &ts); err != nil {
		return Reading{}, fmt.Errorf("%w: timestamp: %v", errMalformedWire, err)
	}
	when, err := ParseTimestamp(ts)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", errMalformedWire, err)
	}

	raw, err := decodeInt(parts[1])
	if err != nil {
		return Reading{}, fmt.Errorf("%w: rawValue: %v", errMalformedWire, err)
	}
	var volts, press float64
	if err := json.Unmarshal(parts[2], &volts); err != nil {
		return Reading{}, fmt.Errorf("%w: voltage: %v", errMalformedWire, err)
	}
	if err := json.Unmarshal(parts[3], &press); err != nil {
		return Reading{}, fmt.Errorf("%w: pressure: %v", errMalformedWire, err)
	}

	if math.IsNaN(volts) || math.Abs(volts) > MaxWireVoltage {
		return Reading{}, fmt.Errorf("%w: voltage %v out of range", errMalformedWire, volts)
	}
	if !ValidPressure(press) {
		return Reading{}, fmt.Errorf("%w: pressure %v out of range", errMalformedWire, press)
	}

	return Reading{Timestamp: when, RawValue: raw, Voltage: volts, Pressure: press}, nil
}

// ValidPressure reports whether p is a pressure the node can produce.
func ValidPressure(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= MaxPressurePSI
}

// IsMalformed reports whether err came from decoding a bad wire payload.
func IsMalformed(err error) bool {
	return errors.Is(err, errMalformedWire)
}

// ParseTimestamp accepts RFC 3339 and the legacy node layouts.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// decodeInt accepts integral JSON numbers, including ones written as 450.0.
func decodeInt(raw json.RawMessage) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("non-integral value %v", f)
	}
	// float64(math.MaxInt64) rounds up to 2^63.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("value %v overflows int64", f)
	}
	return int64(f), nil
}
