// v2
// internal/sensor/ads1115.go
package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// ADS1115 default I2C address (ADDR pin tied to GND).
const ADS1115Address = 0x48

const (
	regConversion = 0x00
	regConfig     = 0x01

	cfgStartSingle = 0x8000
	cfgModeSingle  = 0x0100
	cfgRate128SPS  = 0x0080
	cfgCompDisable = 0x0003
	cfgMuxSingle0  = 0x4000
	cfgReady       = 0x8000
)

// Gain selects the programmable gain amplifier full-scale range.
type Gain int

const (
	GainTwoThirds Gain = iota // +/-6.144V
	Gain1                     // +/-4.096V
	Gain2                     // +/-2.048V
	Gain4                     // +/-1.024V
	Gain8                     // +/-0.512V
	Gain16                    // +/-0.256V
)

var gainFullScale = map[Gain]float64{
	GainTwoThirds: 6.144,
	Gain1:         4.096,
	Gain2:         2.048,
	Gain4:         1.024,
	Gain8:         0.512,
	Gain16:        0.256,
}

// ParseGain maps the conventional gain labels (2/3, 1, 2, 4, 8, 16).
func ParseGain(s string) (Gain, error) {
	switch s {
	case "2/3", "0.667", "0.66":
		return GainTwoThirds, nil
	case "1":
		return Gain1, nil
	case "2":
		return Gain2, nil
	case "4":
		return Gain4, nil
	case "8":
		return Gain8, nil
	case "16":
		return Gain16, nil
	}
	return 0, fmt.Errorf("unsupported ADS1115 gain %q", s)
}

var (
	ErrConversionTimeout = errors.New("ads1115: conversion timeout")
	ErrBadChannel        = errors.New("ads1115: channel must be 0..3")
)

// ADS1115Config controls non-hardware behaviour. Zero values take defaults.
type ADS1115Config struct {
	Address uint16
	Channel int
	Gain    Gain
	// PollInterval is the wait between conversion-ready checks. Default 2ms.
	PollInterval time.Duration
	// ConversionTimeout bounds a single-shot conversion. Default 100ms.
	ConversionTimeout time.Duration
}

// ADS1115 drives one single-ended channel of a TI ADS1115 16-bit ADC. It is
// safe for concurrent use; conversions are serialized.
type ADS1115 struct {
	bus drivers.I2C
	cfg ADS1115Config

	mu  sync.Mutex // guards buf and the trigger/poll/collect sequence
	buf [3]byte
}

// NewADS1115 binds the driver to an already configured bus. It does not touch
// the device.
func NewADS1115(bus drivers.I2C, cfg ADS1115Config) (*ADS1115, error) {
	if cfg.Channel < 0 || cfg.Channel > 3 {
		return nil, ErrBadChannel
	}
	if _, ok := gainFullScale[cfg.Gain]; !ok {
		return nil, fmt.Errorf("ads1115: unknown gain %d", cfg.Gain)
	}
	if cfg.Address == 0 {
		cfg.Address = ADS1115Address
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Millisecond
	}
	if cfg.ConversionTimeout <= 0 {
		cfg.ConversionTimeout = 100 * time.Millisecond
	}
	return &ADS1115{bus: bus, cfg: cfg}, nil
}

func (d *ADS1115) configWord() uint16 {
	mux := uint16(cfgMuxSingle0 | d.cfg.Channel<<12)
	pga := uint16(d.cfg.Gain) << 9
	return cfgStartSingle | mux | pga | cfgModeSingle | cfgRate128SPS | cfgCompDisable
}

// trigger starts a single-shot conversion.
func (d *ADS1115) trigger() error {
	d.buf[0] = regConfig
	binary.BigEndian.PutUint16(d.buf[1:], d.configWord())
	return d.bus.Tx(d.cfg.Address, d.buf[:3], nil)
}

// ready reports whether the last conversion has completed.
func (d *ADS1115) ready() (bool, error) {
	var r [2]byte
	if err := d.bus.Tx(d.cfg.Address, []byte{regConfig}, r[:]); err != nil {
		return false, err
	}
	return binary.BigEndian.Uint16(r[:])&cfgReady != 0, nil
}

// collect reads the conversion register as a signed code.
func (d *ADS1115) collect() (int16, error) {
	var r [2]byte
	if err := d.bus.Tx(d.cfg.Address, []byte{regConversion}, r[:]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(r[:])), nil
}

// Read performs trigger + bounded polling + collect while holding the device.
func (d *ADS1115) Read(ctx context.Context) (int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.trigger(); err != nil {
		return 0, fmt.Errorf("ads1115 trigger: %w", err)
	}
	deadline := time.Now().Add(d.cfg.ConversionTimeout)
	for {
		ready, err := d.ready()
		if err != nil {
			return 0, fmt.Errorf("ads1115 status: %w", err)
		}
		if ready {
			break
		}
		if time.Now().After(deadline) {
			return 0, ErrConversionTimeout
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(d.cfg.PollInterval):
		}
	}
	v, err := d.collect()
	if err != nil {
		return 0, fmt.Errorf("ads1115 collect: %w", err)
	}
	return v, nil
}

// Volts converts a raw code to volts for the configured gain.
func (d *ADS1115) Volts(raw int16) float64 {
	return float64(raw) * gainFullScale[d.cfg.Gain] / 32768.0
}

// Sample implements Reader.
func (d *ADS1115) Sample(ctx context.Context) (int64, float64, error) {
	raw, err := d.Read(ctx)
	if err != nil {
		return 0, 0, err
	}
	return int64(raw), d.Volts(raw), nil
}
