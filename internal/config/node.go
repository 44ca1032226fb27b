// v1
// internal/config/node.go
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"homemon/internal/reading"
)

// Node captures the runtime settings of the sensor node.
type Node struct {
	ListenAddress    string
	LogFilePath      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration
	PropertiesPath   string

	// Calibration maps raw ADC codes to psi.
	Calibration reading.Line

	// ADCDriver is "ads1115" or "simulated".
	ADCDriver  string
	ADCBus     string
	ADCAddress uint16
	ADCChannel int
	ADCGain    string

	// AverageCount samples are averaged for each /json response.
	AverageCount int
	// CalibrationCount rows are returned by /calibrate.
	CalibrationCount int
	OnThresholdPSI   float64

	MonitorEnabled  bool
	MonitorInterval time.Duration
	MonitorCSVPath  string

	// MQTT publishing is off while MQTTBroker is empty.
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
}

const (
	nodePropsEnv     = "SENSORNODE_PROPERTIES_PATH"
	nodeEnvPrefix    = "SENSORNODE"
	defaultNodeProps = "sensornode.properties"
)

var nodeKeys = []string{
	"listen_address", "log_path", "http_read_timeout_ms", "http_write_timeout_ms", "shutdown_timeout_ms",
	"cal.slope", "cal.intercept",
	"adc.driver", "adc.bus", "adc.address", "adc.channel", "adc.gain",
	"average_count", "calibration_count", "on_threshold_psi",
	"monitor.enabled", "monitor.interval", "monitor.csv_path",
	"mqtt.broker", "mqtt.topic", "mqtt.client_id",
}

func defaultNode() Node {
	return Node{
		ListenAddress:    ":8080",
		LogFilePath:      filepath.Clean("logs/sensornode.log"),
		HTTPReadTimeout:  5 * time.Second,
		HTTPWriteTimeout: 30 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		Calibration:      reading.DefaultLine(),
		ADCDriver:        "ads1115",
		ADCAddress:       0x48,
		ADCGain:          "1",
		AverageCount:     10,
		CalibrationCount: 10,
		OnThresholdPSI:   30,
		MonitorInterval:  15 * time.Minute,
		MonitorCSVPath:   filepath.Clean("data/pressure.csv"),
		MQTTTopic:        "homemon/pressure",
		MQTTClientID:     "homemon-sensornode",
	}
}

// LoadNode resolves the sensor node configuration. The properties file
// location can be overridden with SENSORNODE_PROPERTIES_PATH; every key can
// be overridden with SENSORNODE_<KEY>.
func LoadNode() (Node, error) {
	cfg := defaultNode()
	path, err := loadLayered(nodePropsEnv, defaultNodeProps, nodeEnvPrefix, nodeKeys, cfg.set)
	cfg.PropertiesPath = path
	if err != nil {
		return Node{}, err
	}
	return cfg, nil
}

func (cfg *Node) set(key, value string) error {
	var err error
	switch key {
	case "listen_address":
		cfg.ListenAddress, err = nonEmpty(key, value)
	case "log_path":
		if value, err = nonEmpty(key, value); err == nil {
			cfg.LogFilePath = filepath.Clean(value)
		}
	case "http_read_timeout_ms":
		cfg.HTTPReadTimeout, err = parsePositiveMillis(value)
	case "http_write_timeout_ms":
		cfg.HTTPWriteTimeout, err = parsePositiveMillis(value)
	case "shutdown_timeout_ms":
		cfg.ShutdownTimeout, err = parsePositiveMillis(value)
	case "cal.slope":
		cfg.Calibration.Slope, err = parseFloat(value)
	case "cal.intercept":
		cfg.Calibration.Intercept, err = parseFloat(value)
	case "adc.driver":
		switch value {
		case "ads1115", "simulated":
			cfg.ADCDriver = value
		default:
			err = fmt.Errorf("unknown adc driver %q", value)
		}
	case "adc.bus":
		cfg.ADCBus = value
	case "adc.address":
		var n uint64
		n, err = strconv.ParseUint(value, 0, 16)
		if err == nil && (n < 0x08 || n > 0x77) {
			err = fmt.Errorf("i2c address %#x out of range", n)
		}
		cfg.ADCAddress = uint16(n)
	case "adc.channel":
		cfg.ADCChannel, err = strconv.Atoi(value)
		if err == nil && (cfg.ADCChannel < 0 || cfg.ADCChannel > 3) {
			err = fmt.Errorf("channel must be 0..3")
		}
	case "adc.gain":
		cfg.ADCGain, err = nonEmpty(key, value)
	case "average_count":
		cfg.AverageCount, err = parsePositiveInt(value)
	case "calibration_count":
		cfg.CalibrationCount, err = parsePositiveInt(value)
	case "on_threshold_psi":
		cfg.OnThresholdPSI, err = parseFloat(value)
	case "monitor.enabled":
		cfg.MonitorEnabled, err = parseBool(value)
	case "monitor.interval":
		cfg.MonitorInterval, err = parseDuration(value, false)
	case "monitor.csv_path":
		if value, err = nonEmpty(key, value); err == nil {
			cfg.MonitorCSVPath = filepath.Clean(value)
		}
	case "mqtt.broker":
		cfg.MQTTBroker = value
	case "mqtt.topic":
		cfg.MQTTTopic, err = nonEmpty(key, value)
	case "mqtt.client_id":
		cfg.MQTTClientID, err = nonEmpty(key, value)
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return err
}
