// v2
// internal/config/dashboard.go
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"homemon/internal/reading"
)

// Dashboard captures the runtime settings of the dashboard service.
type Dashboard struct {
	ListenAddress    string
	LogFilePath      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration
	PropertiesPath   string

	// DBPath is the SQLite site database (users, calibration pairs and,
	// with the sqlite driver, readings).
	DBPath          string
	StoreDriver     string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	NodeURL            string
	NodeTimeout        time.Duration
	NodeStampOnReceipt bool

	// Calibration is the line the node is deployed with. The admin panel
	// compares it against the fitted calibration pairs.
	Calibration reading.Line

	StaleAfter     time.Duration
	OnThresholdPSI float64
	PlotWindow     time.Duration

	// ScheduleInterval drives background refreshes; 0 disables them.
	ScheduleInterval time.Duration
	// RetentionLifetime bounds reading age; 0 keeps everything.
	RetentionLifetime      time.Duration
	RetentionCheckInterval time.Duration

	SessionSecret    string
	RegistrationOpen bool

	// Archiving is off while ArchiveBucket is empty.
	ArchiveBucket string
	ArchivePrefix string
	ArchiveRegion string

	// Events are off while KafkaBrokers is empty.
	KafkaBrokers        []string
	KafkaTopic          string
	KafkaAttemptTimeout time.Duration
	KafkaBackoff        time.Duration
	// KafkaMaxWait bounds one publish, retries and open-breaker waits included.
	KafkaMaxWait time.Duration

	CBMaxFailures      int
	CBResetTimeout     time.Duration
	CBSuccessesToClose int
}

const (
	dashboardPropsEnv     = "DASHBOARD_PROPERTIES_PATH"
	dashboardEnvPrefix    = "DASHBOARD"
	defaultDashboardProps = "dashboard.properties"
)

var dashboardKeys = []string{
	"listen_address", "log_path", "http_read_timeout_ms", "http_write_timeout_ms", "shutdown_timeout_ms",
	"db.path", "store.driver", "mongo.uri", "mongo.database", "mongo.collection",
	"node.url", "node.timeout", "node.stamp_on_receipt", "cal.slope", "cal.intercept",
	"stale_after", "stale_after_minutes", "on_threshold_psi", "plot_window",
	"schedule.interval", "retention.lifetime", "retention.check_interval",
	"session.secret", "registration.open",
	"archive.bucket", "archive.prefix", "archive.region",
	"kafka.brokers", "kafka.topic", "kafka.attempt_timeout_ms", "kafka.backoff_ms", "kafka.max_wait",
	"cb.max_failures", "cb.reset_timeout", "cb.successes_to_close",
}

func defaultDashboard() Dashboard {
	return Dashboard{
		ListenAddress:          ":8000",
		LogFilePath:            filepath.Clean("logs/dashboard.log"),
		HTTPReadTimeout:        5 * time.Second,
		HTTPWriteTimeout:       30 * time.Second,
		ShutdownTimeout:        5 * time.Second,
		DBPath:                 filepath.Clean("data/site.db"),
		StoreDriver:            "sqlite",
		MongoDatabase:          "homemon",
		MongoCollection:        "monitor_readings",
		NodeURL:                "http://pressure-pi",
		NodeTimeout:            10 * time.Second,
		Calibration:            reading.DefaultLine(),
		StaleAfter:             15 * time.Minute,
		OnThresholdPSI:         30,
		PlotWindow:             7 * 24 * time.Hour,
		ScheduleInterval:       15 * time.Minute,
		RetentionLifetime:      7 * 24 * time.Hour,
		RetentionCheckInterval: time.Hour,
		RegistrationOpen:       true,
		ArchivePrefix:          "homemon",
		KafkaTopic:             "homemon.readings",
		KafkaAttemptTimeout:    3 * time.Second,
		KafkaBackoff:           200 * time.Millisecond,
		KafkaMaxWait:           5 * time.Second,
		CBMaxFailures:          5,
		CBResetTimeout:         30 * time.Second,
		CBSuccessesToClose:     1,
	}
}

// LoadDashboard resolves the dashboard configuration. The properties file
// location can be overridden with DASHBOARD_PROPERTIES_PATH; every key can be
// overridden with DASHBOARD_<KEY>.
func LoadDashboard() (Dashboard, error) {
	cfg := defaultDashboard()
	path, err := loadLayered(dashboardPropsEnv, defaultDashboardProps, dashboardEnvPrefix, dashboardKeys, cfg.set)
	cfg.PropertiesPath = path
	if err != nil {
		return Dashboard{}, err
	}
	if cfg.StoreDriver == "mongo" && cfg.MongoURI == "" {
		return Dashboard{}, fmt.Errorf("mongo.uri is required with store.driver=mongo")
	}
	return cfg, nil
}

func (cfg *Dashboard) set(key, value string) error {
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
	case "db.path":
		if value, err = nonEmpty(key, value); err == nil {
			cfg.DBPath = filepath.Clean(value)
		}
	case "store.driver":
		switch value {
		case "sqlite", "mongo", "memory":
			cfg.StoreDriver = value
		default:
			err = fmt.Errorf("unknown store driver %q", value)
		}
	case "mongo.uri":
		cfg.MongoURI = value
	case "mongo.database":
		cfg.MongoDatabase, err = nonEmpty(key, value)
	case "mongo.collection":
		cfg.MongoCollection, err = nonEmpty(key, value)
	case "node.url":
		cfg.NodeURL, err = nonEmpty(key, value)
	case "node.timeout":
		cfg.NodeTimeout, err = parseDuration(value, false)
	case "node.stamp_on_receipt":
		cfg.NodeStampOnReceipt, err = parseBool(value)
	case "cal.slope":
		cfg.Calibration.Slope, err = parseFloat(value)
	case "cal.intercept":
		cfg.Calibration.Intercept, err = parseFloat(value)
	case "stale_after":
		cfg.StaleAfter, err = parseDuration(value, false)
	case "stale_after_minutes":
		var n int
		if n, err = parsePositiveInt(value); err == nil {
			cfg.StaleAfter = time.Duration(n) * time.Minute
		}
	case "on_threshold_psi":
		cfg.OnThresholdPSI, err = parseFloat(value)
	case "plot_window":
		cfg.PlotWindow, err = parseDuration(value, false)
	case "schedule.interval":
		cfg.ScheduleInterval, err = parseDuration(value, true)
	case "retention.lifetime":
		cfg.RetentionLifetime, err = parseDuration(value, true)
	case "retention.check_interval":
		cfg.RetentionCheckInterval, err = parseDuration(value, false)
	case "session.secret":
		cfg.SessionSecret = value
	case "registration.open":
		cfg.RegistrationOpen, err = parseBool(value)
	case "archive.bucket":
		cfg.ArchiveBucket = value
	case "archive.prefix":
		cfg.ArchivePrefix = value
	case "archive.region":
		cfg.ArchiveRegion = value
	case "kafka.brokers":
		cfg.KafkaBrokers = splitAndTrim(value)
	case "kafka.topic":
		cfg.KafkaTopic, err = nonEmpty(key, value)
	case "kafka.attempt_timeout_ms":
		cfg.KafkaAttemptTimeout, err = parsePositiveMillis(value)
	case "kafka.backoff_ms":
		cfg.KafkaBackoff, err = parsePositiveMillis(value)
	case "kafka.max_wait":
		cfg.KafkaMaxWait, err = parseDuration(value, true)
	case "cb.max_failures":
		cfg.CBMaxFailures, err = parsePositiveInt(value)
	case "cb.reset_timeout":
		cfg.CBResetTimeout, err = parseDuration(value, false)
	case "cb.successes_to_close":
		cfg.CBSuccessesToClose, err = strconv.Atoi(value)
		if err == nil && cfg.CBSuccessesToClose < 1 {
			err = fmt.Errorf("cb.successes_to_close must be >= 1")
		}
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return err
}
