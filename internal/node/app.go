// v2
// internal/node/app.go
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"homemon/internal/config"
	"homemon/internal/httpx"
	"homemon/internal/logging"
	"homemon/internal/sensor"
)

// simulatedBaseRaw starts the simulated walk near 40 psi on the default line.
const simulatedBaseRaw = 8930

// Application wires configuration, the sensor, routing, the optional
// monitor loop and graceful shutdown for the sensor node.
type Application struct {
	cfg     config.Node
	logs    *logging.DualLogger
	server  *http.Server
	health  *httpx.HealthState
	monitor *Monitor
	pub     Publisher
	bus     io.Closer
}

func New(cfg config.Node) (*Application, error) {
	logs, err := logging.New(cfg.LogFilePath, slog.LevelInfo)
	if err != nil {
		return nil, err
	}
	app, err := build(cfg, logs)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	return app, nil
}

func build(cfg config.Node, logs *logging.DualLogger) (*Application, error) {
	logger := logs.Logger
	reader, bus, err := openReader(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("sensor_opened",
		slog.String("driver", cfg.ADCDriver),
		slog.String("bus", cfg.ADCBus),
		slog.Int("channel", cfg.ADCChannel),
		slog.String("gain", cfg.ADCGain),
		slog.Float64("slope", cfg.Calibration.Slope),
		slog.Float64("intercept", cfg.Calibration.Intercept),
	)
	sampler := sensor.NewSampler(reader, cfg.Calibration)

	app := &Application{cfg: cfg, logs: logs, health: httpx.NewHealthState(), bus: bus}

	if cfg.MonitorEnabled {
		var pub Publisher
		if cfg.MQTTBroker != "" {
			rp := NewRedialPublisher(func() (Publisher, error) {
				return NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, logger)
			}, logger)
			if err := rp.Connect(); err != nil {
				// Retried by the monitor on every cycle.
				logger.Warn("mqtt_unavailable", slog.String("broker", cfg.MQTTBroker), slog.Any("err", err))
			}
			pub = rp
		}
		app.pub = pub
		app.monitor = NewMonitor(sampler, NewCSVLog(cfg.MonitorCSVPath), pub, cfg.MonitorInterval, logger)
		logger.Info("monitor_configured",
			slog.Duration("interval", cfg.MonitorInterval),
			slog.String("csv_path", cfg.MonitorCSVPath),
			slog.String("mqtt_topic", cfg.MQTTTopic),
			slog.Bool("mqtt", pub != nil),
		)
	}

	handlers := NewHandlers(sampler, HandlerConfig{
		AverageCount:     cfg.AverageCount,
		CalibrationCount: cfg.CalibrationCount,
		OnThresholdPSI:   cfg.OnThresholdPSI,
	}, logger.With("component", "http"))
	router := NewRouter(handlers, app.health)
	app.server = httpx.NewServer(httpx.ServerConfig{
		Address:      cfg.ListenAddress,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}, httpx.Wrap(logs, router))
	return app, nil
}

func openReader(cfg config.Node) (sensor.Reader, io.Closer, error) {
	switch cfg.ADCDriver {
	case "simulated":
		return sensor.NewSimulated(simulatedBaseRaw, 0), nil, nil
	case "ads1115":
		gain, err := sensor.ParseGain(cfg.ADCGain)
		if err != nil {
			return nil, nil, err
		}
		bus, err := sensor.OpenBus(cfg.ADCBus)
		if err != nil {
			return nil, nil, err
		}
		dev, err := sensor.NewADS1115(bus, sensor.ADS1115Config{
			Address: cfg.ADCAddress,
			Channel: cfg.ADCChannel,
			Gain:    gain,
		})
		if err != nil {
			_ = bus.Close()
			return nil, nil, err
		}
		return dev, bus, nil
	default:
		return nil, nil, fmt.Errorf("unknown adc driver %q", cfg.ADCDriver)
	}
}

func (a *Application) Logger() *slog.Logger { return a.logs.Logger }

// Handler exposes the wrapped router.
func (a *Application) Handler() http.Handler { return a.server.Handler }

// Run blocks until ctx is cancelled or the server stops.
func (a *Application) Run(ctx context.Context) error {
	var workers []httpx.Worker
	if a.monitor != nil {
		workers = append(workers, httpx.Worker{Name: "monitor", Run: a.monitor.Run})
	}
	return httpx.Run(ctx, a.logs.Logger, a.server, a.health, a.cfg.ShutdownTimeout, workers...)
}

// Close releases the publisher, the I2C bus and the log file.
func (a *Application) Close() error {
	if a.pub != nil {
		a.pub.Close()
	}
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	errs = append(errs, a.logs.Close())
	return errors.Join(errs...)
}
