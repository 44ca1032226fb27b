// v2
// internal/dashboard/app.go
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"

	"homemon/internal/breaker"
	"homemon/internal/config"
	"homemon/internal/freshness"
	"homemon/internal/httpx"
	"homemon/internal/logging"
	"homemon/internal/nodeclient"
	"homemon/internal/store"
)

const eventBuffer = 256

// Application wires configuration, storage, the node client, the freshness
// cache, routing, background loops and graceful shutdown.
type Application struct {
	cfg     config.Dashboard
	logs    *logging.DualLogger
	db      *gorm.DB
	store   store.Store
	cache   *freshness.Cache
	metrics *Metrics
	server  *http.Server
	health  *httpx.HealthState
	events  *Events
	writer  io.Closer
	workers []httpx.Worker
}

func New(ctx context.Context, cfg config.Dashboard) (*Application, error) {
	logs, err := logging.New(cfg.LogFilePath, slog.LevelInfo)
	if err != nil {
		return nil, err
	}
	app, err := build(ctx, cfg, logs)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg config.Dashboard, logs *logging.DualLogger) (_ *Application, err error) {
	logger := logs.Logger
	app := &Application{cfg: cfg, logs: logs, health: httpx.NewHealthState(), metrics: NewMetrics()}
	defer func() {
		if err != nil {
			_ = app.closeResources()
		}
	}()

	app.db, err = store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	base, err := store.Open(ctx, store.Options{
		Driver:          cfg.StoreDriver,
		SQL:             app.db,
		MongoURI:        cfg.MongoURI,
		MongoDatabase:   cfg.MongoDatabase,
		MongoCollection: cfg.MongoCollection,
	})
	if err != nil {
		return nil, err
	}
	app.store = base
	logger.Info("store_opened", slog.String("driver", cfg.StoreDriver), slog.String("db_path", cfg.DBPath))

	cbCfg := breaker.Config{
		MaxFailures:      cfg.CBMaxFailures,
		ResetTimeout:     cfg.CBResetTimeout,
		SuccessesToClose: cfg.CBSuccessesToClose,
	}

	if len(cfg.KafkaBrokers) > 0 {
		w := &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  cfg.KafkaTopic,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		}
		app.writer = w
		kb := breaker.NewKafkaBreaker("kafka-readings", breaker.KafkaConfig{
			Enabled:        true,
			Breaker:        cbCfg,
			AttemptTimeout: cfg.KafkaAttemptTimeout,
			Backoff:        cfg.KafkaBackoff,
			MaxWait:        cfg.KafkaMaxWait,
		}, nil, logger)
		app.metrics.TrackBreaker("kafka", kb.Breaker())
		app.events = NewEvents(breaker.NewKafkaWriter(w, kb), eventBuffer, app.metrics, logger)
		app.store = NewPublishingStore(base, app.events)
		app.workers = append(app.workers, httpx.Worker{Name: "events", Run: app.events.Run})
		logger.Info("events_configured", slog.String("brokers", strings.Join(cfg.KafkaBrokers, ",")), slog.String("topic", cfg.KafkaTopic))
	}

	nodeHTTP := breaker.NewHTTPClient("sensor-node", cbCfg, strings.TrimRight(cfg.NodeURL, "/")+"/health",
		&http.Client{Timeout: cfg.NodeTimeout}, logger)
	app.metrics.TrackBreaker("sensor-node", nodeHTTP.Breaker())
	client := nodeclient.New(cfg.NodeURL, nodeHTTP, cfg.NodeStampOnReceipt)

	app.cache = freshness.New(app.store, client, freshness.Config{
		StaleAfter:     cfg.StaleAfter,
		AcquireTimeout: cfg.NodeTimeout,
		Observer:       app.metrics,
		Logger:         logger,
	})
	logger.Info("node_configured", slog.String("url", client.URL()), slog.Duration("stale_after", cfg.StaleAfter))

	var archiver *Archiver
	if cfg.ArchiveBucket != "" {
		up, err := NewS3Uploader(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion)
		if err != nil {
			return nil, err
		}
		archiver = NewArchiver(up, cfg.ArchivePrefix, app.metrics, logger)
		logger.Info("archive_configured", slog.String("bucket", cfg.ArchiveBucket), slog.String("prefix", cfg.ArchivePrefix))
	}
	pruner := NewPruner(app.store, archiver, app.metrics, logger)

	users, err := NewUsers(app.db)
	if err != nil {
		return nil, err
	}
	cals, err := NewCalibrations(app.db)
	if err != nil {
		return nil, err
	}
	sessions := NewSessions(cfg.SessionSecret, users, logger.With("component", "session"))

	if cfg.ScheduleInterval > 0 {
		app.workers = append(app.workers, httpx.Worker{Name: "refresh", Run: RefreshLoop(app.cache, cfg.ScheduleInterval, logger)})
	}
	if cfg.RetentionLifetime > 0 {
		app.workers = append(app.workers, httpx.Worker{Name: "retention", Run: RetentionLoop(pruner, cfg.RetentionLifetime, cfg.RetentionCheckInterval, nil)})
	}

	h := NewHandlers(app.cache, app.store, users, cals, sessions, pruner, HandlerConfig{
		OnThresholdPSI:   cfg.OnThresholdPSI,
		PlotWindow:       cfg.PlotWindow,
		StaleAfter:       cfg.StaleAfter,
		RegistrationOpen: cfg.RegistrationOpen,
		Line:             cfg.Calibration,
	}, logger.With("component", "http"))
	app.server = httpx.NewServer(httpx.ServerConfig{
		Address:      cfg.ListenAddress,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}, httpx.Wrap(logs, NewRouter(h, app.metrics, app.health)))
	return app, nil
}

func (a *Application) Logger() *slog.Logger { return a.logs.Logger }

// Handler exposes the wrapped router.
func (a *Application) Handler() http.Handler { return a.server.Handler }

// Cache exposes the freshness cache.
func (a *Application) Cache() *freshness.Cache { return a.cache }

// Run blocks until ctx is cancelled or the server stops.
func (a *Application) Run(ctx context.Context) error {
	return httpx.Run(ctx, a.logs.Logger, a.server, a.health, a.cfg.ShutdownTimeout, a.workers...)
}

// Close releases the Kafka writer, the stores and the log file.
func (a *Application) Close() error {
	return errors.Join(a.closeResources(), a.logs.Close())
}

func (a *Application) closeResources() error {
	var errs []error
	if a.writer != nil {
		errs = append(errs, a.writer.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	// The sqlite store owns the shared handle; other drivers leave it open.
	if a.db != nil && !a.sqliteStore() {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close dashboard: %w", err)
	}
	return nil
}

func (a *Application) sqliteStore() bool {
	if a.store == nil {
		return false
	}
	d := strings.ToLower(strings.TrimSpace(a.cfg.StoreDriver))
	return d == "" || d == "sqlite"
}
