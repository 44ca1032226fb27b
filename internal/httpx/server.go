// v2
// internal/httpx/server.go
// Package httpx holds the HTTP plumbing shared by the sensor node and the
// dashboard: server construction, middleware, health state and the run
// loop with graceful shutdown.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"homemon/internal/logging"
)

// ServerConfig carries the listener settings of a service.
type ServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Wrap adds access logging and panic recovery around h.
func Wrap(dl *logging.DualLogger, h http.Handler) http.Handler {
	logged := handlers.CombinedLoggingHandler(dl.Access, h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{dl.Logger}),
		handlers.PrintRecoveryStack(false),
	)(logged)
}

type recoveryLogger struct {
	log *slog.Logger
}

func (r recoveryLogger) Println(v ...interface{}) {
	r.log.Error("http_handler_panic", slog.String("panic", fmt.Sprint(v...)))
}

// NewServer builds an http.Server with the configured timeouts.
func NewServer(cfg ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * cfg.WriteTimeout,
	}
}

// Worker is a background loop that runs until its context ends.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Run serves srv and the workers until ctx is cancelled or one of them
// stops, then shuts everything down within shutdownTimeout.
func Run(ctx context.Context, log *slog.Logger, srv *http.Server, health *HealthState, shutdownTimeout time.Duration, workers ...Worker) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpCh := make(chan error, 1)
	go func() {
		health.SetReady(true)
		log.Info("http_server_listen", slog.String("address", srv.Addr))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpCh <- err
			return
		}
		httpCh <- nil
	}()

	type result struct {
		name string
		err  error
	}
	workerCh := make(chan result, len(workers))
	for _, w := range workers {
		w := w
		go func() {
			log.Info("worker_started", slog.String("worker", w.Name))
			workerCh <- result{name: w.Name, err: w.Run(ctx)}
		}()
	}
	pending := len(workers)

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil && !errors.Is(err, context.Canceled) {
			firstErr = err
		}
	}

	select {
	case err := <-httpCh:
		httpCh = nil
		if err != nil {
			log.Error("http_server_error", slog.Any("err", err))
		} else {
			log.Info("server_closed")
		}
		record(err)
	case res := <-workerCh:
		pending--
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			log.Error("worker_error", slog.String("worker", res.name), slog.Any("err", res.err))
		} else {
			log.Info("worker_stopped", slog.String("worker", res.name))
		}
		record(res.err)
	case <-ctx.Done():
		log.Info("shutdown_signal")
	}

	cancel()
	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server_shutdown_failed", slog.Any("err", err))
		record(fmt.Errorf("shutdown: %w", err))
	}
	if httpCh != nil {
		record(<-httpCh)
	}
	for ; pending > 0; pending-- {
		res := <-workerCh
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			log.Error("worker_shutdown_error", slog.String("worker", res.name), slog.Any("err", res.err))
		}
		record(res.err)
	}
	if firstErr != nil {
		return firstErr
	}
	log.Info("shutdown_complete")
	return nil
}
