// v1
// internal/logging/logging.go
// Package logging builds the service loggers: structured slog events fanned
// out to stdout and a log file, plus an access-log writer for the same
// destinations.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type DualLogger struct {
	Logger *slog.Logger
	// Access receives Apache-style access lines.
	Access io.Writer
	file   *os.File
}

// New opens (appending) the log file at path, creating its directory.
func New(path string, level slog.Level) (*DualLogger, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	console := slog.NewTextHandler(os.Stdout, opts)
	fileHandler := slog.NewTextHandler(f, opts)
	return &DualLogger{
		Logger: slog.New(&teeHandler{handlers: []slog.Handler{console, fileHandler}}),
		Access: io.MultiWriter(os.Stdout, f),
		file:   f,
	}, nil
}

// Discard is a DualLogger that drops everything.
func Discard() *DualLogger {
	return &DualLogger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Access: io.Discard}
}

func (d *DualLogger) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}

type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		next = append(next, h.WithAttrs(attrs))
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		next = append(next, h.WithGroup(name))
	}
	return &teeHandler{handlers: next}
}
