// v4
// internal/breaker/kafka.go
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the guard needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaConfig tunes the guarded writer used for reading events.
type KafkaConfig struct {
	Enabled        bool
	Breaker        Config
	AttemptTimeout time.Duration // deadline of one write; 0 keeps the caller's
	Backoff        time.Duration // pause between tries
	// MaxWait caps one publish, retries and waits for the breaker to reset
	// included. 0 leaves only the caller's context.
	MaxWait time.Duration
}

// KafkaBreaker retries failed writes and waits out an open breaker, but never
// longer than MaxWait, so the publisher worker keeps draining its queue.
type KafkaBreaker struct {
	cfg      KafkaConfig
	attempts int
	breaker  *Breaker
	log      *slog.Logger
}

var ErrPublishAbandoned = errors.New("kafka publish abandoned")

// NewKafkaBreaker builds the guard. A disabled guard passes writes straight
// through.
func NewKafkaBreaker(name string, cfg KafkaConfig, probe func(ctx context.Context) error, log *slog.Logger) *KafkaBreaker {
	if log == nil {
		log = slog.Default()
	}
	cfg.Breaker = cfg.Breaker.withDefaults()
	kb := &KafkaBreaker{cfg: cfg, attempts: cfg.Breaker.MaxFailures, log: log.With("component", "kafka", "name", name)}
	if cfg.Enabled {
		kb.breaker = New(name, cfg.Breaker, probe, log)
	}
	return kb
}

// Enabled reports whether the guard is active.
func (k *KafkaBreaker) Enabled() bool {
	return k != nil && k.cfg.Enabled && k.breaker != nil
}

// Breaker exposes the underlying breaker for metrics.
func (k *KafkaBreaker) Breaker() *Breaker {
	if k == nil {
		return nil
	}
	return k.breaker
}

// KafkaWriter is a kafka.Writer behind a KafkaBreaker.
type KafkaWriter struct {
	guard  *KafkaBreaker
	writer messageWriter
}

func NewKafkaWriter(writer messageWriter, guard *KafkaBreaker) *KafkaWriter {
	return &KafkaWriter{writer: writer, guard: guard}
}

func (w *KafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w == nil || w.writer == nil {
		return errors.New("nil kafka writer")
	}
	if !w.guard.Enabled() {
		return w.writer.WriteMessages(ctx, msgs...)
	}
	return w.guard.publish(ctx, func(ctx context.Context) error {
		return w.writer.WriteMessages(ctx, msgs...)
	})
}

// publish tries write until it succeeds, the write fails attempts times, or
// the MaxWait budget runs out. Fast-fails from an open breaker do not use up
// attempts; they only wait.
func (k *KafkaBreaker) publish(ctx context.Context, write func(ctx context.Context) error) error {
	if k.cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.cfg.MaxWait)
		defer cancel()
	}
	started := time.Now()
	failures := 0
	for {
		err := k.breaker.Execute(ctx, func(ctx context.Context) error {
			if k.cfg.AttemptTimeout <= 0 {
				return write(ctx)
			}
			actx, cancel := context.WithTimeout(ctx, k.cfg.AttemptTimeout)
			defer cancel()
			return write(actx)
		})
		if err == nil {
			return nil
		}
		// Execute returns the bare sentinel only when it skipped the write.
		fastFail := err == ErrOpen
		if !fastFail {
			failures++
			if failures >= k.attempts {
				return err
			}
		} else if k.cfg.Backoff <= 0 {
			return err
		}
		if werr := sleepCtx(ctx, k.cfg.Backoff); werr != nil {
			k.log.Warn("kafka_publish_abandoned", "waited", time.Since(started).String(), "failures", failures, "error", err.Error())
			return fmt.Errorf("%w after %s: %w", ErrPublishAbandoned, time.Since(started).Round(time.Millisecond), err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
