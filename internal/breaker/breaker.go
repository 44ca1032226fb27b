// v3
// internal/breaker/breaker.go
// Package breaker guards calls to remote dependencies with a
// closed/open/half-open circuit breaker.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before probing
	SuccessesToClose int           // half-open successes required to close
}

func (c Config) withDefaults() Config {
	if c.MaxFailures < 1 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessesToClose < 1 {
		c.SuccessesToClose = 1
	}
	return c
}

type Breaker struct {
	name string
	cfg  Config
	log  *slog.Logger
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool

	probe func(ctx context.Context) error
}

// New builds a closed breaker. probe, when set, runs once before the first
// operation allowed through after the reset timeout.
func New(name string, cfg Config, probe func(ctx context.Context) error, log *slog.Logger) *Breaker {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		log:   log.With("component", "breaker", "name", name),
		now:   time.Now,
		state: Closed,
		probe: probe,
	}
	b.log.Info("breaker_created", "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String(), "successesToClose", cfg.SuccessesToClose)
	return b
}

// Execute runs op unless the breaker is open. A failure that opens the
// breaker is returned wrapped in ErrOpen.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch {
	case b.state == Open && b.now().Sub(b.openedAt) < b.cfg.ResetTimeout:
		since := b.now().Sub(b.openedAt)
		b.mu.Unlock()
		b.log.Warn("breaker_fast_fail", "since_open", since.String())
		return ErrOpen
	case b.probing:
		b.mu.Unlock()
		return ErrOpen
	case b.state == Open:
		b.probing = true
		b.setState(HalfOpen)
		b.mu.Unlock()
		return b.probeThenOp(ctx, op)
	}
	b.mu.Unlock()

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	if b.onFailure(err) {
		return fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return err
}

func (b *Breaker) probeThenOp(ctx context.Context, op func(ctx context.Context) error) error {
	b.log.Info("breaker_probe_start")
	if b.probe != nil {
		if err := b.probe(ctx); err != nil {
			b.log.Warn("breaker_probe_failed", "error", err.Error())
			b.mu.Lock()
			b.probing = false
			b.trip()
			b.mu.Unlock()
			return fmt.Errorf("%w: probe: %w", ErrOpen, err)
		}
		b.log.Info("breaker_probe_ok")
	}

	err := op(ctx)
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
	if err != nil {
		b.log.Warn("breaker_halfopen_op_failed", "error", err.Error())
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessesToClose {
			b.setState(Closed)
		}
	default:
		b.failures = 0
	}
}

// onFailure records err and reports whether the breaker is now open.
func (b *Breaker) onFailure(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.trip()
		return true
	}
	b.failures++
	b.log.Warn("operation_failure", "failures", b.failures, "error", err.Error())
	if b.failures >= b.cfg.MaxFailures {
		b.trip()
		return true
	}
	return false
}

// trip opens the breaker. Callers hold b.mu.
func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.setState(Open)
}

// setState resets counters on every transition. Callers hold b.mu.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	b.failures = 0
	b.successes = 0
	switch s {
	case Open:
		b.log.Error("breaker_opened", "from", from.String(), "maxFailures", b.cfg.MaxFailures)
	default:
		b.log.Info("breaker_state", "from", from.String(), "to", s.String())
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Name() string { return b.name }
