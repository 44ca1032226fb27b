// v3
// internal/freshness/cache.go
// Package freshness serves the latest stored reading while it is younger than
// a staleness threshold and acquires a new one otherwise.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"homemon/internal/reading"
	"homemon/internal/store"
)

const (
	DefaultStaleAfter     = 15 * time.Minute
	DefaultAcquireTimeout = 10 * time.Second

	flightKey = "acquire"
)

// Acquirer produces a new reading, typically by asking the sensor node.
type Acquirer interface {
	Acquire(ctx context.Context) (reading.Reading, error)
}

// AcquireFunc adapts a function to Acquirer.
type AcquireFunc func(ctx context.Context) (reading.Reading, error)

func (f AcquireFunc) Acquire(ctx context.Context) (reading.Reading, error) { return f(ctx) }

// Observer receives cache outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	CacheHit()
	CacheMiss()
	AcquireSucceeded(d time.Duration)
	AcquireFailed()
}

// Config tunes a Cache. Zero values take defaults.
type Config struct {
	StaleAfter     time.Duration
	AcquireTimeout time.Duration
	Now            func() time.Time
	Observer       Observer
	Logger         *slog.Logger
}

// Cache is a read-through cache over a reading store. It holds no reading
// of its own; freshness is recomputed from the clock on every call.
type Cache struct {
	store      store.Store
	acquirer   Acquirer
	staleAfter time.Duration
	timeout    time.Duration
	now        func() time.Time
	obs        Observer
	log        *slog.Logger
	flight     singleflight.Group
}

func New(st store.Store, acq Acquirer, cfg Config) *Cache {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		store:      st,
		acquirer:   acq,
		staleAfter: cfg.StaleAfter,
		timeout:    cfg.AcquireTimeout,
		now:        cfg.Now,
		obs:        cfg.Observer,
		log:        cfg.Logger.With("component", "freshness"),
	}
}

// StaleAfter reports the configured staleness threshold.
func (c *Cache) StaleAfter() time.Duration { return c.staleAfter }

// GetCurrent returns the most recent stored reading when it is fresh, and
// otherwise acquires, stores and returns a new one. An empty store is always
// stale. Concurrent stale callers share a single acquisition.
func (c *Cache) GetCurrent(ctx context.Context) (store.Stored, error) {
	cur, ok, err := c.store.MostRecent(ctx)
	if err != nil {
		return store.Stored{}, storageErr(err)
	}
	if ok && c.fresh(cur) {
		c.hit()
		return cur, nil
	}
	c.miss()
	out, err := c.do(ctx, func(fctx context.Context) (flightResult, error) {
		// A flight that finished just before this one may already have
		// stored a fresh reading.
		cur, ok, err := c.store.MostRecent(fctx)
		if err != nil {
			return flightResult{}, storageErr(err)
		}
		if ok && c.fresh(cur) {
			return flightResult{stored: cur}, nil
		}
		return c.acquireAndStore(fctx)
	})
	return out.stored, err
}

// Refresh acquires and stores a reading regardless of freshness. A Refresh
// that arrives while an acquisition is in flight shares its result; one that
// joins a flight which only re-read the store starts its own.
func (c *Cache) Refresh(ctx context.Context) (store.Stored, error) {
	for {
		out, err := c.do(ctx, c.acquireAndStore)
		if err != nil {
			return store.Stored{}, err
		}
		if out.acquired {
			return out.stored, nil
		}
	}
}

// flightResult records whether the flight acquired its reading or found a
// fresh one already stored.
type flightResult struct {
	stored   store.Stored
	acquired bool
}

func (c *Cache) fresh(s store.Stored) bool {
	return c.now().Sub(s.Timestamp) <= c.staleAfter
}

func (c *Cache) do(ctx context.Context, fn func(context.Context) (flightResult, error)) (flightResult, error) {
	// The flight outlives any single caller; each caller only stops waiting
	// when its own context ends.
	fctx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return flightResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return flightResult{}, res.Err
		}
		return res.Val.(flightResult), nil
	}
}

func (c *Cache) acquireAndStore(ctx context.Context) (flightResult, error) {
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	r, err := c.acquirer.Acquire(actx)
	cancel()
	if err != nil {
		if c.obs != nil {
			c.obs.AcquireFailed()
		}
		c.log.Warn("reading_acquire_failed", slog.Any("err", err))
		return flightResult{}, acquisitionErr(err)
	}
	if c.obs != nil {
		c.obs.AcquireSucceeded(time.Since(start))
	}
	stored, err := c.store.Insert(ctx, r)
	if err != nil {
		c.log.Error("reading_store_failed", slog.Any("err", err))
		return flightResult{}, storageErr(err)
	}
	c.log.Info("reading_acquired",
		slog.String("id", stored.ID),
		slog.Time("datetime", stored.Timestamp),
		slog.Int64("rawvalue", stored.RawValue),
		slog.Float64("pressure", stored.Pressure),
	)
	return flightResult{stored: stored, acquired: true}, nil
}

func (c *Cache) hit() {
	if c.obs != nil {
		c.obs.CacheHit()
	}
}

func (c *Cache) miss() {
	if c.obs != nil {
		c.obs.CacheMiss()
	}
}

func acquisitionErr(err error) error {
	if errors.Is(err, reading.ErrAcquisitionFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", reading.ErrAcquisitionFailure, err)
}

func storageErr(err error) error {
	if errors.Is(err, reading.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", reading.ErrStorageUnavailable, err)
}
