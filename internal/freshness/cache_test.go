// v1
// internal/freshness/cache_test.go
package freshness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"homemon/internal/reading"
	"homemon/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingAcquirer struct {
	calls atomic.Int32
	clk   *clock
	gate  chan struct{}
	err   error
}

func (a *countingAcquirer) Acquire(ctx context.Context) (reading.Reading, error) {
	n := a.calls.Add(1)
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return reading.Reading{}, ctx.Err()
		}
	}
	if a.err != nil {
		return reading.Reading{}, a.err
	}
	return reading.Reading{Timestamp: a.clk.Now(), RawValue: 1000 + int64(n), Voltage: 1.2, Pressure: 2.5}, nil
}

type countingObserver struct {
	hits, misses, ok, failed atomic.Int32
}

func (o *countingObserver) CacheHit()                      { o.hits.Add(1) }
func (o *countingObserver) CacheMiss()                     { o.misses.Add(1) }
func (o *countingObserver) AcquireSucceeded(time.Duration) { o.ok.Add(1) }
func (o *countingObserver) AcquireFailed()                 { o.failed.Add(1) }

func newTestCache(t *testing.T) (*Cache, *store.Memory, *countingAcquirer, *clock, *countingObserver) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)}
	st := store.NewMemory().WithClock(clk.Now)
	acq := &countingAcquirer{clk: clk}
	obs := &countingObserver{}
	c := New(st, acq, Config{
		StaleAfter: 15 * time.Minute,
		Now:        clk.Now,
		Observer:   obs,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return c, st, acq, clk, obs
}

func count(t *testing.T, st store.Store) int64 {
	t.Helper()
	n, err := st.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestGetCurrentOnEmptyStoreAcquiresOnce(t *testing.T) {
	c, st, acq, _, _ := newTestCache(t)
	got, err := c.GetCurrent(context.Background())
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if acq.calls.Load() != 1 {
		t.Fatalf("expected 1 acquisition, got %d", acq.calls.Load())
	}
	if count(t, st) != 1 {
		t.Fatalf("expected 1 stored reading, got %d", count(t, st))
	}
	latest, ok, err := st.MostRecent(context.Background())
	if err != nil || !ok {
		t.Fatalf("most recent: ok=%v err=%v", ok, err)
	}
	if latest != got {
		t.Fatalf("returned reading %+v differs from stored %+v", got, latest)
	}
}

func TestGetCurrentTwiceWithinWindowIsIdentical(t *testing.T) {
	c, st, acq, clk, obs := newTestCache(t)
	first, err := c.GetCurrent(context.Background())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	clk.Advance(14 * time.Minute)
	second, err := c.GetCurrent(context.Background())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical readings, got %+v and %+v", first, second)
	}
	if acq.calls.Load() != 1 || count(t, st) != 1 {
		t.Fatalf("expected one acquisition and one row, got %d and %d", acq.calls.Load(), count(t, st))
	}
	if obs.hits.Load() != 1 || obs.misses.Load() != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %d and %d", obs.hits.Load(), obs.misses.Load())
	}
}

func TestGetCurrentWithFreshReadingDoesNotAcquire(t *testing.T) {
	c, st, acq, clk, _ := newTestCache(t)
	seeded, err := st.Insert(context.Background(), reading.Reading{Timestamp: clk.Now().Add(-5 * time.Minute), RawValue: 7})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := c.GetCurrent(context.Background())
		if err != nil {
			t.Fatalf("get current: %v", err)
		}
		if got != seeded {
			t.Fatalf("expected seeded reading, got %+v", got)
		}
	}
	if acq.calls.Load() != 0 {
		t.Fatalf("expected no acquisitions, got %d", acq.calls.Load())
	}
}

func TestGetCurrentExactlyAtThresholdIsFresh(t *testing.T) {
	c, _, acq, clk, _ := newTestCache(t)
	if _, err := c.GetCurrent(context.Background()); err != nil {
		t.Fatalf("get current: %v", err)
	}
	clk.Advance(15 * time.Minute)
	if _, err := c.GetCurrent(context.Background()); err != nil {
		t.Fatalf("get current: %v", err)
	}
	if acq.calls.Load() != 1 {
		t.Fatalf("expected the boundary to count as fresh, got %d acquisitions", acq.calls.Load())
	}
}

func TestGetCurrentWithStaleReadingAcquiresNewer(t *testing.T) {
	c, st, acq, clk, _ := newTestCache(t)
	old, err := st.Insert(context.Background(), reading.Reading{Timestamp: clk.Now().Add(-20 * time.Minute), RawValue: 7})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := c.GetCurrent(context.Background())
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if acq.calls.Load() != 1 {
		t.Fatalf("expected 1 acquisition, got %d", acq.calls.Load())
	}
	if count(t, st) != 2 {
		t.Fatalf("expected 2 rows, got %d", count(t, st))
	}
	if got.ID == old.ID || !got.Timestamp.After(old.Timestamp) {
		t.Fatalf("expected the newer reading, got %+v", got)
	}
}

func TestConcurrentStaleCallersShareOneAcquisition(t *testing.T) {
	c, st, acq, _, _ := newTestCache(t)
	acq.gate = make(chan struct{})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]store.Stored, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetCurrent(context.Background())
		}(i)
	}
	deadline := time.Now().Add(2 * time.Second)
	for acq.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(acq.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got %+v, caller 0 got %+v", i, results[i], results[0])
		}
	}
	if acq.calls.Load() != 1 {
		t.Fatalf("expected exactly one acquisition, got %d", acq.calls.Load())
	}
	if count(t, st) != 1 {
		t.Fatalf("expected one stored reading, got %d", count(t, st))
	}
}

func TestRefreshAlwaysAcquires(t *testing.T) {
	c, st, acq, _, _ := newTestCache(t)
	if _, err := c.GetCurrent(context.Background()); err != nil {
		t.Fatalf("get current: %v", err)
	}
	refreshed, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if acq.calls.Load() != 2 || count(t, st) != 2 {
		t.Fatalf("expected 2 acquisitions and rows, got %d and %d", acq.calls.Load(), count(t, st))
	}
	got, err := c.GetCurrent(context.Background())
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if got != refreshed {
		t.Fatalf("expected refreshed reading to be current, got %+v", got)
	}
}

// pausingStore blocks the second MostRecent call, which is the re-check
// inside a GetCurrent flight.
type pausingStore struct {
	*store.Memory
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (p *pausingStore) MostRecent(ctx context.Context) (store.Stored, bool, error) {
	if p.calls.Add(1) == 2 {
		close(p.entered)
		<-p.release
	}
	return p.Memory.MostRecent(ctx)
}

func TestRefreshJoiningFreshRecheckStillAcquires(t *testing.T) {
	clk := &clock{now: time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory().WithClock(clk.Now)
	st := &pausingStore{Memory: mem, entered: make(chan struct{}), release: make(chan struct{})}
	acq := &countingAcquirer{clk: clk}
	c := New(st, acq, Config{
		StaleAfter: 15 * time.Minute,
		Now:        clk.Now,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()
	if _, err := mem.Insert(ctx, reading.Reading{Timestamp: clk.Now(), RawValue: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clk.Advance(20 * time.Minute)

	current := make(chan store.Stored, 1)
	go func() {
		got, _ := c.GetCurrent(ctx)
		current <- got
	}()
	<-st.entered
	// Another writer stores a fresh row while the flight is re-checking.
	if _, err := mem.Insert(ctx, reading.Reading{Timestamp: clk.Now(), RawValue: 2}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	refreshed := make(chan store.Stored, 1)
	errs := make(chan error, 1)
	go func() {
		got, err := c.Refresh(ctx)
		errs <- err
		refreshed <- got
	}()
	time.Sleep(20 * time.Millisecond)
	close(st.release)

	if got := <-current; got.RawValue != 2 {
		t.Fatalf("expected GetCurrent to return the fresh row, got %+v", got)
	}
	if err := <-errs; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got := <-refreshed
	if acq.calls.Load() != 1 || got.RawValue != 1001 {
		t.Fatalf("expected Refresh to take its own reading, got %+v after %d acquisitions", got, acq.calls.Load())
	}
}

func TestAcquisitionFailurePropagatesWithoutInsert(t *testing.T) {
	c, st, acq, _, obs := newTestCache(t)
	acq.err = errors.New("connection refused")
	_, err := c.GetCurrent(context.Background())
	if !errors.Is(err, reading.ErrAcquisitionFailure) {
		t.Fatalf("expected acquisition failure, got %v", err)
	}
	if count(t, st) != 0 {
		t.Fatalf("expected nothing stored")
	}
	if obs.failed.Load() != 1 {
		t.Fatalf("expected failure to be observed")
	}
}

func TestAcquisitionTimeoutIsAcquisitionFailure(t *testing.T) {
	clk := &clock{now: time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)}
	acq := &countingAcquirer{clk: clk, gate: make(chan struct{})}
	c := New(store.NewMemory(), acq, Config{
		AcquireTimeout: 10 * time.Millisecond,
		Now:            clk.Now,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	_, err := c.GetCurrent(context.Background())
	if !errors.Is(err, reading.ErrAcquisitionFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timed-out acquisition failure, got %v", err)
	}
}

type brokenStore struct {
	store.Store
}

func (brokenStore) MostRecent(context.Context) (store.Stored, bool, error) {
	return store.Stored{}, false, errors.New("disk I/O error")
}

func TestStorageFailureIsTyped(t *testing.T) {
	clk := &clock{now: time.Now()}
	acq := &countingAcquirer{clk: clk}
	c := New(brokenStore{Store: store.NewMemory()}, acq, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := c.GetCurrent(context.Background())
	if !errors.Is(err, reading.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if acq.calls.Load() != 0 {
		t.Fatalf("storage failure must not trigger acquisition")
	}
}

func TestCallerCancellationDoesNotAbortSharedFlight(t *testing.T) {
	c, st, acq, _, _ := newTestCache(t)
	acq.gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetCurrent(ctx)
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for acq.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	close(acq.gate)
	// A second caller joins or follows the original flight.
	if _, err := c.GetCurrent(context.Background()); err != nil {
		t.Fatalf("get current: %v", err)
	}
	if acq.calls.Load() != 1 || count(t, st) != 1 {
		t.Fatalf("expected the original flight to complete once, got %d acquisitions and %d rows", acq.calls.Load(), count(t, st))
	}
}
