// v1
// internal/store/memory.go
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"homemon/internal/reading"
)

var errClosed = errors.New("store closed")

// Memory keeps readings in insertion order in process memory.
type Memory struct {
	mu     sync.RWMutex
	rows   []Stored
	now    func() time.Time
	closed bool
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// WithClock replaces the clock used to stamp readings without a timestamp.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Insert(ctx context.Context, r reading.Reading) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, unavailable("insert", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Stored{}, unavailable("insert", errClosed)
	}
	s := Stored{ID: uuid.NewString(), Reading: stamp(r, m.now)}
	m.rows = append(m.rows, s)
	return s, nil
}

func (m *Memory) MostRecent(ctx context.Context) (Stored, bool, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, false, unavailable("most recent", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Stored{}, false, unavailable("most recent", errClosed)
	}
	if len(m.rows) == 0 {
		return Stored{}, false, nil
	}
	best := 0
	for i := 1; i < len(m.rows); i++ {
		if !m.rows[i].Timestamp.Before(m.rows[best].Timestamp) {
			best = i
		}
	}
	return m.rows[best], true, nil
}

func (m *Memory) Between(ctx context.Context, from, to time.Time) ([]Stored, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("between", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, unavailable("between", errClosed)
	}
	out := make([]Stored, 0)
	for _, s := range m.rows {
		if !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("prune", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, unavailable("prune", errClosed)
	}
	kept := m.rows[:0]
	var n int64
	for _, s := range m.rows {
		if s.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.rows = kept
	return n, nil
}

func (m *Memory) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, unavailable("count", errClosed)
	}
	return int64(len(m.rows)), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
