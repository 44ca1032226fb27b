// v1
// internal/sensor/simulated.go
package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Simulated produces a bounded random walk of raw codes for hosts without an
// ADC attached.
type Simulated struct {
	mu        sync.Mutex
	rng       *rand.Rand
	raw       int64
	min, max  int64
	step      int64
	fullScale float64
}

// NewSimulated starts the walk at base. Codes stay inside [0, 32767].
func NewSimulated(base int64, seed int64) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		rng:       rand.New(rand.NewSource(seed)),
		raw:       base,
		min:       0,
		max:       32767,
		step:      40,
		fullScale: gainFullScale[Gain1],
	}
}

// Sample implements Reader.
func (s *Simulated) Sample(ctx context.Context) (int64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw += s.rng.Int63n(2*s.step+1) - s.step
	if s.raw < s.min {
		s.raw = s.min
	}
	if s.raw > s.max {
		s.raw = s.max
	}
	return s.raw, float64(s.raw) * s.fullScale / 32768.0, nil
}
