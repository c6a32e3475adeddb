// internal/telemetry/limiter.go
package telemetry

import (
	"sync"
	"time"
)

// Limiter lets at most one record per type through each interval. Types
// without an interval always pass.
type Limiter struct {
	mu    sync.Mutex
	every map[string]time.Duration
	last  map[string]time.Time
	now   func() time.Time
}

func NewLimiter(every map[string]time.Duration) *Limiter {
	m := make(map[string]time.Duration, len(every))
	for k, v := range every {
		if v > 0 {
			m[k] = v
		}
	}
	return &Limiter{
		every: m,
		last:  make(map[string]time.Time),
		now:   time.Now,
	}
}

func (l *Limiter) Allow(typ string) bool {
	if l == nil {
		return true
	}
	d, ok := l.every[typ]
	if !ok {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if last, seen := l.last[typ]; seen && now.Sub(last) < d {
		return false
	}
	l.last[typ] = now
	return true
}
