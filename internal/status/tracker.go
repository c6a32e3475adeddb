// internal/status/tracker.go
package status

import (
	"math"
	"sync"
)

type pollCounts struct {
	missing int
	total   int
}

// Tracker folds poll outcomes into a link Snapshot. Each poll source keeps
// its latest counts; health is derived from all of them together.
type Tracker struct {
	mu      sync.Mutex
	snap    Snapshot
	sources map[string]pollCounts
}

func NewTracker() *Tracker {
	return &Tracker{
		snap:    Snapshot{Health: HealthUnknown},
		sources: make(map[string]pollCounts),
	}
}

// Observe records the outcome of one poll cycle of source.
func (t *Tracker) Observe(source string, missing, total int) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Health == HealthDisabled {
		return t.snap, false
	}
	t.sources[source] = pollCounts{missing: missing, total: total}

	var m, n int
	for _, c := range t.sources {
		m += c.missing
		n += c.total
	}

	next := t.snap
	switch {
	case n == 0:
		next.Health = HealthUnknown
	case m == 0:
		next.Health = HealthOK
	case m >= n:
		next.Health = HealthError
	default:
		next.Health = HealthStale
	}
	next.LastErrorCode = clamp(m)
	if next.Health == HealthOK {
		next.SecondsInError = 0
	}

	changed := next != t.snap
	t.snap = next
	return next, changed
}

// Tick is called at 1 Hz. It advances SecondsInError while the link is
// neither OK nor Unknown. The counter saturates and never wraps.
func (t *Tracker) Tick() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.snap.Health {
	case HealthError, HealthStale:
		if t.snap.SecondsInError < math.MaxUint16 {
			t.snap.SecondsInError++
			return t.snap, true
		}
	}
	return t.snap, false
}

// Disable marks the link as disabled; later observations are ignored.
func (t *Tracker) Disable() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Health = HealthDisabled
	return t.snap
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func clamp(n int) uint16 {
	if n > math.MaxUint16 {
		return math.MaxUint16
	}
	if n < 0 {
		return 0
	}
	return uint16(n)
}
