// internal/publisher/publisher.go
// Package publisher delivers telemetry records to consumers.
package publisher

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// Publisher receives every record the relay emits.
// Implementations must be safe for concurrent use: pollers publish from
// their own goroutines.
type Publisher interface {
	Publish(recordType string, rec telemetry.Record) error
}

// Func adapts a function to Publisher.
type Func func(recordType string, rec telemetry.Record) error

func (f Func) Publish(recordType string, rec telemetry.Record) error { return f(recordType, rec) }

// ---- FANOUT ----

// Fanout hands each record to every sink. A failing sink does not stop the
// others; failures are folded into one error.
type Fanout []Publisher

func (f Fanout) Publish(recordType string, rec telemetry.Record) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(recordType, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return FoldErrors(errs)
}

// FoldErrors joins non-nil errors into one, nil when there are none.
func FoldErrors(errs []error) error {
	ss := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			ss = append(ss, e.Error())
		}
	}
	switch len(ss) {
	case 0:
		return nil
	case 1:
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
	}
	return errors.New(strings.Join(ss, " | "))
}

// ---- THROTTLE ----

// Throttled drops records whose type was published less than its minimum
// interval ago. Dropped records are not an error.
type Throttled struct {
	next    Publisher
	limiter *telemetry.Limiter
}

func NewThrottled(next Publisher, minInterval map[string]time.Duration) *Throttled {
	return &Throttled{next: next, limiter: telemetry.NewLimiter(minInterval)}
}

func (t *Throttled) Publish(recordType string, rec telemetry.Record) error {
	if !t.limiter.Allow(recordType) {
		return nil
	}
	return t.next.Publish(recordType, rec)
}

// ---- LATEST ----

// Latest keeps the last record of every type for request/response readers.
type Latest struct {
	mu   sync.RWMutex
	recs map[string]telemetry.Record
}

func NewLatest() *Latest {
	return &Latest{recs: make(map[string]telemetry.Record)}
}

func (l *Latest) Publish(recordType string, rec telemetry.Record) error {
	l.mu.Lock()
	l.recs[recordType] = rec
	l.mu.Unlock()
	return nil
}

func (l *Latest) Get(recordType string) (telemetry.Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.recs[recordType]
	return r, ok
}

// All returns a copy of the stored records keyed by type.
func (l *Latest) All() map[string]telemetry.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]telemetry.Record, len(l.recs))
	for k, v := range l.recs {
		out[k] = v
	}
	return out
}

func (l *Latest) Types() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.recs))
	for k := range l.recs {
		out = append(out, k)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}
