// internal/correlator/stat.go
package correlator

import (
	"expvar"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Stat counters are updated atomically but not consistently with each other.
type Stat struct {
	Sent           expvar.Int
	SendErrors     expvar.Int
	Received       expvar.Int
	DroppedForeign expvar.Int
	DroppedShort   expvar.Int
	Unmatched      expvar.Int
	Resolved       expvar.Int
	Absent         expvar.Int
	Timeouts       expvar.Int
	Canceled       expvar.Int
}

func (s *Stat) fields() []struct {
	name string
	v    *expvar.Int
} {
	return []struct {
		name string
		v    *expvar.Int
	}{
		{"sent", &s.Sent},
		{"send_errors", &s.SendErrors},
		{"received", &s.Received},
		{"dropped_foreign", &s.DroppedForeign},
		{"dropped_short", &s.DroppedShort},
		{"unmatched", &s.Unmatched},
		{"resolved", &s.Resolved},
		{"absent", &s.Absent},
		{"timeouts", &s.Timeouts},
		{"canceled", &s.Canceled},
	}
}

// Map returns a point-in-time copy, for expvar.Func and JSON status output.
func (s *Stat) Map() map[string]int64 {
	out := make(map[string]int64, 10)
	for _, f := range s.fields() {
		out[f.name] = f.v.Value()
	}
	return out
}

func (s *Stat) String() string {
	var b strings.Builder
	for i, f := range s.fields() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", f.name, humanize.Comma(f.v.Value()))
	}
	return b.String()
}

// Publish exposes s under name in /debug/vars. expvar names are global, so
// this is called once per process, not per correlator.
func Publish(name string, s *Stat) {
	expvar.Publish(name, expvar.Func(func() interface{} { return s.Map() }))
}
