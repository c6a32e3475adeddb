// internal/poller/types.go
package poller

import (
	"time"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// PollResult is a snapshot produced by one poll cycle.
type PollResult struct {
	Poller string
	At     time.Time

	// Values holds every command that got an answer, including absent ones.
	Values map[uint32]codec.Value
	// Failures holds commands that timed out or failed on the socket.
	Failures map[uint32]error

	Record telemetry.Record

	// Err is set only when no command produced a value.
	Err error
}

// Missing counts commands without a usable value.
func (r PollResult) Missing() int {
	n := len(r.Failures)
	for _, v := range r.Values {
		if v.IsAbsent() {
			n++
		}
	}
	return n
}

// Total is the number of commands fired in the cycle.
func (r PollResult) Total() int { return len(r.Values) + len(r.Failures) }
