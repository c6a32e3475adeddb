// internal/correlator/call.go
package correlator

import (
	"context"
	"time"

	"github.com/tamzrod/tss-relay/internal/codec"
)

// Call is one outstanding request. Value and Err are valid once Done is
// closed; exactly one terminal state is ever recorded.
type Call struct {
	ID        uint32
	Timestamp uint32 // unix seconds, set when written to the wire
	Value     codec.Value
	Err       error
	Done      chan struct{}

	set      bool
	setValue float32
	timeout  time.Duration
	accepted time.Time

	// owned by the actor goroutine
	timer    *time.Timer
	queued   bool
	sent     bool
	finished bool
}

func newCall(id uint32, timeout time.Duration) *Call {
	return &Call{
		ID:      id,
		Done:    make(chan struct{}),
		timeout: timeout,
	}
}

// IsSet reports whether the call writes a value rather than querying one.
func (c *Call) IsSet() bool { return c.set }

// Wait blocks until the call terminates or ctx is done. It does not cancel
// the call; use Correlator.Request for that.
func (c *Call) Wait(ctx context.Context) (codec.Value, error) {
	select {
	case <-c.Done:
		return c.Value, c.Err
	case <-ctx.Done():
		return codec.Value{}, ctx.Err()
	}
}

func (c *Call) elapsed() time.Duration {
	if c.accepted.IsZero() {
		return 0
	}
	return time.Since(c.accepted)
}
