// internal/correlator/errors.go
package correlator

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
)

// ErrClosed fails every Call still pending when the correlator shuts down,
// and every Call submitted afterwards.
var ErrClosed = errors.New("correlator: closed")

// TransportError wraps a socket failure. A failed send is reported to the
// Call that owned the datagram; it is never retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("correlator: transport %s: %v", e.Op, e.Err)
}

func newTimeout(id uint32, d time.Duration) error {
	return errors.Timeoutf("correlator: command %d after %v", id, d)
}

// IsTimeout reports whether err means the TSS did not answer in time.
func IsTimeout(err error) bool { return errors.IsTimeout(err) }

// IsTransport reports whether err was caused by the UDP socket.
func IsTransport(err error) bool {
	_, ok := errors.Cause(err).(*TransportError)
	return ok
}

// IsClosed reports whether err was caused by shutdown.
func IsClosed(err error) bool { return errors.Cause(err) == ErrClosed }

// StatusClientClosed answers a request whose caller went away first.
const StatusClientClosed = 499

// StatusCode maps a request outcome onto an HTTP-style code for API and
// MQTT replies.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.IsNotValid(err), errors.IsNotFound(err):
		return 400
	case errors.Cause(err) == context.Canceled:
		return StatusClientClosed
	case IsTimeout(err), errors.Cause(err) == context.DeadlineExceeded:
		return 504
	case IsClosed(err):
		return 503
	case IsTransport(err):
		return 502
	}
	return 500
}
