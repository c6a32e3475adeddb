// internal/correlator/correlator.go
// Package correlator turns numeric TSS queries into typed, timeout-bounded
// results over a single unordered, lossy UDP channel.
//
// One actor goroutine owns the pending registry and the send queue. Public
// methods talk to it over channels. At most one datagram is in flight; any
// datagram from the peer, a resolution, a timeout or a send failure releases
// the slot. A queued call whose id already has an unanswered datagram on the
// wire is skipped, keeping its queue position, until that datagram's call
// terminates. Responses resolve the oldest pending call for their id.
package correlator

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/logging"
)

const (
	DefaultTimeout = 2 * time.Second

	maxDatagram = 1500
	inboundBuf  = 64
)

type Config struct {
	Table *command.Table

	// Timeout applies to calls submitted with a zero timeout.
	Timeout time.Duration

	Log  *logging.Log
	Stat *Stat            // optional; allocated when nil
	Now  func() time.Time // timestamp source for outgoing frames
}

type cancelReq struct {
	c   *Call
	err error
}

type Correlator struct {
	table   *command.Table
	timeout time.Duration
	log     *logging.Log
	stat    *Stat
	now     func() time.Time

	tr   Transport
	peer net.Addr

	submitCh chan *Call
	cancelCh chan cancelReq
	expireCh chan *Call
	inCh     chan []byte

	closeOnce sync.Once
	closeErr  error
	closing   chan struct{}
	done      chan struct{}
	fatal     chan error

	// actor state
	pending  map[uint32][]*Call
	queue    []*Call
	inflight *Call
}

// New starts the actor and the receive loop on tr. Close releases both.
func New(cfg Config, tr Transport) *Correlator {
	r := &Correlator{
		table:    cfg.Table,
		timeout:  cfg.Timeout,
		log:      cfg.Log,
		stat:     cfg.Stat,
		now:      cfg.Now,
		tr:       tr,
		peer:     tr.Peer(),
		submitCh: make(chan *Call),
		cancelCh: make(chan cancelReq),
		expireCh: make(chan *Call),
		inCh:     make(chan []byte, inboundBuf),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		fatal:    make(chan error, 1),
		pending:  make(map[uint32][]*Call),
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.stat == nil {
		r.stat = new(Stat)
	}
	if r.now == nil {
		r.now = time.Now
	}
	go r.run()
	go r.readLoop()
	return r
}

func (r *Correlator) Stat() *Stat { return r.stat }

// Fatal delivers at most one error: the socket read failure that closed the
// correlator.
func (r *Correlator) Fatal() <-chan error { return r.fatal }

// Done is closed once the correlator has shut down for any reason.
func (r *Correlator) Done() <-chan struct{} { return r.done }

// ---- public API ----

// Go submits a query and returns immediately.
func (r *Correlator) Go(id uint32, timeout time.Duration) *Call {
	c := newCall(id, r.timeoutOr(timeout))
	r.submit(c)
	return c
}

// GoSet submits a set command. The TSS answers it like a query.
func (r *Correlator) GoSet(id uint32, v float32, timeout time.Duration) *Call {
	c := newCall(id, r.timeoutOr(timeout))
	c.set = true
	c.setValue = v
	r.submit(c)
	return c
}

// Request queries id and waits for the result. A matched response that
// cannot be decoded yields an absent value and nil error. If ctx ends first
// the call is withdrawn and ctx.Err() is returned.
func (r *Correlator) Request(ctx context.Context, id uint32, timeout time.Duration) (codec.Value, error) {
	return r.await(ctx, r.Go(id, timeout))
}

// Set writes v to id and waits for the TSS to answer.
func (r *Correlator) Set(ctx context.Context, id uint32, v float32, timeout time.Duration) (codec.Value, error) {
	return r.await(ctx, r.GoSet(id, v, timeout))
}

// Cancel withdraws c with err unless it already terminated, then waits for
// its terminal state.
func (r *Correlator) Cancel(c *Call, err error) {
	select {
	case r.cancelCh <- cancelReq{c: c, err: err}:
	case <-r.done:
	}
	<-c.Done
}

// HandleDatagram feeds one received datagram to the actor. Datagrams from
// any address other than the peer are dropped here.
func (r *Correlator) HandleDatagram(b []byte, src net.Addr) {
	if r.peer != nil && src != nil && !sameAddr(src, r.peer) {
		r.stat.DroppedForeign.Add(1)
		r.log.Debugf("correlator: drop %d bytes from foreign %s", len(b), src)
		return
	}
	select {
	case r.inCh <- b:
	case <-r.done:
	}
}

// Close fails every pending call with ErrClosed and releases the socket.
func (r *Correlator) Close() error {
	err := r.shutdown(ErrClosed)
	<-r.done
	return err
}

func (r *Correlator) timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return r.timeout
	}
	return d
}

func (r *Correlator) submit(c *Call) {
	select {
	case r.submitCh <- c:
	case <-r.done:
		c.finished = true
		c.Err = ErrClosed
		close(c.Done)
	}
}

func (r *Correlator) await(ctx context.Context, c *Call) (codec.Value, error) {
	select {
	case <-c.Done:
	case <-ctx.Done():
		r.Cancel(c, ctx.Err())
	}
	return c.Value, c.Err
}

func (r *Correlator) shutdown(reason error) error {
	var err error
	r.closeOnce.Do(func() {
		r.closeErr = reason
		close(r.closing)
		err = r.tr.Close()
	})
	return err
}

// ---- receive loop ----

func (r *Correlator) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := r.tr.Receive(buf)
		if err != nil {
			select {
			case <-r.closing:
				return
			default:
			}
			terr := errors.Trace(&TransportError{Op: "receive", Err: err})
			r.log.Errorf("%v", terr)
			select {
			case r.fatal <- terr:
			default:
			}
			_ = r.shutdown(terr)
			return
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		r.HandleDatagram(b, src)
	}
}

// ---- actor ----

func (r *Correlator) run() {
	defer close(r.done)
	for {
		select {
		case c := <-r.submitCh:
			r.accept(c)
		case req := <-r.cancelCh:
			r.cancel(req.c, req.err)
		case c := <-r.expireCh:
			r.expire(c)
		case b := <-r.inCh:
			r.receive(b)
		case <-r.closing:
			r.failAll(r.closeErr)
			return
		}
		r.pump()
	}
}

func (r *Correlator) accept(c *Call) {
	c.accepted = time.Now()
	c.timer = time.AfterFunc(c.timeout, func() {
		select {
		case r.expireCh <- c:
		case <-r.done:
		}
	})
	r.pending[c.ID] = append(r.pending[c.ID], c)
	r.queue = append(r.queue, c)
	c.queued = true
}

func (r *Correlator) cancel(c *Call, err error) {
	if c.finished {
		return
	}
	r.remove(c)
	r.stat.Canceled.Add(1)
	r.finish(c, codec.Value{}, err)
}

func (r *Correlator) expire(c *Call) {
	if c.finished {
		return
	}
	r.remove(c)
	r.stat.Timeouts.Add(1)
	r.log.Debugf("correlator: id=%d timeout after %v (sent=%t)", c.ID, c.timeout, c.sent)
	r.finish(c, codec.Value{}, newTimeout(c.ID, c.timeout))
}

func (r *Correlator) receive(b []byte) {
	r.stat.Received.Add(1)
	// any datagram from the peer releases the in-flight slot
	r.inflight = nil

	h, err := codec.DecodeHeader(b)
	if err != nil {
		r.stat.DroppedShort.Add(1)
		r.log.Debugf("correlator: drop %v", err)
		return
	}
	list := r.pending[h.ID]
	if len(list) == 0 {
		r.stat.Unmatched.Add(1)
		r.log.Debugf("correlator: unmatched response id=%d len=%d", h.ID, len(b))
		return
	}

	c := list[0]
	e, ok := r.table.Lookup(h.ID)
	if !ok {
		e = command.Entry{ID: h.ID, Kind: command.KindFloat32}
	}
	v, err := codec.DecodeValue(b, e)
	r.remove(c)
	if err != nil {
		r.stat.Absent.Add(1)
		r.log.Debugf("correlator: id=%d resolved absent: %v", h.ID, err)
		r.finish(c, codec.Value{}, nil)
		return
	}
	r.stat.Resolved.Add(1)
	r.log.Debugf("correlator: id=%d = %s (%v)", h.ID, v, c.elapsed())
	r.finish(c, v, nil)
}

// pump writes queued calls until one is in flight or nothing is sendable.
func (r *Correlator) pump() {
	for r.inflight == nil {
		c := r.nextSendable()
		if c == nil {
			return
		}
		r.write(c)
	}
}

func (r *Correlator) nextSendable() *Call {
	for i, c := range r.queue {
		if r.onWire(c.ID) {
			continue
		}
		r.queue = append(r.queue[:i], r.queue[i+1:]...)
		c.queued = false
		return c
	}
	return nil
}

func (r *Correlator) onWire(id uint32) bool {
	for _, c := range r.pending[id] {
		if c.sent {
			return true
		}
	}
	return false
}

func (r *Correlator) write(c *Call) {
	c.Timestamp = uint32(r.now().Unix())
	var b []byte
	if c.set {
		b = codec.EncodeSet(c.Timestamp, c.ID, c.setValue)
	} else {
		b = codec.EncodeQuery(c.Timestamp, c.ID)
	}
	if err := r.tr.Send(b); err != nil {
		r.stat.SendErrors.Add(1)
		r.remove(c)
		terr := errors.Trace(&TransportError{Op: "send", Err: err})
		r.log.Errorf("correlator: id=%d %v", c.ID, terr)
		r.finish(c, codec.Value{}, terr)
		return
	}
	r.stat.Sent.Add(1)
	c.sent = true
	r.inflight = c
}

func (r *Correlator) remove(c *Call) {
	list := r.pending[c.ID]
	for i, p := range list {
		if p == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.pending, c.ID)
	} else {
		r.pending[c.ID] = list
	}
	if c.queued {
		for i, q := range r.queue {
			if q == c {
				r.queue = append(r.queue[:i], r.queue[i+1:]...)
				break
			}
		}
		c.queued = false
	}
	if r.inflight == c {
		r.inflight = nil
	}
}

func (r *Correlator) finish(c *Call, v codec.Value, err error) {
	if c.finished {
		return
	}
	c.finished = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.Value = v
	c.Err = err
	close(c.Done)
}

func (r *Correlator) failAll(err error) {
	for id, list := range r.pending {
		for _, c := range list {
			r.finish(c, codec.Value{}, err)
		}
		delete(r.pending, id)
	}
	r.queue = nil
	r.inflight = nil
}
