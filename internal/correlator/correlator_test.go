// internal/correlator/correlator_test.go
package correlator

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/logging"
)

type datagram struct {
	b   []byte
	src net.Addr
	err error
}

type fakeTransport struct {
	peer   *net.UDPAddr
	sentCh chan []byte
	in     chan datagram
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		peer:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 14141},
		sentCh: make(chan []byte, 64),
		in:     make(chan datagram),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sentCh <- append([]byte(nil), b...)
	return nil
}

func (f *fakeTransport) Receive(buf []byte) (int, net.Addr, error) {
	select {
	case d := <-f.in:
		if d.err != nil {
			return 0, nil, d.err
		}
		return copy(buf, d.b), d.src, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeTransport) Peer() net.Addr { return f.peer }

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func newTestCorrelator(t *testing.T) (*Correlator, *fakeTransport) {
	t.Helper()
	p, err := command.LoadProfile(command.ProfileTSS2025)
	require.NoError(t, err)
	ft := newFakeTransport()
	r := New(Config{
		Table: p.Table,
		Log:   logging.NewTest(t, logging.LDebug),
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}, ft)
	t.Cleanup(func() { _ = r.Close() })
	return r, ft
}

func waitSent(t *testing.T, ft *fakeTransport) []byte {
	t.Helper()
	select {
	case b := <-ft.sentCh:
		return b
	case <-time.After(time.Second):
		t.Fatalf("nothing sent")
		return nil
	}
}

func assertNothingSent(t *testing.T, ft *fakeTransport) {
	t.Helper()
	select {
	case b := <-ft.sentCh:
		t.Fatalf("unexpected send %x", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitDone(t *testing.T, c *Call) {
	t.Helper()
	select {
	case <-c.Done:
	case <-time.After(time.Second):
		t.Fatalf("call id=%d did not terminate", c.ID)
	}
}

func sentID(b []byte) uint32 { return binary.BigEndian.Uint32(b[4:8]) }

func floatResp(id uint32, v float32) []byte {
	return codec.EncodeResponse(0, id, codec.FloatValue(v))
}

func TestRequestResolves(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	c := r.Go(23, 0)
	b := waitSent(t, ft)
	require.Len(t, b, codec.QueryLen)
	assert.Equal(t, uint32(23), sentID(b))
	assert.Equal(t, uint32(1700000000), binary.BigEndian.Uint32(b[0:4]))

	r.HandleDatagram(floatResp(23, 12.5), ft.peer)
	waitDone(t, c)
	require.NoError(t, c.Err)
	assert.Equal(t, codec.FloatValue(12.5), c.Value)
	assert.Equal(t, int64(1), r.Stat().Resolved.Value())
}

func TestSequentialSends(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	ids := []uint32{2, 3, 4, 5, 6}
	calls := make([]*Call, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint32) {
			defer wg.Done()
			calls[i] = r.Go(id, 5*time.Second)
		}(i, id)
	}
	wg.Wait()

	seen := map[uint32]bool{}
	for range ids {
		b := waitSent(t, ft)
		assertNothingSent(t, ft)
		id := sentID(b)
		assert.False(t, seen[id], "id %d sent twice", id)
		seen[id] = true
		r.HandleDatagram(codec.EncodeResponse(0, id, codec.IntValue(int32(id))), ft.peer)
	}
	for i, c := range calls {
		waitDone(t, c)
		require.NoError(t, c.Err)
		assert.Equal(t, codec.IntValue(int32(ids[i])), c.Value)
	}
	assert.Equal(t, int64(5), r.Stat().Sent.Value())
}

func TestFIFOSameID(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	a := r.Go(23, 5*time.Second)
	b := r.Go(23, 5*time.Second)
	waitSent(t, ft)

	// an unrelated datagram frees the slot, but the second 23 must wait
	// while the first is still unanswered
	r.HandleDatagram(floatResp(999, 0), ft.peer)
	assertNothingSent(t, ft)

	r.HandleDatagram(floatResp(23, 1), ft.peer)
	waitDone(t, a)
	assert.Equal(t, float32(1), a.Value.Float)

	waitSent(t, ft)
	r.HandleDatagram(floatResp(23, 2), ft.peer)
	waitDone(t, b)
	assert.Equal(t, float32(2), b.Value.Float)
	assert.Equal(t, int64(1), r.Stat().Unmatched.Value())
}

func TestSkippedCallKeepsPosition(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	r.Go(23, 5*time.Second)
	r.Go(23, 5*time.Second)
	r.Go(24, 5*time.Second)
	require.Equal(t, uint32(23), sentID(waitSent(t, ft)))

	// nudge: 23 is still on the wire, so 24 goes next
	r.HandleDatagram(floatResp(999, 0), ft.peer)
	require.Equal(t, uint32(24), sentID(waitSent(t, ft)))

	r.HandleDatagram(floatResp(24, 0), ft.peer)
	assertNothingSent(t, ft)
	r.HandleDatagram(floatResp(23, 0), ft.peer)
	require.Equal(t, uint32(23), sentID(waitSent(t, ft)))
}

func TestTimeoutRemovesCall(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	c := r.Go(2, 30*time.Millisecond)
	waitSent(t, ft)
	waitDone(t, c)
	assert.True(t, IsTimeout(c.Err), "err=%v", c.Err)
	assert.False(t, IsTransport(c.Err))
	assert.Equal(t, int64(1), r.Stat().Timeouts.Value())

	// the timed-out call is gone; a late answer is unmatched
	r.HandleDatagram(codec.EncodeResponse(0, 2, codec.IntValue(1)), ft.peer)
	require.Eventually(t, func() bool { return r.Stat().Unmatched.Value() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTimeoutArmedAtAcceptance(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	r.Go(2, 5*time.Second)
	waitSent(t, ft)
	// never written: still times out on its own clock
	c := r.Go(3, 30*time.Millisecond)
	waitDone(t, c)
	assert.True(t, IsTimeout(c.Err))
	assert.Len(t, ft.sentCh, 0)
}

func TestShortFrameDropped(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	c := r.Go(2, 5*time.Second)
	waitSent(t, ft)

	r.HandleDatagram([]byte{0, 0, 0}, ft.peer)
	require.Eventually(t, func() bool { return r.Stat().DroppedShort.Value() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-c.Done:
		t.Fatalf("short frame resolved a call")
	default:
	}

	r.HandleDatagram(codec.EncodeResponse(0, 2, codec.IntValue(7)), ft.peer)
	waitDone(t, c)
	assert.Equal(t, codec.IntValue(7), c.Value)
}

func TestMatchedShortPayloadResolvesAbsent(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	c := r.Go(2, 5*time.Second)
	waitSent(t, ft)
	r.HandleDatagram(codec.EncodeQuery(0, 2), ft.peer)
	waitDone(t, c)
	require.NoError(t, c.Err)
	assert.True(t, c.Value.IsAbsent())
	assert.Equal(t, int64(1), r.Stat().Absent.Value())
}

func TestForeignSourceDropped(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	c := r.Go(2, 5*time.Second)
	waitSent(t, ft)

	foreign := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 14141}
	r.HandleDatagram(codec.EncodeResponse(0, 2, codec.IntValue(1)), foreign)
	assert.Equal(t, int64(1), r.Stat().DroppedForeign.Value())
	// foreign traffic does not release the slot either
	r.Go(3, 5*time.Second)
	assertNothingSent(t, ft)

	r.HandleDatagram(codec.EncodeResponse(0, 2, codec.IntValue(1)), ft.peer)
	waitDone(t, c)
	assert.Equal(t, uint32(3), sentID(waitSent(t, ft)))
}

func TestSendErrorFailsCall(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	ft.setSendErr(errors.New("network unreachable"))
	c := r.Go(2, 5*time.Second)
	waitDone(t, c)
	assert.True(t, IsTransport(c.Err), "err=%v", c.Err)
	assert.Equal(t, int64(1), r.Stat().SendErrors.Value())

	ft.setSendErr(nil)
	c = r.Go(3, 5*time.Second)
	assert.Equal(t, uint32(3), sentID(waitSent(t, ft)))
	r.HandleDatagram(codec.EncodeResponse(0, 3, codec.IntValue(0)), ft.peer)
	waitDone(t, c)
	assert.NoError(t, c.Err)
}

func TestSetCommand(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	type result struct {
		v   codec.Value
		err error
	}
	res := make(chan result, 1)
	go func() {
		v, err := r.Set(context.Background(), 48, 1, 0)
		res <- result{v, err}
	}()

	b := waitSent(t, ft)
	require.Len(t, b, codec.SetLen)
	assert.Equal(t, uint32(48), sentID(b))
	assert.Equal(t, float32(1), math.Float32frombits(binary.BigEndian.Uint32(b[8:])))

	r.HandleDatagram(codec.EncodeResponse(0, 48, codec.IntValue(1)), ft.peer)
	got := <-res
	require.NoError(t, got.err)
	assert.Equal(t, codec.IntValue(1), got.v)
}

func TestRequestCancel(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.Request(ctx, 2, 5*time.Second)
		errc <- err
	}()
	waitSent(t, ft)
	cancel()

	select {
	case err := <-errc:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatalf("Request did not return")
	}
	assert.Equal(t, int64(1), r.Stat().Canceled.Value())

	// the slot was released and the registry no longer holds id 2
	c := r.Go(3, 5*time.Second)
	assert.Equal(t, uint32(3), sentID(waitSent(t, ft)))
	r.HandleDatagram(codec.EncodeResponse(0, 2, codec.IntValue(1)), ft.peer)
	require.Eventually(t, func() bool { return r.Stat().Unmatched.Value() == 1 }, time.Second, 5*time.Millisecond)
	r.HandleDatagram(codec.EncodeResponse(0, 3, codec.IntValue(1)), ft.peer)
	waitDone(t, c)
}

func TestCloseFailsPending(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	a := r.Go(2, 5*time.Second)
	b := r.Go(3, 5*time.Second)
	waitSent(t, ft)
	require.NoError(t, r.Close())

	waitDone(t, a)
	waitDone(t, b)
	assert.True(t, IsClosed(a.Err))
	assert.True(t, IsClosed(b.Err))

	late := r.Go(4, 0)
	waitDone(t, late)
	assert.True(t, IsClosed(late.Err))
}

func TestFatalReceiveError(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	c := r.Go(2, 5*time.Second)
	waitSent(t, ft)
	ft.in <- datagram{err: errors.New("socket exploded")}

	select {
	case err := <-r.Fatal():
		assert.True(t, IsTransport(err))
	case <-time.After(time.Second):
		t.Fatalf("no fatal error")
	}
	waitDone(t, c)
	assert.True(t, IsTransport(c.Err), "err=%v", c.Err)
	<-r.Done()
}

func TestReceiveLoopFeedsActor(t *testing.T) {
	t.Parallel()
	r, ft := newTestCorrelator(t)

	c := r.Go(167, 0)
	waitSent(t, ft)
	ft.in <- datagram{
		b:   codec.EncodeResponse(0, 167, codec.ArrayValue([]float32{1, 2, 3})),
		src: ft.peer,
	}
	waitDone(t, c)
	assert.Equal(t, []float32{1, 2, 3}, c.Value.Floats)
}

func TestStatString(t *testing.T) {
	t.Parallel()
	var s Stat
	s.Sent.Add(12345)
	assert.Contains(t, s.String(), "sent=12,345")
	assert.Equal(t, int64(12345), s.Map()["sent"])
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 200, StatusCode(nil))
	assert.Equal(t, 504, StatusCode(errors.Annotate(newTimeout(2, time.Second), "poll")))
	assert.Equal(t, 502, StatusCode(&TransportError{Op: "send", Err: errors.New("refused")}))
	assert.Equal(t, 503, StatusCode(errors.Trace(ErrClosed)))
	assert.Equal(t, 400, StatusCode(errors.NotValidf("command")))
	assert.Equal(t, StatusClientClosed, StatusCode(context.Canceled))
	assert.Equal(t, 504, StatusCode(errors.Annotate(context.DeadlineExceeded, "set")))
	assert.Equal(t, 500, StatusCode(errors.New("other")))
}
