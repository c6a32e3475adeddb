// internal/correlator/transport.go
package correlator

import (
	"net"

	"github.com/juju/errors"
)

// Transport is a datagram socket talking to one TSS peer.
type Transport interface {
	Send(b []byte) error
	Receive(buf []byte) (int, net.Addr, error)
	Peer() net.Addr
	Close() error
}

// UDPTransport is an unconnected UDP4 socket that writes to a fixed peer.
// It stays unconnected so datagrams from other sources still reach the
// receive loop and are counted as foreign instead of being filtered by the
// kernel.
type UDPTransport struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

// DialUDP resolves peer ("host:port") and binds listen ("" or ":0" for an
// ephemeral port).
func DialUDP(peer, listen string) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp4", peer)
	if err != nil {
		return nil, errors.Annotatef(err, "correlator: resolve peer %q", peer)
	}
	var laddr *net.UDPAddr
	if listen != "" {
		laddr, err = net.ResolveUDPAddr("udp4", listen)
		if err != nil {
			return nil, errors.Annotatef(err, "correlator: resolve listen %q", listen)
		}
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errors.Annotatef(err, "correlator: listen %s", listen)
	}
	return &UDPTransport{conn: conn, peer: raddr}, nil
}

func (t *UDPTransport) Send(b []byte) error {
	n, err := t.conn.WriteToUDP(b, t.peer)
	if err != nil {
		return err
	}
	if n != len(b) {
		return errors.Errorf("short write %d/%d", n, len(b))
	}
	return nil
}

func (t *UDPTransport) Receive(buf []byte) (int, net.Addr, error) {
	n, addr, err := t.conn.ReadFromUDP(buf)
	if addr == nil {
		return n, nil, err
	}
	return n, addr, err
}

func (t *UDPTransport) Peer() net.Addr      { return t.peer }
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
func (t *UDPTransport) Close() error        { return t.conn.Close() }

// sameAddr compares UDP endpoints by IP and port. Non-UDP addresses fall
// back to their string form.
func sameAddr(a, b net.Addr) bool {
	ua, ok1 := a.(*net.UDPAddr)
	ub, ok2 := b.(*net.UDPAddr)
	if ok1 && ok2 {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.String() == b.String()
}
