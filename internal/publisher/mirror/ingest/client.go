// internal/publisher/mirror/ingest/client.go
// Package ingest writes the register mirror as Raw Ingest v1 packets, one
// packet per TCP connection, each answered by a single status byte.
//
//	0-1  "RI"
//	2    version 0x01
//	3    area
//	4-5  unit id
//	6-7  address
//	8-9  register count
//	10+  registers, big-endian
package ingest

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/juju/errors"
)

const (
	version   byte = 0x01
	headerLen      = 10

	DefaultTimeout = 2 * time.Second
)

// ErrRejected is returned when the endpoint answers with status 0x01.
var ErrRejected = errors.New("mirror ingest: rejected")

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

type EndpointClient struct {
	endpoint string
	timeout  time.Duration
	dial     func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewEndpointClient(cfg Config) (*EndpointClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.NotValidf("mirror ingest: empty endpoint")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &EndpointClient{endpoint: cfg.Endpoint, timeout: cfg.Timeout, dial: net.DialTimeout}, nil
}

// Close is a no-op; connections do not outlive a write.
func (c *EndpointClient) Close() error { return nil }

func (c *EndpointClient) WriteRegisters(area byte, unitID uint8, addr uint16, regs []uint16) error {
	conn, err := c.dial("tcp", c.endpoint, c.timeout)
	if err != nil {
		return errors.Annotatef(err, "mirror ingest: dial %s", c.endpoint)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write(packet(area, unitID, addr, regs)); err != nil {
		return errors.Annotatef(err, "mirror ingest: write %s", c.endpoint)
	}
	var st [1]byte
	if _, err := io.ReadFull(conn, st[:]); err != nil {
		return errors.Annotatef(err, "mirror ingest: status from %s", c.endpoint)
	}
	switch st[0] {
	case 0x00:
		return nil
	case 0x01:
		return errors.Trace(ErrRejected)
	}
	return errors.Errorf("mirror ingest: unknown status 0x%02x", st[0])
}

func packet(area byte, unitID uint8, addr uint16, regs []uint16) []byte {
	b := make([]byte, headerLen+2*len(regs))
	b[0], b[1], b[2], b[3] = 'R', 'I', version, area
	binary.BigEndian.PutUint16(b[4:], uint16(unitID))
	binary.BigEndian.PutUint16(b[6:], addr)
	binary.BigEndian.PutUint16(b[8:], uint16(len(regs)))
	for i, r := range regs {
		binary.BigEndian.PutUint16(b[headerLen+2*i:], r)
	}
	return b
}
