// internal/publisher/mirror/modbus/client.go
// Package modbus writes the register mirror to a Modbus TCP server with
// FC16 (write multiple registers).
package modbus

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/juju/errors"
)

const holdingRegisters byte = 3

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// EndpointClient owns one TCP connection. Writes are serialized because the
// unit id lives on the shared handler.
type EndpointClient struct {
	endpoint string

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewEndpointClient connects once so a wrong endpoint fails at startup.
func NewEndpointClient(cfg Config) (*EndpointClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.NotValidf("mirror modbus: empty endpoint")
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	if err := h.Connect(); err != nil {
		return nil, errors.Annotatef(err, "mirror modbus: connect %s", cfg.Endpoint)
	}
	return &EndpointClient{
		endpoint: cfg.Endpoint,
		handler:  h,
		client:   modbus.NewClient(h),
	}, nil
}

func (c *EndpointClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// WriteRegisters supports holding registers only. A failed write drops the
// connection; the handler dials again on the next call.
func (c *EndpointClient) WriteRegisters(area byte, unitID uint8, addr uint16, regs []uint16) error {
	if area != holdingRegisters {
		return errors.NotValidf("mirror modbus: area %d", area)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unitID
	if _, err := c.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs)); err != nil {
		_ = c.handler.Close()
		return errors.Annotatef(err, "mirror modbus: %s unit=%d addr=%d", c.endpoint, unitID, addr)
	}
	return nil
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, 2*len(regs))
	for i, r := range regs {
		binary.BigEndian.PutUint16(out[2*i:], r)
	}
	return out
}
