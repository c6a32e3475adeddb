// internal/tssmock/server.go
// Package tssmock is a UDP responder that behaves like a TSS: it answers
// 8-byte queries from a value store and applies 12-byte set commands.
package tssmock

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"os"
	"sync"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/logging"
)

type Server struct {
	table *command.Table
	log   *logging.Log
	conn  *net.UDPConn

	mu     sync.Mutex
	values map[uint32]codec.Value
	silent map[uint32]bool
	short  map[uint32]bool
}

// Listen binds addr ("127.0.0.1:0" for tests) and seeds every table entry
// with a sample value.
func Listen(addr string, table *command.Table, log *logging.Log) (*Server, error) {
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "tssmock: resolve %q", addr)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errors.Annotatef(err, "tssmock: listen %s", addr)
	}
	s := &Server{
		table:  table,
		log:    log,
		conn:   conn,
		values: make(map[uint32]codec.Value, table.Len()),
		silent: make(map[uint32]bool),
		short:  make(map[uint32]bool),
	}
	for _, id := range table.IDs() {
		e, _ := table.Lookup(id)
		s.values[id] = sample(e)
	}
	return s, nil
}

func (s *Server) Addr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }

func (s *Server) Close() error { return s.conn.Close() }

func sample(e command.Entry) codec.Value {
	switch {
	case e.Kind == command.KindFloatArray:
		fs := make([]float32, command.ArrayLen)
		for i := range fs {
			fs[i] = float32(i) * 10
		}
		return codec.ArrayValue(fs)
	case e.Kind == command.KindInt32:
		return codec.IntValue(int32(e.ID % 2))
	case e.Round:
		return codec.FloatValue(float32(e.ID % 15))
	}
	return codec.FloatValue(float32(e.ID) / 2)
}

// ---- value store ----

func (s *Server) SetValue(id uint32, v codec.Value) {
	s.mu.Lock()
	s.values[id] = v
	s.mu.Unlock()
}

func (s *Server) Value(id uint32) (codec.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	return v, ok
}

// Silence makes the server ignore queries for id, simulating loss.
func (s *Server) Silence(id uint32, on bool) {
	s.mu.Lock()
	s.silent[id] = on
	s.mu.Unlock()
}

// Truncate makes the server answer id with a bare 8-byte header.
func (s *Server) Truncate(id uint32, on bool) {
	s.mu.Lock()
	s.short[id] = on
	s.mu.Unlock()
}

// LoadValues reads a YAML map of field name to value and applies it.
//
//	eva1_batt: 1
//	rover_posx: 12.5
//	pr_lidar: [1, 2, 3]
func (s *Server) LoadValues(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotate(err, "tssmock: read values")
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return errors.Annotate(err, "tssmock: parse values")
	}
	for name, raw := range m {
		id, ok := s.table.IDByName(name)
		if !ok {
			return errors.NotFoundf("tssmock: field %q", name)
		}
		e, _ := s.table.Lookup(id)
		v, err := toValue(e, raw)
		if err != nil {
			return errors.Annotatef(err, "tssmock: field %q", name)
		}
		s.SetValue(id, v)
	}
	return nil
}

func toValue(e command.Entry, raw interface{}) (codec.Value, error) {
	if e.Kind == command.KindFloatArray {
		list, ok := raw.([]interface{})
		if !ok {
			return codec.Value{}, errors.NotValidf("array value %v", raw)
		}
		if len(list) > command.ArrayLen {
			return codec.Value{}, errors.NotValidf("array of %d elements", len(list))
		}
		fs := make([]float32, len(list))
		for i, x := range list {
			f, ok := number(x)
			if !ok {
				return codec.Value{}, errors.NotValidf("array element %v", x)
			}
			fs[i] = float32(f)
		}
		return codec.ArrayValue(fs), nil
	}
	f, ok := number(raw)
	if !ok {
		return codec.Value{}, errors.NotValidf("value %v", raw)
	}
	return scalar(e, f), nil
}

func number(x interface{}) (float64, bool) {
	switch n := x.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// scalar stores f the way the TSS would transmit it for e.
func scalar(e command.Entry, f float64) codec.Value {
	if e.Kind == command.KindInt32 {
		return codec.IntValue(int32(math.Round(f)))
	}
	return codec.FloatValue(float32(f))
}

// ---- serve ----

// Serve answers datagrams until ctx is done or the socket fails.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Annotate(err, "tssmock: read")
		}
		resp := s.handle(buf[:n])
		if resp == nil {
			continue
		}
		if _, err := s.conn.WriteToUDP(resp, src); err != nil {
			s.log.Errorf("tssmock: write to %s: %v", src, err)
		}
	}
}

func (s *Server) handle(b []byte) []byte {
	h, err := codec.DecodeHeader(b)
	if err != nil {
		s.log.Debugf("tssmock: %v", err)
		return nil
	}
	e, known := s.table.Lookup(h.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.silent[h.ID] {
		return nil
	}
	if len(b) >= codec.SetLen {
		f := math.Float32frombits(binary.BigEndian.Uint32(b[8:12]))
		if !known {
			e = command.Entry{ID: h.ID, Kind: command.KindFloat32}
		}
		if e.Kind != command.KindFloatArray {
			s.values[h.ID] = scalar(e, float64(f))
			s.log.Debugf("tssmock: set id=%d value=%v", h.ID, f)
		}
	}
	if s.short[h.ID] {
		return codec.EncodeQuery(h.Timestamp, h.ID)
	}
	v, ok := s.values[h.ID]
	if !ok {
		v = codec.FloatValue(0)
	}
	return codec.EncodeResponse(h.Timestamp, h.ID, v)
}
