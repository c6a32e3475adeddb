// internal/codec/codec.go
// Package codec encodes TSS request datagrams and decodes responses.
//
// All multi-byte fields are big-endian.
//
//	query    [ts u32][id u32]                 8 bytes
//	set      [ts u32][id u32][value f32]     12 bytes
//	response [ts u32][id u32][payload]       12 bytes, or 8+4k for the array command
package codec

import (
	"encoding/binary"
	"math"

	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/command"
)

const (
	HeaderLen   = 8
	QueryLen    = 8
	SetLen      = 12
	ResponseLen = 12

	// MaxResponseLen covers the array command with its full arity.
	MaxResponseLen = HeaderLen + 4*command.ArrayLen
)

// ErrFrameTooShort is the cause of every length-related decode failure.
var ErrFrameTooShort = errors.New("codec: frame too short")

// IsFrameTooShort reports whether err was caused by a short frame.
func IsFrameTooShort(err error) bool {
	return errors.Cause(err) == ErrFrameTooShort
}

type Header struct {
	Timestamp uint32
	ID        uint32
}

// Frame is one decoded response.
type Frame struct {
	Header
	Value Value
}

// ---- encode ----

func EncodeQuery(ts, id uint32) []byte {
	b := make([]byte, QueryLen)
	binary.BigEndian.PutUint32(b[0:4], ts)
	binary.BigEndian.PutUint32(b[4:8], id)
	return b
}

func EncodeSet(ts, id uint32, v float32) []byte {
	b := make([]byte, SetLen)
	binary.BigEndian.PutUint32(b[0:4], ts)
	binary.BigEndian.PutUint32(b[4:8], id)
	binary.BigEndian.PutUint32(b[8:12], math.Float32bits(v))
	return b
}

// EncodeResponse builds the datagram a TSS would answer with. Int values are
// written as signed int32, floats as float32, arrays as consecutive float32.
func EncodeResponse(ts, id uint32, v Value) []byte {
	switch v.Kind {
	case command.KindFloatArray:
		b := make([]byte, HeaderLen+4*len(v.Floats))
		binary.BigEndian.PutUint32(b[0:4], ts)
		binary.BigEndian.PutUint32(b[4:8], id)
		for i, f := range v.Floats {
			binary.BigEndian.PutUint32(b[HeaderLen+4*i:], math.Float32bits(f))
		}
		return b
	case command.KindInt32:
		b := make([]byte, ResponseLen)
		binary.BigEndian.PutUint32(b[0:4], ts)
		binary.BigEndian.PutUint32(b[4:8], id)
		binary.BigEndian.PutUint32(b[8:12], uint32(v.Int))
		return b
	}
	return EncodeSet(ts, id, v.Float)
}

// ---- decode ----

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, errors.Annotatef(ErrFrameTooShort, "len=%d need=%d", len(b), HeaderLen)
	}
	return Header{
		Timestamp: binary.BigEndian.Uint32(b[0:4]),
		ID:        binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// Decode parses a whole response using table to pick the payload layout.
// Ids missing from the table decode as float32.
func Decode(b []byte, table *command.Table) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	e, ok := table.Lookup(h.ID)
	if !ok {
		e = command.Entry{ID: h.ID, Kind: command.KindFloat32}
	}
	v, err := DecodeValue(b, e)
	if err != nil {
		return Frame{Header: h}, err
	}
	return Frame{Header: h, Value: v}, nil
}

// DecodeValue decodes the payload of b according to e. The header is assumed
// to have been checked already.
func DecodeValue(b []byte, e command.Entry) (Value, error) {
	if len(b) < ResponseLen {
		return Value{}, errors.Annotatef(ErrFrameTooShort, "id=%d len=%d need=%d", e.ID, len(b), ResponseLen)
	}
	payload := b[HeaderLen:]

	switch e.Kind {
	case command.KindFloatArray:
		n := len(payload) / 4
		if n > command.ArrayLen {
			n = command.ArrayLen
		}
		fs := make([]float32, n)
		for i := range fs {
			fs[i] = math.Float32frombits(binary.BigEndian.Uint32(payload[4*i:]))
		}
		return ArrayValue(fs), nil

	case command.KindInt32:
		return IntValue(int32(binary.BigEndian.Uint32(payload))), nil

	default:
		f := math.Float32frombits(binary.BigEndian.Uint32(payload))
		if e.Round {
			return IntValue(roundInt32(f)), nil
		}
		return FloatValue(f), nil
	}
}

// roundInt32 rounds half away from zero and saturates at the int32 bounds.
// NaN becomes 0.
func roundInt32(f float32) int32 {
	r := math.Round(float64(f))
	switch {
	case math.IsNaN(r):
		return 0
	case r >= math.MaxInt32:
		return math.MaxInt32
	case r <= math.MinInt32:
		return math.MinInt32
	}
	return int32(r)
}
