// internal/codec/value.go
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tamzrod/tss-relay/internal/command"
)

// Value is a decoded payload. Exactly one of Int, Float, Floats is meaningful,
// selected by Kind. The zero Value is absent.
type Value struct {
	Kind   command.Kind
	Int    int32
	Float  float32
	Floats []float32
}

func IntValue(v int32) Value       { return Value{Kind: command.KindInt32, Int: v} }
func FloatValue(v float32) Value   { return Value{Kind: command.KindFloat32, Float: v} }
func ArrayValue(v []float32) Value { return Value{Kind: command.KindFloatArray, Floats: v} }

// IsAbsent reports a value that was matched but could not be decoded.
func (v Value) IsAbsent() bool { return v.Kind == command.KindNone }

// Interface returns the JSON-friendly form: int64, float64, []float64 or nil.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case command.KindInt32:
		return int64(v.Int)
	case command.KindFloat32:
		return float64(v.Float)
	case command.KindFloatArray:
		out := make([]float64, len(v.Floats))
		for i, f := range v.Floats {
			out[i] = float64(f)
		}
		return out
	}
	return nil
}

// Float64 flattens scalar values; arrays and absent values report false.
func (v Value) Float64() (float64, bool) {
	switch v.Kind {
	case command.KindInt32:
		return float64(v.Int), true
	case command.KindFloat32:
		return float64(v.Float), true
	}
	return 0, false
}

func (v Value) String() string {
	switch v.Kind {
	case command.KindInt32:
		return strconv.FormatInt(int64(v.Int), 10)
	case command.KindFloat32:
		return strconv.FormatFloat(float64(v.Float), 'g', -1, 32)
	case command.KindFloatArray:
		parts := make([]string, len(v.Floats))
		for i, f := range v.Floats {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return fmt.Sprintf("<%s>", v.Kind)
}
