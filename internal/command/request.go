// internal/command/request.go
package command

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/juju/errors"
)

// SetRequest is a set command as received from MQTT or HTTP:
//
//	{"command": 48, "value": 1, "timeout_ms": 500, "request_id": "abc"}
//
// "command" may also be a field name from the table.
type SetRequest struct {
	ID        uint32
	Value     float32
	Timeout   time.Duration // zero means the correlator default
	RequestID string
}

type setRequestJSON struct {
	Command   json.RawMessage `json:"command"`
	Value     *float64        `json:"value"`
	TimeoutMs int             `json:"timeout_ms"`
	RequestID string          `json:"request_id"`
}

// ParseSetRequest decodes and checks a set command. Numeric ids outside
// the table are passed through; names must resolve.
func ParseSetRequest(b []byte, t *Table) (SetRequest, error) {
	var raw setRequestJSON
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return SetRequest{}, errors.NewNotValid(err, "command: request")
	}
	if len(raw.Command) == 0 {
		return SetRequest{}, errors.NotValidf("command: missing \"command\"")
	}
	if raw.Value == nil {
		return SetRequest{}, errors.NotValidf("command: missing \"value\"")
	}
	if math.IsNaN(*raw.Value) || math.Abs(*raw.Value) > math.MaxFloat32 {
		return SetRequest{}, errors.NotValidf("command: value %v", *raw.Value)
	}
	if raw.TimeoutMs < 0 {
		return SetRequest{}, errors.NotValidf("command: timeout_ms %d", raw.TimeoutMs)
	}

	req := SetRequest{
		Value:     float32(*raw.Value),
		Timeout:   time.Duration(raw.TimeoutMs) * time.Millisecond,
		RequestID: raw.RequestID,
	}

	var id uint32
	var name string
	switch {
	case json.Unmarshal(raw.Command, &id) == nil:
		req.ID = id
	case json.Unmarshal(raw.Command, &name) == nil:
		v, ok := t.IDByName(name)
		if !ok {
			return SetRequest{}, errors.NotFoundf("command: field %q", name)
		}
		req.ID = v
	default:
		return SetRequest{}, errors.NotValidf("command: %s", string(raw.Command))
	}
	return req, nil
}

// SetResult answers a SetRequest. Value is the TSS echo, nil on failure.
type SetResult struct {
	RequestID string      `json:"request_id,omitempty"`
	Command   uint32      `json:"command"`
	Value     interface{} `json:"value"`
}
