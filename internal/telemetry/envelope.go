// internal/telemetry/envelope.go
package telemetry

import "encoding/json"

// Envelope is the dashboard wire message.
type Envelope struct {
	Type    string         `json:"type"`
	Data    interface{}    `json:"data"`
	Success bool           `json:"success"`
	Error   *EnvelopeError `json:"error,omitempty"`
}

type EnvelopeError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func NewEnvelope(rec Record) Envelope {
	return Envelope{Type: rec.Type, Data: rec, Success: true}
}

func ErrorEnvelope(typ string, code int, err error) Envelope {
	return Envelope{
		Type:  typ,
		Error: &EnvelopeError{Message: err.Error(), Code: code},
	}
}

// Marshal encodes rec inside its envelope.
func Marshal(rec Record) ([]byte, error) {
	return json.Marshal(NewEnvelope(rec))
}
