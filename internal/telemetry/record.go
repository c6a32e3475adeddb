// internal/telemetry/record.go
// Package telemetry shapes decoded TSS values into the records the relay
// publishes.
package telemetry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/command"
)

// Record types produced by the relay besides the per-poller ones.
const (
	TypeHighFrequency = "high-frequency"
	TypeLowFrequency  = "low-frequency"
	TypeRock          = "rock_data"
	TypeStatus        = "tss_status"
)

// Record is one published snapshot. Fields hold int64, float64, []float64
// or nested maps. A record is built fresh for every tick.
type Record struct {
	ID        uuid.UUID
	Type      string
	Timestamp time.Time
	Fields    map[string]interface{}
	Missing   []string
}

func NewRecord(typ string, at time.Time) Record {
	return Record{
		ID:        uuid.New(),
		Type:      typ,
		Timestamp: at,
		Fields:    make(map[string]interface{}),
	}
}

// Reshape maps values by command id onto field names. Ids the table does not
// know are ignored. Failed ids and absent values are listed in Missing.
func Reshape(table *command.Table, typ string, at time.Time, values map[uint32]codec.Value, failures map[uint32]error) Record {
	rec := NewRecord(typ, at)
	for id, v := range values {
		e, ok := table.Lookup(id)
		if !ok {
			continue
		}
		if v.IsAbsent() {
			rec.Missing = append(rec.Missing, e.Name)
			continue
		}
		rec.Fields[e.Name] = v.Interface()
	}
	for id := range failures {
		if e, ok := table.Lookup(id); ok {
			rec.Missing = append(rec.Missing, e.Name)
		}
	}
	sort.Strings(rec.Missing)
	return rec
}

func (r Record) Get(field string) (interface{}, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// Float returns a numeric field as float64.
func (r Record) Float(field string) (float64, bool) {
	switch n := r.Fields[field].(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// MarshalJSON renders a flat object: fields next to "timestamp" (unix ms),
// "type" and "id"; "missing" only when something is.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Fields)+4)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["timestamp"] = r.Timestamp.UnixNano() / int64(time.Millisecond)
	m["type"] = r.Type
	m["id"] = r.ID.String()
	if len(r.Missing) != 0 {
		m["missing"] = r.Missing
	}
	return json.Marshal(m)
}
