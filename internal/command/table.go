// internal/command/table.go
// Package command holds the static TSS command table: which numeric command
// id maps to which telemetry field, and how its value is laid out on the wire.
package command

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the wire representation of a command's value.
type Kind uint8

const (
	KindNone Kind = iota // absent value, never a table entry
	KindInt32
	KindFloat32
	KindFloatArray
)

// ArrayLen is the fixed arity of the array-valued (lidar) command.
const ArrayLen = 13

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt32:
		return "int32"
	case KindFloat32:
		return "float32"
	case KindFloatArray:
		return "float_array"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String for table entries.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int32", "int":
		return KindInt32, nil
	case "float32", "float":
		return KindFloat32, nil
	case "float_array", "array":
		return KindFloatArray, nil
	}
	return KindNone, fmt.Errorf("command: unknown kind %q", s)
}

// Entry describes one command id.
type Entry struct {
	ID   uint32
	Name string
	Kind Kind

	// Round marks a logically integer field that the TSS transmits as
	// float32. Decode reads a float and rounds it to the nearest integer.
	// Only valid with KindFloat32.
	Round bool
}

// Table is an immutable id -> Entry lookup.
type Table struct {
	entries map[uint32]Entry
	byName  map[string]uint32
}

// NewTable builds a table, rejecting duplicate ids and names.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{
		entries: make(map[uint32]Entry, len(entries)),
		byName:  make(map[string]uint32, len(entries)),
	}
	for _, e := range entries {
		if err := e.validate(); err != nil {
			return nil, err
		}
		if _, dup := t.entries[e.ID]; dup {
			return nil, fmt.Errorf("command: duplicate id %d", e.ID)
		}
		if prev, dup := t.byName[e.Name]; dup {
			return nil, fmt.Errorf("command: name %q used by ids %d and %d", e.Name, prev, e.ID)
		}
		t.entries[e.ID] = e
		t.byName[e.Name] = e.ID
	}
	return t, nil
}

func (e Entry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("command: id %d has no name", e.ID)
	}
	switch e.Kind {
	case KindInt32, KindFloat32, KindFloatArray:
	default:
		return fmt.Errorf("command: id %d (%s) has invalid kind %s", e.ID, e.Name, e.Kind)
	}
	if e.Round && e.Kind != KindFloat32 {
		return fmt.Errorf("command: id %d (%s) round requires float32, got %s", e.ID, e.Name, e.Kind)
	}
	return nil
}

// Lookup returns the entry for id. Unknown ids are not an error.
func (t *Table) Lookup(id uint32) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[id]
	return e, ok
}

// IDByName returns the id of a field name.
func (t *Table) IDByName(name string) (uint32, bool) {
	if t == nil {
		return 0, false
	}
	id, ok := t.byName[name]
	return id, ok
}

// IDs returns all ids in ascending order.
func (t *Table) IDs() []uint32 {
	if t == nil {
		return nil
	}
	ids := make([]uint32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// With returns a copy of t where the given entries replace or extend the
// existing ones. The receiver is not modified.
func (t *Table) With(overrides []Entry) (*Table, error) {
	merged := make(map[uint32]Entry, t.Len()+len(overrides))
	if t != nil {
		for id, e := range t.entries {
			merged[id] = e
		}
	}
	for _, o := range overrides {
		merged[o.ID] = o
	}
	list := make([]Entry, 0, len(merged))
	for _, e := range merged {
		list = append(list, e)
	}
	return NewTable(list)
}
