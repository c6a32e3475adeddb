// internal/publisher/mirror/mirror.go
// Package mirror copies telemetry into holding registers of Modbus TCP or
// Raw Ingest endpoints, so PLC-side tooling can read the TSS without UDP.
package mirror

import (
	"math"
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/publisher"
	"github.com/tamzrod/tss-relay/internal/status"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// Writer is a publisher.Publisher.
type Writer struct {
	plan    Plan
	table   *command.Table
	clients map[string]endpointClient

	// guards the status writers' held blocks
	mu     sync.Mutex
	status []*statusWriter
}

func New(plan Plan, table *command.Table, clients map[string]endpointClient) *Writer {
	w := &Writer{
		plan:    plan,
		table:   table,
		clients: clients,
	}
	for _, t := range plan.Targets {
		if sw := newStatusWriter(t.Status, clients); sw != nil {
			w.status = append(w.status, sw)
		}
	}
	return w
}

// Publish writes data records into the register image and status records
// into the status blocks. Fields missing from rec are left untouched.
func (w *Writer) Publish(recordType string, rec telemetry.Record) error {
	if recordType == telemetry.TypeStatus {
		s, ok := status.FromRecord(rec)
		if !ok {
			return errors.NotValidf("mirror: %s record", recordType)
		}
		return w.writeStatus(s)
	}

	runs := buildRuns(w.table, rec)
	if len(runs) == 0 {
		return nil
	}

	var errs []error
	for _, tgt := range w.plan.Targets {
		cli := w.clients[tgt.Endpoint]
		if cli == nil {
			errs = append(errs, errors.NotFoundf("mirror: client for endpoint %s", tgt.Endpoint))
			continue
		}
		for _, r := range runs {
			addr := tgt.Base + r.offset
			if err := cli.WriteRegisters(areaHoldingRegisters, tgt.UnitID, addr, r.regs); err != nil {
				errs = append(errs, errors.Annotatef(err, "mirror: ep=%s unit=%d addr=%d qty=%d",
					tgt.Endpoint, tgt.UnitID, addr, len(r.regs)))
			}
		}
	}
	return publisher.FoldErrors(errs)
}

func (w *Writer) writeStatus(s status.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	errs := make([]error, 0, len(w.status))
	for _, sw := range w.status {
		errs = append(errs, sw.Write(s))
	}
	return publisher.FoldErrors(errs)
}

// ---- register image ----

// run is a contiguous register range relative to the target base.
type run struct {
	offset uint16
	regs   []uint16
}

type slot struct {
	offset uint16
	regs   []uint16
}

// buildRuns renders every table field of rec as float32 register pairs and
// merges neighbours into runs no longer than maxRegsPerWrite.
func buildRuns(table *command.Table, rec telemetry.Record) []run {
	var slots []slot
	for name, v := range rec.Fields {
		id, ok := table.IDByName(name)
		if !ok {
			continue
		}
		regs := valueRegs(v)
		if regs == nil {
			continue
		}
		slots = append(slots, slot{offset: uint16(2 * id), regs: regs})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].offset < slots[j].offset })

	var out []run
	for _, s := range slots {
		if n := len(out); n > 0 {
			last := &out[n-1]
			end := last.offset + uint16(len(last.regs))
			if end == s.offset && len(last.regs)+len(s.regs) <= maxRegsPerWrite {
				last.regs = append(last.regs, s.regs...)
				continue
			}
		}
		out = append(out, run{offset: s.offset, regs: append([]uint16(nil), s.regs...)})
	}
	return out
}

// valueRegs converts a record field into big-endian float32 register pairs.
// Ints are converted to float. Unsupported values return nil.
func valueRegs(v interface{}) []uint16 {
	switch n := v.(type) {
	case int64:
		return floatRegs(float32(n))
	case float64:
		return floatRegs(float32(n))
	case []float64:
		if len(n) > command.ArrayLen {
			n = n[:command.ArrayLen]
		}
		out := make([]uint16, 0, 2*len(n))
		for _, f := range n {
			out = append(out, floatRegs(float32(f))...)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

func floatRegs(f float32) []uint16 {
	bits := math.Float32bits(f)
	return []uint16{uint16(bits >> 16), uint16(bits)}
}
