// internal/publisher/mirror/status_writer.go
package mirror

import (
	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/publisher"
	"github.com/tamzrod/tss-relay/internal/status"
)

// statusWriter keeps one target's status block in step with the link
// snapshot. It remembers what the endpoint holds and only writes the
// registers that changed; after a failure the whole block is re-asserted.
type statusWriter struct {
	plan *StatusPlan
	cli  endpointClient
	name []uint16

	// block last acknowledged by the endpoint, nil until the first full
	// write succeeds
	held []uint16
}

// newStatusWriter returns nil when the target has no status block.
func newStatusWriter(sp *StatusPlan, clients map[string]endpointClient) *statusWriter {
	if sp == nil {
		return nil
	}
	return &statusWriter{
		plan: sp,
		cli:  clients[sp.Endpoint],
		name: status.PackName(sp.DeviceName),
	}
}

func (sw *statusWriter) addr() uint16 { return sw.plan.BaseSlot * status.SlotsPerDevice }

func (sw *statusWriter) Write(s status.Snapshot) error {
	if sw.cli == nil {
		return errors.NotFoundf("mirror: client for status endpoint %s", sw.plan.Endpoint)
	}
	next := status.Block(s, sw.name)

	if sw.held == nil {
		if err := sw.cli.WriteRegisters(areaHoldingRegisters, sw.plan.UnitID, sw.addr(), next); err != nil {
			return errors.Annotatef(err, "mirror: status block ep=%s unit=%d slot=%d",
				sw.plan.Endpoint, sw.plan.UnitID, sw.plan.BaseSlot)
		}
		sw.held = next
		return nil
	}

	var errs []error
	for _, d := range diffRuns(sw.held, next) {
		regs := next[d.from:d.to]
		if err := sw.cli.WriteRegisters(areaHoldingRegisters, sw.plan.UnitID, sw.addr()+d.from, regs); err != nil {
			errs = append(errs, errors.Annotatef(err, "mirror: status slots %d..%d ep=%s",
				d.from, d.to-1, sw.plan.Endpoint))
			continue
		}
		copy(sw.held[d.from:d.to], regs)
	}
	if len(errs) != 0 {
		sw.held = nil
	}
	return publisher.FoldErrors(errs)
}

type span struct{ from, to uint16 }

// diffRuns returns the maximal runs of registers where a and b differ.
func diffRuns(a, b []uint16) []span {
	var out []span
	open := false
	for i := range b {
		same := i < len(a) && a[i] == b[i]
		switch {
		case !same && !open:
			out = append(out, span{from: uint16(i)})
			open = true
		case same && open:
			out[len(out)-1].to = uint16(i)
			open = false
		}
	}
	if open {
		out[len(out)-1].to = uint16(len(b))
	}
	return out
}
