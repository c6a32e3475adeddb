// internal/publisher/mirror/mirror_test.go
package mirror

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/status"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// ---- fake endpoint client ----

type writeCall struct {
	area   byte
	unitID uint8
	addr   uint16
	regs   []uint16
}

type fakeEndpointClient struct {
	writes []writeCall
	fail   error

	lastRegsAddr uint16
	lastRegs     []uint16
}

func (f *fakeEndpointClient) WriteRegisters(area byte, unitID uint8, addr uint16, regs []uint16) error {
	if f.fail != nil {
		return f.fail
	}
	cp := append([]uint16(nil), regs...)
	f.writes = append(f.writes, writeCall{area: area, unitID: unitID, addr: addr, regs: cp})
	f.lastRegsAddr = addr
	f.lastRegs = cp
	return nil
}

func testTable(t *testing.T) *command.Table {
	p, err := command.LoadProfile(command.ProfileTSS2025)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	return p.Table
}

func regsFloat(regs []uint16) float32 {
	return math.Float32frombits(uint32(regs[0])<<16 | uint32(regs[1]))
}

// ---- tests ----

func TestWriter_AddressMath(t *testing.T) {
	fake := &fakeEndpointClient{}
	plan := Plan{Targets: []TargetPlan{{TargetID: 1, Endpoint: "ep1", UnitID: 7, Base: 1000}}}
	w := New(plan, testTable(t), map[string]endpointClient{"ep1": fake})

	rec := telemetry.NewRecord(telemetry.TypeHighFrequency, time.Now())
	rec.Fields["eva1_imu_posx"] = 12.5 // id 17
	rec.Fields["eva1_batt"] = int64(1) // id 2
	rec.Fields["not_a_field"] = 3.0

	if err := w.Publish(rec.Type, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fake.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(fake.writes))
	}
	if fake.writes[0].addr != 1004 || fake.writes[0].unitID != 7 || fake.writes[0].area != 3 {
		t.Fatalf("unexpected first write %+v", fake.writes[0])
	}
	if got := regsFloat(fake.writes[0].regs); got != 1 {
		t.Fatalf("int field must be written as float, got %v", got)
	}
	if fake.writes[1].addr != 1034 {
		t.Fatalf("expected addr 1034, got %d", fake.writes[1].addr)
	}
	if got := regsFloat(fake.writes[1].regs); got != 12.5 {
		t.Fatalf("float field = %v", got)
	}
}

func TestWriter_CoalescesNeighbours(t *testing.T) {
	table := testTable(t)
	fake := &fakeEndpointClient{}
	w := New(Plan{Targets: []TargetPlan{{Endpoint: "ep1"}}}, table, map[string]endpointClient{"ep1": fake})

	rec := telemetry.NewRecord(telemetry.TypeHighFrequency, time.Now())
	for _, id := range []uint32{2, 3, 4, 5} {
		e, _ := table.Lookup(id)
		rec.Fields[e.Name] = int64(id)
	}

	if err := w.Publish(rec.Type, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.writes) != 1 {
		t.Fatalf("expected one coalesced write, got %d", len(fake.writes))
	}
	if fake.writes[0].addr != 4 || len(fake.writes[0].regs) != 8 {
		t.Fatalf("unexpected write %+v", fake.writes[0])
	}
	if regsFloat(fake.writes[0].regs[6:]) != 5 {
		t.Fatalf("id 5 value misplaced: %v", fake.writes[0].regs)
	}
}

func TestWriter_ArrayAndSplit(t *testing.T) {
	table := testTable(t)
	fake := &fakeEndpointClient{}
	w := New(Plan{Targets: []TargetPlan{{Endpoint: "ep1"}}}, table, map[string]endpointClient{"ep1": fake})

	rec := telemetry.NewRecord(telemetry.TypeLowFrequency, time.Now())
	// 103..166 are contiguous floats (128 registers), then the lidar array
	for id := uint32(103); id <= 166; id++ {
		e, _ := table.Lookup(id)
		rec.Fields[e.Name] = float64(id)
	}
	lidar := make([]float64, command.ArrayLen)
	for i := range lidar {
		lidar[i] = float64(i)
	}
	rec.Fields["pr_lidar"] = lidar

	if err := w.Publish(rec.Type, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fake.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(fake.writes))
	}
	first, second := fake.writes[0], fake.writes[1]
	if first.addr != 2*103 || len(first.regs) != maxRegsPerWrite {
		t.Fatalf("first write = addr %d len %d", first.addr, len(first.regs))
	}
	// ids 164..166 plus the 13-float array
	if second.addr != 2*164 || len(second.regs) != 6+2*command.ArrayLen {
		t.Fatalf("second write = addr %d len %d", second.addr, len(second.regs))
	}
	if regsFloat(second.regs[len(second.regs)-2:]) != 12 {
		t.Fatalf("last lidar value misplaced")
	}
}

func TestWriter_MissingClient(t *testing.T) {
	w := New(Plan{Targets: []TargetPlan{{Endpoint: "ghost"}}}, testTable(t), map[string]endpointClient{})

	rec := telemetry.NewRecord(telemetry.TypeHighFrequency, time.Now())
	rec.Fields["eva1_batt"] = int64(1)
	if err := w.Publish(rec.Type, rec); err == nil {
		t.Fatalf("expected missing client error")
	}
}

func TestWriter_WriteErrorReported(t *testing.T) {
	fake := &fakeEndpointClient{fail: errors.New("broken pipe")}
	w := New(Plan{Targets: []TargetPlan{{Endpoint: "ep1"}}}, testTable(t), map[string]endpointClient{"ep1": fake})

	rec := telemetry.NewRecord(telemetry.TypeHighFrequency, time.Now())
	rec.Fields["eva1_batt"] = int64(1)
	if err := w.Publish(rec.Type, rec); err == nil {
		t.Fatalf("expected write error")
	}
}

func TestWriter_StatusRecordRoutedToBlock(t *testing.T) {
	fake := &fakeEndpointClient{}
	plan := Plan{Targets: []TargetPlan{{
		Endpoint: "ep1",
		Status:   &StatusPlan{Endpoint: "ep1", UnitID: 9, BaseSlot: 2, DeviceName: "TSS"},
	}}}
	w := New(plan, testTable(t), map[string]endpointClient{"ep1": fake})

	s := status.Snapshot{Health: status.HealthStale, LastErrorCode: 3}
	if err := w.Publish(telemetry.TypeStatus, status.Record(s, time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.writes) != 1 {
		t.Fatalf("expected one status write, got %d", len(fake.writes))
	}
	wc := fake.writes[0]
	if wc.unitID != 9 || wc.addr != 40 || len(wc.regs) != status.SlotsPerDevice {
		t.Fatalf("unexpected status write %+v", wc)
	}
	if wc.regs[status.SlotHealthCode] != status.HealthStale || wc.regs[status.SlotLastErrorCode] != 3 {
		t.Fatalf("status regs = %v", wc.regs)
	}

	// rock records carry no table fields: nothing to write
	rock := telemetry.NewRecord(telemetry.TypeRock, time.Now())
	rock.Fields["evaId"] = int64(1)
	if err := w.Publish(rock.Type, rock); err != nil || len(fake.writes) != 1 {
		t.Fatalf("rock record must not be mirrored: err=%v writes=%d", err, len(fake.writes))
	}
}
