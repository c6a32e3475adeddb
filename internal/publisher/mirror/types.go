// internal/publisher/mirror/types.go
package mirror

// endpointClient is the exact contract the mirror uses.
// IMPORTANT: There must be NO other version of this interface anywhere.
type endpointClient interface {
	WriteRegisters(area byte, unitID uint8, addr uint16, regs []uint16) error
}

// StatusPlan places one link status block inside an endpoint.
type StatusPlan struct {
	Endpoint   string
	UnitID     uint8
	BaseSlot   uint16
	DeviceName string
}

// TargetPlan is one register image of the telemetry. Command id N lives at
// Base + 2*N.
type TargetPlan struct {
	TargetID uint32
	Endpoint string
	UnitID   uint8
	Base     uint16

	// Status is nil when the target carries no status block.
	Status *StatusPlan
}

// Plan is the fully-built write plan for the mirror.
type Plan struct {
	Targets []TargetPlan
}

const areaHoldingRegisters byte = 3

// maxRegsPerWrite keeps each write inside one Modbus PDU (FC16 allows 123).
// Even, so a float pair is never split.
const maxRegsPerWrite = 122
