// internal/status/encode.go
package status

import (
	"time"

	"github.com/tamzrod/tss-relay/internal/telemetry"
)

// Encode lays s out as a status block with an empty name.
func Encode(s Snapshot) []uint16 {
	regs := make([]uint16, SlotsPerDevice)
	regs[SlotHealthCode] = s.Health
	regs[SlotLastErrorCode] = s.LastErrorCode
	regs[SlotSecondsInError] = s.SecondsInError
	return regs
}

// Block is Encode with name registers (see PackName) in place.
func Block(s Snapshot, name []uint16) []uint16 {
	regs := Encode(s)
	copy(regs[SlotDeviceNameStart:SlotDeviceNameEnd+1], name)
	return regs
}

// PackName renders name as SlotDeviceNameSlots registers, two bytes each,
// high byte first. Longer names are cut; non-printable bytes become '?'.
func PackName(name string) []uint16 {
	var buf [DeviceNameMaxChars]byte
	n := copy(buf[:], name)
	for i := 0; i < n; i++ {
		if buf[i] < 0x20 || buf[i] > 0x7E {
			buf[i] = '?'
		}
	}
	regs := make([]uint16, SlotDeviceNameSlots)
	for i := range regs {
		regs[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
	}
	return regs
}

// Record renders s as a "tss_status" telemetry record.
func Record(s Snapshot, at time.Time) telemetry.Record {
	r := telemetry.NewRecord(telemetry.TypeStatus, at)
	r.Fields["health"] = HealthName(s.Health)
	r.Fields["health_code"] = int64(s.Health)
	r.Fields["missing"] = int64(s.LastErrorCode)
	r.Fields["seconds_in_error"] = int64(s.SecondsInError)
	return r
}

// FromRecord is the inverse of Record. ok is false for other record types.
func FromRecord(r telemetry.Record) (Snapshot, bool) {
	if r.Type != telemetry.TypeStatus {
		return Snapshot{}, false
	}
	h, ok1 := r.Float("health_code")
	m, ok2 := r.Float("missing")
	sec, ok3 := r.Float("seconds_in_error")
	if !ok1 || !ok2 || !ok3 {
		return Snapshot{}, false
	}
	return Snapshot{
		Health:         uint16(h),
		LastErrorCode:  clamp(int(m)),
		SecondsInError: clamp(int(sec)),
	}, true
}
