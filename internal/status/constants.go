// internal/status/constants.go
package status

// Status block layout. Register readers depend on it; it is not
// configurable.
const (
	SlotsPerDevice = 20

	SlotHealthCode     = 0
	SlotLastErrorCode  = 1 // fields missing from the last poll
	SlotSecondsInError = 2 // seconds since the link was last OK

	// 3..10 stay zero
	SlotReservedStart = 3
	SlotReservedEnd   = 10

	// device name: 16 ASCII chars, two per register, at the end of the block
	SlotDeviceNameStart = 11
	SlotDeviceNameSlots = 8
	SlotDeviceNameEnd   = SlotDeviceNameStart + SlotDeviceNameSlots - 1
	DeviceNameMaxChars  = 2 * SlotDeviceNameSlots
)

// Health codes, as written to SlotHealthCode.
const (
	HealthUnknown  uint16 = 0 // no poll finished yet
	HealthOK       uint16 = 1 // every field answered
	HealthError    uint16 = 2 // nothing answered
	HealthStale    uint16 = 3 // partial answer
	HealthDisabled uint16 = 4 // relay stopped
)
