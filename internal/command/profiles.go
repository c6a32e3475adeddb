// internal/command/profiles.go
package command

import (
	"fmt"
	"sort"
)

// Profile is one numbering scheme of the TSS command set together with the
// polling batches and spectrometer groups that belong to it.
//
// Two schemes exist in the field. They overlap but are shifted against each
// other, so they are kept as separate profiles and never merged.
type Profile struct {
	Name  string
	Table *Table
	Fast  []uint32 // high-frequency batch
	Slow  []uint32 // low-frequency batch
	Rocks []RockGroup
}

// RockGroup names the spectrometer fields of one EVA.
type RockGroup struct {
	EvaID       int
	IDField     string
	Composition []Component
}

// Component maps a composition label to a telemetry field.
type Component struct {
	Label string
	Field string
}

const (
	ProfileTSS2025 = "tss-2025"
	ProfileReadme  = "tss-readme"

	DefaultProfile = ProfileTSS2025
)

var profileBuilders = map[string]func() Profile{
	ProfileTSS2025: buildTSS2025,
	ProfileReadme:  buildReadme,
}

// ProfileNames lists the known profiles.
func ProfileNames() []string {
	out := make([]string, 0, len(profileBuilders))
	for name := range profileBuilders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadProfile returns a fresh copy of the named profile.
func LoadProfile(name string) (Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	b, ok := profileBuilders[name]
	if !ok {
		return Profile{}, fmt.Errorf("command: unknown profile %q (known: %v)", name, ProfileNames())
	}
	return b(), nil
}

// ---- shared ranges ----

type builder struct {
	entries []Entry
}

func (b *builder) add(id uint32, name string, kind Kind) {
	b.entries = append(b.entries, Entry{ID: id, Name: name, Kind: kind})
}

func (b *builder) addRound(id uint32, name string) {
	b.entries = append(b.entries, Entry{ID: id, Name: name, Kind: KindFloat32, Round: true})
}

func (b *builder) series(first uint32, kind Kind, names ...string) {
	for i, n := range names {
		b.add(first+uint32(i), n, kind)
	}
}

func (b *builder) generic(from, to uint32, prefix string) {
	for id := from; id <= to; id++ {
		b.add(id, fmt.Sprintf("%s_%d", prefix, id), KindFloat32)
	}
}

func (b *builder) mustTable() *Table {
	t, err := NewTable(b.entries)
	if err != nil {
		panic("command: built-in profile is inconsistent: " + err.Error())
	}
	return t
}

func idRange(from, to uint32) []uint32 {
	out := make([]uint32, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, id)
	}
	return out
}

func concat(parts ...[]uint32) []uint32 {
	var out []uint32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var dcuFields = []string{"batt", "oxy", "comm", "fan", "pump", "co2"}

func (b *builder) dcuIMURover() {
	for i, f := range dcuFields {
		b.add(uint32(2+i), "eva1_"+f, KindInt32)
		b.add(uint32(8+i), "eva2_"+f, KindInt32)
	}
	b.series(14, KindInt32, "o2_error", "pump_error", "fan_error")
	b.series(17, KindFloat32,
		"eva1_imu_posx", "eva1_imu_posy", "eva1_imu_heading",
		"eva2_imu_posx", "eva2_imu_posy", "eva2_imu_heading",
		"rover_posx", "rover_posy",
	)
	b.add(25, "rover_qr_id", KindInt32)
}

var uiaFields = []string{
	"uia_emu1_power", "uia_ev1_supply", "uia_ev1_waste", "uia_ev1_oxygen",
	"uia_emu2_power", "uia_ev2_supply", "uia_ev2_waste", "uia_ev2_oxygen",
	"uia_o2_vent", "uia_depress_pump",
}

// ---- tss-2025 (canonical) ----

var specLabels2025 = []string{"oxy", "water", "co2", "h2", "n2", "other", "temp", "pres", "humid", "light"}

var rockLabels2025 = []string{"oxygen", "water", "co2", "h2", "n2", "other", "temperature", "pressure", "humidity", "light"}

var evaTelemetry2025 = []string{
	"batt_time_left", "oxy_pri_storage", "oxy_sec_storage", "oxy_pri_pressure",
	"oxy_sec_pressure", "suit_pressure_oxy", "suit_pressure_co2", "suit_pressure_other",
	"suit_pressure_total", "scrubber_a_pressure", "scrubber_b_pressure", "h2o_gas_pressure",
	"h2o_liquid_pressure", "oxy_consumption", "co2_production", "fan_pri_rpm",
	"fan_sec_rpm", "helmet_pressure_co2", "heart_rate", "temperature",
	"coolant_gas_pressure", "coolant_liquid_pressure",
}

func buildTSS2025() Profile {
	var b builder
	b.dcuIMURover()

	var rocks []RockGroup
	for eva, base := range map[int]uint32{1: 26, 2: 37} {
		prefix := fmt.Sprintf("eva%d_spec_", eva)
		b.add(base, prefix+"id", KindInt32)
		g := RockGroup{EvaID: eva, IDField: prefix + "id"}
		for i, l := range specLabels2025 {
			b.add(base+1+uint32(i), prefix+l, KindFloat32)
			g.Composition = append(g.Composition, Component{Label: rockLabels2025[i], Field: prefix + l})
		}
		rocks = append(rocks, g)
	}
	sort.Slice(rocks, func(i, j int) bool { return rocks[i].EvaID < rocks[j].EvaID })

	b.series(48, KindInt32, uiaFields...)
	b.add(58, "eva_time", KindFloat32)
	for i, f := range evaTelemetry2025 {
		b.add(59+uint32(i), "eva1_"+f, KindFloat32)
		b.add(81+uint32(i), "eva2_"+f, KindFloat32)
	}
	b.generic(103, 118, "eva_state")
	b.generic(119, 166, "pr_telemetry")
	b.add(167, "pr_lidar", KindFloatArray)

	return Profile{
		Name:  ProfileTSS2025,
		Table: b.mustTable(),
		Fast:  concat(idRange(2, 7), idRange(17, 25)),
		Slow:  concat(idRange(8, 16), idRange(26, 167)),
		Rocks: rocks,
	}
}

// ---- tss-readme (alternative) ----

var oxideLabels = []string{"sio2", "tio2", "al2o3", "feo", "mno", "mgo", "cao", "k2o", "p2o3", "rock_other"}

var evaTelemetryReadme = []string{
	"batt_time_left", "ui_heart_rate", "placeholder_cmd%d", "ui_pri_o2_pressure",
	"ui_suit_o2_pressure", "ui_suit_co2_pressure", "ui_suit_other_pressure", "ui_suit_total_pressure",
	"ui_helmet_co2_pressure", "ui_o2_consumption", "ui_co2_production", "ui_fan_pri_rpm",
	"ui_fan_sec_rpm", "ui_temperature", "ui_coolant_ml", "placeholder_cmd%d",
	"ui_scrubber_a_pressure", "ui_scrubber_b_pressure", "placeholder_cmd%d", "ui_o2_time_left",
	"ui_h2o_gas_pressure", "ui_h2o_liquid_pressure",
}

func buildReadme() Profile {
	var b builder
	b.dcuIMURover()

	var rocks []RockGroup
	for eva, base := range map[int]uint32{1: 31, 2: 42} {
		prefix := fmt.Sprintf("eva%d_", eva)
		// spectrometer ids travel as float32 in this revision
		b.addRound(base, prefix+"spec_id")
		g := RockGroup{EvaID: eva, IDField: prefix + "spec_id"}
		for i, l := range oxideLabels {
			b.add(base+1+uint32(i), prefix+l, KindFloat32)
			label := l
			if l == "rock_other" {
				label = "other"
			}
			g.Composition = append(g.Composition, Component{Label: label, Field: prefix + l})
		}
		rocks = append(rocks, g)
	}
	sort.Slice(rocks, func(i, j int) bool { return rocks[i].EvaID < rocks[j].EvaID })

	b.series(53, KindInt32, uiaFields...)
	b.add(63, "eva_time", KindFloat32)
	for eva, base := range map[int]uint32{1: 64, 2: 86} {
		for i, f := range evaTelemetryReadme {
			id := base + uint32(i)
			name := f
			if f == "placeholder_cmd%d" {
				name = fmt.Sprintf(f, id)
			}
			b.add(id, fmt.Sprintf("eva%d_%s", eva, name), KindFloat32)
		}
	}
	b.generic(108, 123, "eva_state")
	b.generic(124, 171, "pr_telemetry")
	b.add(172, "pr_lidar", KindFloatArray)

	return Profile{
		Name:  ProfileReadme,
		Table: b.mustTable(),
		Fast:  concat(idRange(2, 7), idRange(17, 25)),
		Slow:  concat(idRange(8, 16), idRange(31, 172)),
		Rocks: rocks,
	}
}
