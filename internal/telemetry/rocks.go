// internal/telemetry/rocks.go
package telemetry

import (
	"math"

	"github.com/tamzrod/tss-relay/internal/command"
)

// RockNames maps spectrometer ids to rock names.
var RockNames = map[int]string{
	0:  "default_rock",
	1:  "mare_basalt",
	2:  "vesicular_basalt",
	3:  "olivine_basalt_1",
	4:  "feldspathic_basalt",
	5:  "pigeonite_basalt",
	6:  "olivine_basalt_2",
	7:  "ilmenite_basalt",
	8:  "ilmenite_basalt",
	9:  "ilmenite_basalt",
	10: "brecia_granite",
	11: "kreep_breccia",
	12: "ancient_regolith_breccia",
	13: "vitric_matrix_breccia",
	14: "ilmenite_basalt",
}

const unknownRock = "unknown_rock"

// DeriveRocks builds one rock record per group whose spectrometer id field
// is present in rec. Missing composition fields read as 0.
func DeriveRocks(groups []command.RockGroup, rec Record) []Record {
	var out []Record
	for _, g := range groups {
		raw, ok := rec.Float(g.IDField)
		if !ok {
			continue
		}
		specID := int(math.Round(raw))
		name, ok := RockNames[specID]
		if !ok {
			name = unknownRock
		}

		comp := make(map[string]float64, len(g.Composition))
		for _, c := range g.Composition {
			v, _ := rec.Float(c.Field)
			comp[c.Label] = v
		}

		r := NewRecord(TypeRock, rec.Timestamp)
		r.Fields["evaId"] = int64(g.EvaID)
		r.Fields["specId"] = int64(specID)
		r.Fields["name"] = name
		r.Fields["composition"] = comp
		out = append(out, r)
	}
	return out
}
