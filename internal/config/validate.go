// internal/config/validate.go
package config

import (
	"fmt"
	"net"

	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/status"
)

// record types the relay emits on its own; pollers must not reuse them
var reservedTypes = map[string]bool{
	"rock_data":  true,
	"tss_status": true,
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ------------------------------------------------------------
	// TSS LINK + COMMAND TABLE
	// ------------------------------------------------------------

	if cfg.TSS.Endpoint != "" {
		if _, _, err := net.SplitHostPort(cfg.TSS.Endpoint); err != nil {
			return fmt.Errorf("tss.endpoint %q: %v", cfg.TSS.Endpoint, err)
		}
	}
	if cfg.TSS.TimeoutMs < 0 {
		return fmt.Errorf("tss.timeout_ms must be >= 0")
	}

	table, err := BuildTable(cfg)
	if err != nil {
		return err
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %v", err)
	}

	// ------------------------------------------------------------
	// POLLERS
	// ------------------------------------------------------------

	names := make(map[string]bool)
	for i, p := range cfg.Pollers {
		if p.Name == "" {
			return fmt.Errorf("pollers[%d]: name required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("pollers: duplicate name %q", p.Name)
		}
		if reservedTypes[p.Name] {
			return fmt.Errorf("pollers: name %q is a reserved record type", p.Name)
		}
		names[p.Name] = true

		if p.IntervalMs <= 0 {
			return fmt.Errorf("poller %q: interval_ms must be > 0", p.Name)
		}
		if p.TimeoutMs < 0 {
			return fmt.Errorf("poller %q: timeout_ms must be >= 0", p.Name)
		}
		if len(p.Commands) == 0 {
			switch p.Batch {
			case BatchFast, BatchSlow:
			case "":
				return fmt.Errorf("poller %q: batch or commands required", p.Name)
			default:
				return fmt.Errorf("poller %q: unknown batch %q", p.Name, p.Batch)
			}
		}
		for _, id := range p.Commands {
			if _, ok := table.Lookup(id); !ok {
				return fmt.Errorf("poller %q: command %d not in table", p.Name, id)
			}
		}
	}

	for typ, ms := range cfg.Publish.MinIntervalMs {
		if ms < 0 {
			return fmt.Errorf("publish.min_interval_ms[%s] must be >= 0", typ)
		}
	}

	// ------------------------------------------------------------
	// MQTT
	// ------------------------------------------------------------

	if cfg.Publish.MQTT.Enabled {
		if cfg.Publish.MQTT.Broker == "" {
			return fmt.Errorf("publish.mqtt: broker required when enabled")
		}
		if cfg.Publish.MQTT.QoS > 2 {
			return fmt.Errorf("publish.mqtt: qos %d out of range", cfg.Publish.MQTT.QoS)
		}
	}

	return validateMirror(cfg.Publish.Mirror, table)
}

// BuildTable resolves the configured profile and applies overrides.
func BuildTable(cfg *Config) (*command.Table, error) {
	p, err := command.LoadProfile(cfg.TSS.Profile)
	if err != nil {
		return nil, err
	}
	if len(cfg.Commands.Overrides) == 0 {
		return p.Table, nil
	}
	entries := make([]command.Entry, 0, len(cfg.Commands.Overrides))
	for _, o := range cfg.Commands.Overrides {
		kind, err := command.ParseKind(o.Kind)
		if err != nil {
			return nil, fmt.Errorf("commands.overrides id=%d: %v", o.ID, err)
		}
		entries = append(entries, command.Entry{ID: o.ID, Name: o.Name, Kind: kind, Round: o.Round})
	}
	t, err := p.Table.With(entries)
	if err != nil {
		return nil, fmt.Errorf("commands.overrides: %v", err)
	}
	return t, nil
}

func validateMirror(mc MirrorConfig, table *command.Table) error {
	type span struct {
		start int
		end   int
		owner string
	}

	ids := table.IDs()
	maxID := 0
	if len(ids) > 0 {
		maxID = int(ids[len(ids)-1])
	}
	// the array command may sit at the highest id
	dataLen := 2 * (maxID + command.ArrayLen)

	// key = endpoint | unit_id
	spans := make(map[string][]span)
	add := func(key string, s span) error {
		for _, prev := range spans[key] {
			// overlap check (inclusive)
			if !(s.end < prev.start || s.start > prev.end) {
				return fmt.Errorf(
					"mirror memory overlap: %s range=%d-%d (%s) overlaps range=%d-%d (%s)",
					key, s.start, s.end, s.owner, prev.start, prev.end, prev.owner,
				)
			}
		}
		spans[key] = append(spans[key], s)
		return nil
	}

	for _, t := range mc.Targets {
		owner := fmt.Sprintf("target %d", t.ID)

		switch t.Protocol {
		case "", ProtocolModbus, ProtocolIngest:
		default:
			return fmt.Errorf("%s: unknown protocol %q", owner, t.Protocol)
		}
		if t.Endpoint == "" {
			return fmt.Errorf("%s: endpoint required", owner)
		}

		// device_name sanity (ASCII only)
		for i := 0; i < len(t.DeviceName); i++ {
			if t.DeviceName[i] > 0x7F {
				return fmt.Errorf("%s: device_name must contain ASCII characters only", owner)
			}
		}

		start := int(t.BaseAddress)
		end := start + dataLen - 1
		if end > 0xFFFF {
			return fmt.Errorf("%s: base_address %d leaves no room for %d registers", owner, start, dataLen)
		}
		if err := add(fmt.Sprintf("%s|%d", t.Endpoint, t.UnitID), span{start, end, owner + " data"}); err != nil {
			return err
		}

		// status is opt-in
		if t.StatusSlot == nil {
			continue
		}
		if t.StatusUnitID == nil {
			return fmt.Errorf("%s: status_slot is set but status_unit_id is not", owner)
		}
		sStart := int(*t.StatusSlot) * status.SlotsPerDevice
		sEnd := sStart + status.SlotsPerDevice - 1
		if sEnd > 0xFFFF {
			return fmt.Errorf("%s: status_slot %d out of range", owner, *t.StatusSlot)
		}
		if err := add(fmt.Sprintf("%s|%d", t.Endpoint, *t.StatusUnitID), span{sStart, sEnd, owner + " status"}); err != nil {
			return err
		}
	}
	return nil
}
