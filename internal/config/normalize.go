// internal/config/normalize.go
package config

import (
	"net"
	"strconv"

	"github.com/tamzrod/tss-relay/internal/status"
)

// Defaults for a bare config file.
const (
	DefaultTimeoutMs      = 2000
	DefaultFastIntervalMs = 100
	DefaultSlowIntervalMs = 1000
	DefaultWSQueue        = 16
	DefaultWriteTimeoutMs = 100
	DefaultMirrorTimeout  = 2000
	DefaultTopicPrefix    = "tss"
	DefaultRockIntervalMs = 2000

	BatchFast = "fast"
	BatchSlow = "slow"

	ProtocolModbus = "modbus"
	ProtocolIngest = "ingest"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.TSS.Endpoint == "" {
		cfg.TSS.Endpoint = net.JoinHostPort(DefaultTSSHost, strconv.Itoa(DefaultTSSPort))
	}
	if cfg.TSS.TimeoutMs <= 0 {
		cfg.TSS.TimeoutMs = DefaultTimeoutMs
	}

	// Two schedules unless the file says otherwise.
	if len(cfg.Pollers) == 0 {
		cfg.Pollers = []PollerConfig{
			{Name: "high-frequency", IntervalMs: DefaultFastIntervalMs, Batch: BatchFast},
			{Name: "low-frequency", IntervalMs: DefaultSlowIntervalMs, Batch: BatchSlow},
		}
	}
	for i := range cfg.Pollers {
		p := &cfg.Pollers[i]
		if p.TimeoutMs <= 0 {
			p.TimeoutMs = cfg.TSS.TimeoutMs
		}
	}

	if cfg.Publish.MinIntervalMs == nil {
		cfg.Publish.MinIntervalMs = map[string]int{"rock_data": DefaultRockIntervalMs}
	}

	h := &cfg.Publish.HTTP
	if h.Listen == "" {
		h.Listen = ":" + strconv.Itoa(DefaultHTTPPort)
	}
	if h.WSQueue <= 0 {
		h.WSQueue = DefaultWSQueue
	}
	if h.WriteTimeoutMs <= 0 {
		h.WriteTimeoutMs = DefaultWriteTimeoutMs
	}

	m := &cfg.Publish.MQTT
	if m.TopicPrefix == "" {
		m.TopicPrefix = DefaultTopicPrefix
	}
	if m.ClientID == "" {
		m.ClientID = "tss-relay"
	}
	if m.TimeoutMs <= 0 {
		m.TimeoutMs = cfg.TSS.TimeoutMs
	}

	for ti := range cfg.Publish.Mirror.Targets {
		t := &cfg.Publish.Mirror.Targets[ti]
		if t.Protocol == "" {
			t.Protocol = ProtocolModbus
		}
		if t.TimeoutMs <= 0 {
			t.TimeoutMs = DefaultMirrorTimeout
		}

		// ------------------------------------------------------------
		// LINK STATUS BLOCK NORMALIZATION (OPT-IN)
		// ------------------------------------------------------------
		if t.StatusSlot == nil {
			continue
		}
		// ASCII already validated
		if len(t.DeviceName) > status.DeviceNameMaxChars {
			t.DeviceName = t.DeviceName[:status.DeviceNameMaxChars]
		}
	}
}
