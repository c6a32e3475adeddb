// internal/config/config.go
package config

type Config struct {
	TSS      TSSConfig      `yaml:"tss"`
	Commands CommandsConfig `yaml:"commands"`
	Pollers  []PollerConfig `yaml:"pollers"`
	Publish  PublishConfig  `yaml:"publish"`
	Log      LogConfig      `yaml:"log"`
}

// ---- TSS LINK ----

type TSSConfig struct {
	Endpoint  string `yaml:"endpoint"` // host:port of the TSS
	Listen    string `yaml:"listen"`   // local bind, empty = ephemeral
	TimeoutMs int    `yaml:"timeout_ms"`
	Profile   string `yaml:"profile"` // command numbering, see command.ProfileNames
}

// ---- COMMAND TABLE ----

type CommandsConfig struct {
	Overrides []CommandOverride `yaml:"overrides"`
}

// CommandOverride replaces or extends one entry of the profile table.
type CommandOverride struct {
	ID    uint32 `yaml:"id"`
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"` // int32 | float32 | float_array
	Round bool   `yaml:"round"`
}

// ---- POLL ----

type PollerConfig struct {
	Name       string `yaml:"name"`
	IntervalMs int    `yaml:"interval_ms"`
	TimeoutMs  int    `yaml:"timeout_ms"`

	// Batch selects a profile batch ("fast" or "slow"). Commands, when set,
	// replaces it.
	Batch    string   `yaml:"batch"`
	Commands []uint32 `yaml:"commands"`
}

// ---- PUBLISH ----

type PublishConfig struct {
	// MinIntervalMs throttles record types; missing types are never throttled.
	MinIntervalMs map[string]int `yaml:"min_interval_ms"`

	HTTP   HTTPConfig   `yaml:"http"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Mirror MirrorConfig `yaml:"mirror"`
}

type HTTPConfig struct {
	Listen         string `yaml:"listen"`
	WSQueue        int    `yaml:"ws_queue"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	AllowOrigin    string `yaml:"allow_origin"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // tcp://host:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
	TimeoutMs   int    `yaml:"timeout_ms"`

	// Commands subscribes to <topic_prefix>/command and forwards set commands.
	Commands bool `yaml:"commands"`
}

// ---- REGISTER MIRROR ----

type MirrorConfig struct {
	Targets []MirrorTarget `yaml:"targets"`
}

type MirrorTarget struct {
	ID        uint32 `yaml:"id"`
	Protocol  string `yaml:"protocol"` // modbus | ingest
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"` // data memory
	TimeoutMs int    `yaml:"timeout_ms"`

	// BaseAddress is where command id 0 would live; id N starts at
	// BaseAddress + 2*N.
	BaseAddress uint16 `yaml:"base_address"`

	// Link status block (optional, opt-in)
	StatusUnitID *uint8  `yaml:"status_unit_id"`
	StatusSlot   *uint16 `yaml:"status_slot"`
	DeviceName   string  `yaml:"device_name"`
}

// ---- LOG ----

type LogConfig struct {
	Level      string `yaml:"level"` // error | info | debug
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
