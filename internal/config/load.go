// internal/config/load.go
package config

import (
	"bytes"
	"net"
	"os"
	"strconv"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTSSHost  = "127.0.0.1"
	DefaultTSSPort  = 14141
	DefaultHTTPPort = 3000
)

// Load reads a YAML file and applies environment overrides
// (TSS_IP, TSS_PORT, PORT). It does not validate.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "config: read")
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML strictly: unknown keys are an error.
func Parse(raw []byte) (*Config, error) {
	cfg := new(Config)
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Annotate(err, "config: parse")
	}
	return cfg, nil
}

// ApplyEnv overrides file values from the environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	host, port := DefaultTSSHost, strconv.Itoa(DefaultTSSPort)
	if cfg.TSS.Endpoint != "" {
		h, p, err := net.SplitHostPort(cfg.TSS.Endpoint)
		if err != nil {
			return errors.NotValidf("config: tss.endpoint %q", cfg.TSS.Endpoint)
		}
		host, port = h, p
	}

	ip, okIP := lookup("TSS_IP")
	if okIP && ip != "" {
		host = ip
	}
	p, okPort := lookup("TSS_PORT")
	if okPort && p != "" {
		if _, err := strconv.ParseUint(p, 10, 16); err != nil {
			return errors.NotValidf("config: TSS_PORT %q", p)
		}
		port = p
	}
	if cfg.TSS.Endpoint != "" || okIP || okPort {
		cfg.TSS.Endpoint = net.JoinHostPort(host, port)
	}

	if p, ok := lookup("PORT"); ok && p != "" {
		if _, err := strconv.ParseUint(p, 10, 16); err != nil {
			return errors.NotValidf("config: PORT %q", p)
		}
		cfg.Publish.HTTP.Listen = ":" + p
	}
	return nil
}
