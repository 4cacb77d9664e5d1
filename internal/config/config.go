// Package config loads and validates the proxy configuration from a YAML
// file: strict decoding (unknown fields rejected) followed by validation
// and default-filling.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the proxy.
type Config struct {
	Proxy    ProxyConfig    `yaml:"proxy"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProxyConfig holds network-level settings for the proxy listener and its
// single upstream backend.
type ProxyConfig struct {
	// Listen is the address:port the proxy binds to. Example: "0.0.0.0:9339"
	Listen string `yaml:"listen"`

	// Upstream is "host:port" of the real game server this proxy sits in
	// front of.
	Upstream string `yaml:"upstream"`

	// ShutdownTimeout bounds how long Shutdown waits for in-flight
	// connections to drain before giving up.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProtocolConfig controls the dispatcher's protocol-version detection.
type ProtocolConfig struct {
	// CheckVersionOpcode is the wire opcode C_CHECK_VERSION carries under
	// the earliest known schema revision.
	CheckVersionOpcode int `yaml:"check_version_opcode"`

	// EarliestKnownVersion is the schema revision C_CHECK_VERSION is
	// parsed under before the live protocol version is known.
	EarliestKnownVersion int `yaml:"earliest_known_version"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level: debug | info | warn | error
	Level string `yaml:"level"`
	// Format: console | json
	Format     string `yaml:"format"`
	OutputFile string `yaml:"output_file"`
}

// Load reads, decodes, and validates the YAML config at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Proxy.Listen == "" {
		return fmt.Errorf("proxy.listen must not be empty")
	}
	if c.Proxy.Upstream == "" {
		return fmt.Errorf("proxy.upstream must not be empty")
	}
	if c.Protocol.CheckVersionOpcode < 0 {
		return fmt.Errorf("protocol.check_version_opcode must not be negative")
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.Proxy.ShutdownTimeout == 0 {
		c.Proxy.ShutdownTimeout = 10 * time.Second
	}
	if c.Protocol.CheckVersionOpcode == 0 {
		c.Protocol.CheckVersionOpcode = 19900
	}
	if c.Protocol.EarliestKnownVersion == 0 {
		c.Protocol.EarliestKnownVersion = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}
