package config

import (
	"flag"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ComponentConfig holds configuration for an editor-side client.
type ComponentConfig struct {
	URL              string        `yaml:"url"`
	Origin           string        `yaml:"origin"`
	LogLevel         string        `yaml:"log_level"`
	ConfigFile       string        `yaml:"-"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	// Attempts bounds how often the handshake is retried before running
	// standalone.
	Attempts int `yaml:"handshake_attempts"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ComponentConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = "ws://localhost:8080/sidecar"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 1200 * time.Millisecond
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.Attempts == 0 {
		c.Attempts = 5
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("component.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ComponentConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("SIDECAR_URL", ""); v != "" {
		c.URL = v
	}
	if v := GetEnv("SIDECAR_ORIGIN", ""); v != "" {
		c.Origin = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("HANDSHAKE_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HandshakeTimeout = d
		}
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = d
		}
	}
}

// BindFlagsFromCurrent binds command line flags on fs using the current
// config values as defaults. A nil fs binds to flag.CommandLine.
func (c *ComponentConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	if fs == nil {
		fs = flag.CommandLine
	}
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "component config file path")
	fs.StringVar(&c.URL, "url", c.URL, "host WebSocket URL")
	fs.StringVar(&c.Origin, "origin", c.Origin, "Origin header sent when dialing")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.DurationVar(&c.HandshakeTimeout, "handshake-timeout", c.HandshakeTimeout, "how long to wait for the host's handshake acknowledgement")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "timeout for requests sent to the host")
	fs.IntVar(&c.Attempts, "handshake-attempts", c.Attempts, "handshake attempts before running standalone")
}

// LoadFile populates the config from a YAML file.
func (c *ComponentConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
