package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UIConfig holds the initial editor chrome a host asks for.
type UIConfig struct {
	PropertyPanel bool `yaml:"property_panel"`
	Menubar       bool `yaml:"menubar"`
}

// HostConfig holds configuration for the reference host.
type HostConfig struct {
	Port           int           `yaml:"port"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	LogLevel       string        `yaml:"log_level"`
	ConfigFile     string        `yaml:"-"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	WSPath         string        `yaml:"ws_path"`
	HostID         string        `yaml:"host_id"`
	StorageMode    string        `yaml:"storage_mode"`
	StorageDir     string        `yaml:"storage_dir"`
	Document       string        `yaml:"document"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisChannel   string        `yaml:"redis_channel"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	UI             UIConfig      `yaml:"ui"`
}

// SetDefaults initializes c with built-in defaults.
func (c *HostConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.WSPath == "" {
		c.WSPath = "/sidecar"
	}
	if c.HostID == "" {
		c.HostID = "sidecar-host"
	}
	if c.StorageMode == "" {
		c.StorageMode = "fs"
	}
	if c.StorageDir == "" {
		c.StorageDir = "documents"
	}
	if c.Document == "" {
		c.Document = "diagram.bpmn"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("host.yaml")
	}
	c.UI = UIConfig{PropertyPanel: true, Menubar: true}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *HostConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("WS_PATH", ""); v != "" {
		c.WSPath = v
	}
	if v := GetEnv("HOST_ID", ""); v != "" {
		c.HostID = v
	}
	if v := GetEnv("STORAGE_MODE", ""); v != "" {
		c.StorageMode = v
	}
	if v := GetEnv("STORAGE_DIR", ""); v != "" {
		c.StorageDir = v
	}
	if v := GetEnv("DOCUMENT", ""); v != "" {
		c.Document = v
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := GetEnv("REDIS_CHANNEL", ""); v != "" {
		c.RedisChannel = v
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v, ok := parseBool(GetEnv("UI_PROPERTY_PANEL", "")); ok {
		c.UI.PropertyPanel = v
	}
	if v, ok := parseBool(GetEnv("UI_MENUBAR", "")); ok {
		c.UI.Menubar = v
	}
}

// BindFlagsFromCurrent binds command line flags on fs using the current
// config values as defaults. A nil fs binds to flag.CommandLine.
func (c *HostConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	if fs == nil {
		fs = flag.CommandLine
	}
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "host config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	fs.Func("allowed-origins", "comma separated list of allowed CORS and WebSocket origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.StringVar(&c.WSPath, "ws-path", c.WSPath, "path editors use to open the sidecar WebSocket")
	fs.StringVar(&c.HostID, "host-id", c.HostID, "host identifier advertised in capabilities")
	fs.StringVar(&c.StorageMode, "storage", c.StorageMode, "document storage mode (fs, redis)")
	fs.StringVar(&c.StorageDir, "storage-dir", c.StorageDir, "directory for fs storage")
	fs.StringVar(&c.Document, "document", c.Document, "document served by doc.load and written by doc.save")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for redis storage and the redis transport")
	fs.StringVar(&c.RedisChannel, "redis-channel", c.RedisChannel, "redis pub/sub channel to serve editors on; empty disables")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "timeout for requests the host sends to the editor")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for document writes in progress on shutdown (-1 to wait indefinitely, 0 to exit immediately)")
	fs.BoolVar(&c.UI.PropertyPanel, "property-panel", c.UI.PropertyPanel, "advertise and show the property panel")
	fs.BoolVar(&c.UI.Menubar, "menubar", c.UI.Menubar, "advertise and show the menubar")
}

// MetricsListenAddr returns where metrics are served, falling back to the
// main port when no metrics address was configured.
func (c *HostConfig) MetricsListenAddr() string {
	if c.MetricsAddr != "" {
		return c.MetricsAddr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// LoadFile populates the config from a YAML file.
func (c *HostConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// StorageModes lists the storage modes this configuration can serve.
func (c *HostConfig) StorageModes() []string {
	modes := []string{"fs"}
	if c.RedisAddr != "" {
		modes = append(modes, "redis")
	}
	return modes
}
