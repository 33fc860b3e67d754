// Package config handles shaperd daemon configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded via go:embed from default.toml)
//  2. Overlay with config file values (if file exists)
//  3. CLI flags and environment variables override at runtime (handled by CLI layer)
//
// This ensures a valid configuration is always available, even when no
// config file exists. The TOML decoder only sets fields present in the
// file, leaving unspecified fields at their default values.
//
// If the config file exists but is invalid, Load returns an error
// rather than silently falling back to defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is the default path to the shaperd config file.
const DefaultConfigPath = "/etc/shaperd/shaperd.toml"

// Config is the top-level shaperd configuration.
type Config struct {
	Runtime RuntimeConfig  `toml:"runtime"`
	Logging LoggingConfig  `toml:"logging"`
	Devices []DeviceConfig `toml:"device"`
}

// RuntimeConfig controls where the daemon keeps its runtime state.
type RuntimeConfig struct {
	// Dir is the runtime root; the control socket and the daemon lock
	// live under it.
	Dir string `toml:"dir"`
	// Socket overrides the control socket path. Empty means
	// {dir}/shaperd.sock.
	Socket string `toml:"socket"`
	// AllowedUIDs lists non-root users permitted to connect. Root is
	// always permitted.
	AllowedUIDs []uint32 `toml:"allowed_uids"`
	// BpffsDir is where the edt backend pins its rate limiter maps.
	BpffsDir string `toml:"bpffs_dir"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g., "info" or "info,driver=debug").
	Level string `toml:"level"`
	// Format is the output format: "text" or "json".
	Format string `toml:"format"`
	// Components provides an alternative way to specify per-component levels.
	Components map[string]string `toml:"components"`
}

// ToSpec converts the LoggingConfig to a log spec string.
// If Level is set, it takes precedence. Otherwise, Components are used.
func (c *LoggingConfig) ToSpec() string {
	if c.Level != "" {
		return c.Level
	}

	if len(c.Components) == 0 {
		return ""
	}

	parts := make([]string, 0, len(c.Components)+1)
	parts = append(parts, "info")

	for component, level := range c.Components {
		parts = append(parts, component+"="+level)
	}

	return strings.Join(parts, ",")
}

// DeviceConfig declares one device to shape. Either the name or the
// ifindex identifies the interface; when both are given the name is
// resolved and checked against the ifindex at startup.
type DeviceConfig struct {
	// Name is the interface name (e.g., "eth0").
	Name string `toml:"name"`
	// Ifindex is the interface index. Zero means resolve from Name.
	Ifindex int `toml:"ifindex"`
	// Backend selects the driver: "sim", "htb" or "edt".
	Backend string `toml:"backend"`
	// TxQueues bounds queue-scope handles. Zero means discover from
	// sysfs.
	TxQueues int `toml:"tx_queues"`
}

// DefaultConfig returns the default configuration from the embedded default.toml.
// This provides a valid baseline that is always available.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// This should never happen since default.toml is embedded at
		// build time. If it does, return a minimal safe config.
		return Config{
			Runtime: RuntimeConfig{Dir: "/run/shaperd", BpffsDir: "/sys/fs/bpf/shaperd"},
			Logging: LoggingConfig{Level: "info", Format: "text"},
		}
	}
	return cfg
}

// Load reads configuration from a file path with overlay semantics.
//
// Behaviour:
//   - File missing: returns default configuration (no error)
//   - File exists and valid: overlays file values onto defaults
//   - File exists but invalid: returns error (fail fast)
//
// The TOML decoder only sets fields present in the file, so unspecified
// fields retain their default values from default.toml.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional - use defaults
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Runtime.Dir == "" {
		return fmt.Errorf("runtime dir cannot be empty")
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, dev := range c.Devices {
		if dev.Name == "" && dev.Ifindex == 0 {
			return fmt.Errorf("device %d: a name or ifindex is required", i)
		}
		if dev.Backend == "" {
			return fmt.Errorf("device %s: backend is required", dev.Label())
		}
		if dev.Name != "" {
			if seen[dev.Name] {
				return fmt.Errorf("device %s: declared twice", dev.Name)
			}
			seen[dev.Name] = true
		}
	}
	return nil
}

// SocketPath returns the effective control socket path.
func (c *RuntimeConfig) SocketPath() string {
	if c.Socket != "" {
		return c.Socket
	}
	return NewRuntimeDirs(c.Dir).SocketPath()
}

// Label identifies the device in error messages: the name when given,
// otherwise the ifindex.
func (d *DeviceConfig) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("ifindex %d", d.Ifindex)
}
