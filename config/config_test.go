package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-shaperman/config"
)

// TestDefaultConfig verifies the embedded defaults.
//
// Given no config file at all,
// When the default configuration is materialised,
// Then the runtime paths and logging settings carry usable values and
// no devices are declared.
func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "/run/shaperd", cfg.Runtime.Dir)
	assert.Equal(t, "/sys/fs/bpf/shaperd", cfg.Runtime.BpffsDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Devices)
	require.NoError(t, cfg.Validate())
}

// TestLoad_MissingFileUsesDefaults verifies config file optionality.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

// TestLoad_OverlaysFileOntoDefaults verifies overlay semantics.
//
// Given a config file that sets only some fields,
// When it is loaded,
// Then the file's values land and everything else keeps its default.
func TestLoad_OverlaysFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shaperd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[logging]
level = "info,driver=debug"

[runtime]
allowed_uids = [1000]

[[device]]
name = "eth0"
backend = "htb"

[[device]]
ifindex = 7
backend = "sim"
tx_queues = 8
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info,driver=debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format, "unset field keeps its default")
	assert.Equal(t, "/run/shaperd", cfg.Runtime.Dir, "unset field keeps its default")
	assert.Equal(t, []uint32{1000}, cfg.Runtime.AllowedUIDs)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "eth0", cfg.Devices[0].Name)
	assert.Equal(t, "htb", cfg.Devices[0].Backend)
	assert.Equal(t, 7, cfg.Devices[1].Ifindex)
	assert.Equal(t, 8, cfg.Devices[1].TxQueues)

	require.NoError(t, cfg.Validate())
}

// TestLoad_InvalidFileFails verifies fail-fast on bad syntax.
func TestLoad_InvalidFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shaperd.toml")
	require.NoError(t, os.WriteFile(path, []byte("[runtime\ndir = ???"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

// TestValidate_RejectsAnonymousDevice verifies device validation.
func TestValidate_RejectsAnonymousDevice(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Devices = []config.DeviceConfig{{Backend: "sim"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name or ifindex")
}

// TestValidate_RejectsMissingBackend verifies device validation.
func TestValidate_RejectsMissingBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Devices = []config.DeviceConfig{{Name: "eth0"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend is required")
}

// TestValidate_RejectsDuplicateDevice verifies device validation.
func TestValidate_RejectsDuplicateDevice(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Devices = []config.DeviceConfig{
		{Name: "eth0", Backend: "sim"},
		{Name: "eth0", Backend: "htb"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared twice")
}

// TestRuntimeConfig_SocketPath verifies the socket override.
func TestRuntimeConfig_SocketPath(t *testing.T) {
	rc := config.RuntimeConfig{Dir: "/run/shaperd"}
	assert.Equal(t, "/run/shaperd/shaperd.sock", rc.SocketPath())

	rc.Socket = "/tmp/custom.sock"
	assert.Equal(t, "/tmp/custom.sock", rc.SocketPath())
}

// TestLoggingConfig_ToSpec verifies spec derivation.
func TestLoggingConfig_ToSpec(t *testing.T) {
	lc := config.LoggingConfig{Level: "warn,cache=trace"}
	assert.Equal(t, "warn,cache=trace", lc.ToSpec())

	lc = config.LoggingConfig{Components: map[string]string{"driver": "debug"}}
	assert.Equal(t, "info,driver=debug", lc.ToSpec())

	lc = config.LoggingConfig{}
	assert.Equal(t, "", lc.ToSpec())
}
