package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RuntimeDirs holds the runtime paths shaperd derives from one base
// directory:
//
//	{base}/              - runtime root
//	{base}/shaperd.sock  - control socket
//	{base}/.lock         - daemon writer lock
//
// RuntimeDirs is immutable after construction. Use NewRuntimeDirs to
// create one.
type RuntimeDirs struct {
	base string
	sock string
	lock string
}

// DefaultRuntimeDirs returns RuntimeDirs with production defaults.
func DefaultRuntimeDirs() RuntimeDirs {
	return NewRuntimeDirs("/run/shaperd")
}

// NewRuntimeDirs creates RuntimeDirs rooted at the given base path.
func NewRuntimeDirs(base string) RuntimeDirs {
	return RuntimeDirs{
		base: base,
		sock: filepath.Join(base, "shaperd.sock"),
		lock: filepath.Join(base, ".lock"),
	}
}

// Base returns the runtime root path (e.g., /run/shaperd).
func (d RuntimeDirs) Base() string { return d.base }

// SocketPath returns the control socket path.
func (d RuntimeDirs) SocketPath() string { return d.sock }

// LockPath returns the daemon writer lock file path.
func (d RuntimeDirs) LockPath() string { return d.lock }

// EnsureDirectories creates the runtime root. Call this at startup to
// fail fast on permission problems.
func (d RuntimeDirs) EnsureDirectories() error {
	if d.base == "" {
		return fmt.Errorf("runtime base directory not set")
	}
	if err := os.MkdirAll(d.base, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.base, err)
	}
	return nil
}
