// Package device models the lifecycle of shaped network devices: one
// Device per interface owning the per-device cache and the lock that
// serialises its mutation sequences, collected in a Registry the
// daemon populates at startup. The manager receives the Registry by
// injection and never reaches for devices through globals.
package device

import (
	"log/slog"
	"sync"

	"github.com/frobware/go-shaperman"
	"github.com/frobware/go-shaperman/cache"
)

// Config describes one device to register.
type Config struct {
	Ifindex  int
	Name     string
	Backend  string
	TxQueues int
	Driver   shaperman.Driver
}

// Device is one shaped network device. The zero value is not usable;
// construct with New.
type Device struct {
	ifindex  int
	name     string
	backend  string
	txQueues int
	driver   shaperman.Driver
	logger   *slog.Logger

	mu    sync.Mutex
	cache *cache.Cache
}

// New creates a device from cfg. A nil Driver is allowed and marks a
// device that cannot be shaped; mutating operations on it fail with
// Unsupported.
func New(cfg Config, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		ifindex:  cfg.Ifindex,
		name:     cfg.Name,
		backend:  cfg.Backend,
		txQueues: cfg.TxQueues,
		driver:   cfg.Driver,
		logger:   logger.With("component", "device", "ifindex", cfg.Ifindex),
	}
}

// Ifindex returns the interface index identifying the device.
func (d *Device) Ifindex() int { return d.ifindex }

// Name returns the interface name, if known.
func (d *Device) Name() string { return d.name }

// Backend returns the display name of the bound driver backend.
func (d *Device) Backend() string { return d.backend }

// TxQueues returns the transmit queue count, or zero when unknown.
// Queue-scope handles are validated against it when set.
func (d *Device) TxQueues() int { return d.txQueues }

// Driver returns the bound driver backend, or nil.
func (d *Device) Driver() shaperman.Driver { return d.driver }

// Lock acquires the per-device lock serialising cache mutation
// sequences: staging plus validation, and the final commit or
// rollback. It must never be held across a driver call.
func (d *Device) Lock() { d.mu.Lock() }

// Unlock releases the per-device lock.
func (d *Device) Unlock() { d.mu.Unlock() }

// EnsureCache returns the device's cache, creating it on first use.
// The caller must hold the device lock. The returned pointer is
// stable for the life of the device, so it may be used after the lock
// is dropped.
func (d *Device) EnsureCache() *cache.Cache {
	if d.cache == nil {
		d.cache = cache.New(d.logger)
	}
	return d.cache
}

// Cache returns the device's cache, or nil when nothing was ever
// staged on the device. It takes the device lock itself; read paths
// call it without further locking.
func (d *Device) Cache() *cache.Cache {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache
}

// Flush tears down the device's shaper state. In-flight transactions
// observe the closed cache and fail fast.
func (d *Device) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache != nil {
		d.cache.FlushAll()
		d.logger.Info("flushed shaper cache")
	}
}
