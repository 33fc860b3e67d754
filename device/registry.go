package device

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/frobware/go-shaperman"
)

// Registry is the thread-safe table of registered devices, keyed by
// ifindex.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	devices map[int]*Device
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "device"),
		devices: make(map[int]*Device),
	}
}

// Add registers a device. Registering an ifindex twice is a
// configuration error.
func (r *Registry) Add(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[d.Ifindex()]; ok {
		return fmt.Errorf("device %d already registered", d.Ifindex())
	}
	r.devices[d.Ifindex()] = d
	r.logger.Info("registered device",
		"ifindex", d.Ifindex(), "name", d.Name(), "backend", d.Backend())
	return nil
}

// Get resolves an ifindex to its device.
func (r *Registry) Get(ifindex int) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[ifindex]
	if !ok {
		return nil, shaperman.InvalidRequestf("device %d not found", ifindex)
	}
	return d, nil
}

// Remove unregisters a device, flushing its shaper state first.
func (r *Registry) Remove(ifindex int) error {
	r.mu.Lock()
	d, ok := r.devices[ifindex]
	if ok {
		delete(r.devices, ifindex)
	}
	r.mu.Unlock()
	if !ok {
		return shaperman.InvalidRequestf("device %d not found", ifindex)
	}
	d.Flush()
	r.logger.Info("removed device", "ifindex", ifindex, "name", d.Name())
	return nil
}

// List returns the registered devices in ascending ifindex order.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Device) int {
		return cmp.Compare(a.Ifindex(), b.Ifindex())
	})
	return out
}

// Close flushes and unregisters every device.
func (r *Registry) Close() {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[int]*Device)
	r.mu.Unlock()
	for _, d := range devices {
		d.Flush()
	}
}
