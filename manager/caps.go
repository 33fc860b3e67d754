package manager

import (
	"context"

	"github.com/frobware/go-shaperman"
)

// Capabilities reports the feature set a device's driver supports for
// a single scope. The answer comes straight from the driver; nothing
// is cached, and driver failures are surfaced verbatim.
func (m *Manager) Capabilities(ctx context.Context, ifindex int, scope shaperman.Scope) (shaperman.FeatureSet, error) {
	_, drv, err := m.bind(ifindex)
	if err != nil {
		return 0, err
	}
	if scope == shaperman.ScopeUnspec || scope > shaperman.ScopeMaxUser {
		return 0, shaperman.InvalidRequestf("invalid capability scope %s", scope)
	}
	return drv.Capabilities(ctx, ifindex, scope)
}

// CapabilitiesDump reports the feature set for every scope the
// device's driver answers for. Scopes the driver fails are skipped,
// so an empty result means the device shapes nothing.
func (m *Manager) CapabilitiesDump(ctx context.Context, ifindex int) ([]shaperman.ScopeCapabilities, error) {
	_, drv, err := m.bind(ifindex)
	if err != nil {
		return nil, err
	}
	var out []shaperman.ScopeCapabilities
	for scope := shaperman.ScopePort; scope <= shaperman.ScopeMaxUser; scope++ {
		features, err := drv.Capabilities(ctx, ifindex, scope)
		if err != nil {
			continue
		}
		out = append(out, shaperman.ScopeCapabilities{Scope: scope, Features: features})
	}
	return out, nil
}
