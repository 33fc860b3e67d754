package shaperman

import "fmt"

// Scope identifies the structural role of a shaper node within a
// device. The numeric values are wire-stable.
type Scope uint32

const (
	// ScopeUnspec means no scope; the zero handle carries it.
	ScopeUnspec Scope = 0
	// ScopePort is the device-wide root. Every other scope
	// eventually roots at it. Not directly settable.
	ScopePort Scope = 1
	// ScopeNetdev shapes the whole network device.
	ScopeNetdev Scope = 2
	// ScopeQueue shapes a single transmit queue; the handle id is
	// the queue index.
	ScopeQueue Scope = 3
	// ScopeDetached is an anonymous grouping node created on demand
	// by Group and garbage-collected via child refcounting.
	ScopeDetached Scope = 4
	// ScopeVF shapes a virtual function. Internal only: the wire
	// boundary rejects it, but in-process callers may use it.
	ScopeVF Scope = 5
)

// ScopeMaxUser is the highest scope accepted at the wire boundary.
const ScopeMaxUser = ScopeDetached

// DefaultParent returns the scope a node of scope s nests under when
// no explicit parent is known.
func (s Scope) DefaultParent() Scope {
	switch s {
	case ScopeNetdev, ScopeVF:
		return ScopePort
	case ScopeQueue, ScopeDetached:
		return ScopeNetdev
	default:
		return ScopeUnspec
	}
}

// String returns the string representation of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeUnspec:
		return "unspec"
	case ScopePort:
		return "port"
	case ScopeNetdev:
		return "netdev"
	case ScopeQueue:
		return "queue"
	case ScopeDetached:
		return "detached"
	case ScopeVF:
		return "vf"
	default:
		return fmt.Sprintf("scope(%d)", uint32(s))
	}
}

// ParseScope parses a string into a Scope.
// Returns the scope and true if valid, or ScopeUnspec and false if not.
func ParseScope(s string) (Scope, bool) {
	switch s {
	case "unspec":
		return ScopeUnspec, true
	case "port":
		return ScopePort, true
	case "netdev":
		return ScopeNetdev, true
	case "queue":
		return ScopeQueue, true
	case "detached":
		return ScopeDetached, true
	case "vf":
		return ScopeVF, true
	default:
		return ScopeUnspec, false
	}
}

// MarshalText implements encoding.TextMarshaler so Scope serialises
// as its string name in JSON.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(text []byte) error {
	parsed, ok := ParseScope(string(text))
	if !ok {
		return fmt.Errorf("invalid scope: %q", string(text))
	}
	*s = parsed
	return nil
}
