package shaperman

import (
	"fmt"
	"strconv"
	"strings"
)

// Handle names one shaper node uniquely within a device. It packs the
// node's scope into the top 6 bits and a 26-bit numeric id into the
// low bits, which is the representation drivers consume.
type Handle uint32

const (
	handleIDBits = 26
	handleIDMask = 1<<handleIDBits - 1
)

// IDUnspec is the reserved id meaning "allocate a fresh id". It is
// only legal on Detached handles and never names a committed node.
const IDUnspec uint32 = handleIDMask

// MakeHandle packs scope and id into a Handle. It performs no
// validation; ids wider than the id field are truncated.
func MakeHandle(scope Scope, id uint32) Handle {
	return Handle(uint32(scope)<<handleIDBits | id&handleIDMask)
}

// Scope extracts the scope field.
func (h Handle) Scope() Scope { return Scope(uint32(h) >> handleIDBits) }

// ID extracts the id field.
func (h Handle) ID() uint32 { return uint32(h) & handleIDMask }

// IsUnspecID reports whether the id field carries the reserved
// allocate-me value.
func (h Handle) IsUnspecID() bool { return h.ID() == IDUnspec }

// IsZero reports whether h is the unset handle (Unspec scope, id 0).
func (h Handle) IsZero() bool { return h == 0 }

// DefaultParent returns the handle a node of this scope is implicitly
// parented under when no explicit parent is known.
func (h Handle) DefaultParent() Handle {
	return MakeHandle(h.Scope().DefaultParent(), 0)
}

// String renders the handle as "scope:id", with the reserved id shown
// as "unspec".
func (h Handle) String() string {
	if h.IsUnspecID() {
		return h.Scope().String() + ":unspec"
	}
	return h.Scope().String() + ":" + strconv.FormatUint(uint64(h.ID()), 10)
}

// ParseHandle parses the "scope:id" form produced by String.
func ParseHandle(s string) (Handle, error) {
	scopeStr, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid handle %q: want scope:id", s)
	}
	scope, ok := ParseScope(scopeStr)
	if !ok {
		return 0, fmt.Errorf("invalid handle %q: unknown scope %q", s, scopeStr)
	}
	if idStr == "unspec" {
		return MakeHandle(scope, IDUnspec), nil
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id > uint64(IDUnspec) {
		return 0, fmt.Errorf("invalid handle %q: id out of range", s)
	}
	return MakeHandle(scope, uint32(id)), nil
}

// MarshalText implements encoding.TextMarshaler so handles serialise
// as their string form in JSON.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
