package shaperman

// Scope legality tables for the mutating operations. The checks here
// are pure; existence requirements (a detached node must already be
// cached) belong to the orchestrator, which owns cache access.

type scopeSet uint32

func scopesOf(scopes ...Scope) scopeSet {
	var m scopeSet
	for _, s := range scopes {
		m |= 1 << s
	}
	return m
}

func (m scopeSet) contains(s Scope) bool {
	return s < 32 && m&(1<<s) != 0
}

var (
	settableScopes    = scopesOf(ScopeNetdev, ScopeQueue, ScopeDetached, ScopeVF)
	groupOutputScopes = scopesOf(ScopeNetdev, ScopeDetached)
	groupParentScopes = scopesOf(ScopeNetdev, ScopeDetached)
	groupInputScopes  = scopesOf(ScopeQueue, ScopeDetached)
)

// CheckHandle rejects handles no operation could accept: the reserved
// allocate-me id is only meaningful on Detached handles.
func CheckHandle(h Handle) error {
	if h.IsUnspecID() && h.Scope() != ScopeDetached {
		return InvalidRequestf("shaper %s: unspecified id is only valid for detached scope", h)
	}
	return nil
}

// CheckSettable returns nil when Set may target the handle's scope.
func CheckSettable(h Handle) error {
	if !settableScopes.contains(h.Scope()) {
		return InvalidRequestf("shaper %s: scope %s is not directly settable", h, h.Scope())
	}
	return nil
}

// CheckGroupOutput returns nil when the handle may be a Group output.
func CheckGroupOutput(h Handle) error {
	if !groupOutputScopes.contains(h.Scope()) {
		return InvalidRequestf("group output %s: scope %s is not groupable", h, h.Scope())
	}
	return nil
}

// CheckGroupParent returns nil when the handle may parent a Group
// output.
func CheckGroupParent(h Handle) error {
	if !groupParentScopes.contains(h.Scope()) {
		return InvalidRequestf("group output parent %s: scope %s can't nest shapers", h, h.Scope())
	}
	return nil
}

// CheckGroupInput returns nil when the handle may be a Group input.
func CheckGroupInput(h Handle) error {
	if !groupInputScopes.contains(h.Scope()) {
		return InvalidRequestf("group input %s: scope %s is not groupable", h, h.Scope())
	}
	return nil
}
