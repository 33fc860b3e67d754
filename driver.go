package shaperman

import (
	"context"
	"fmt"
	"strings"
)

// Driver programs shaper state into devices. The manager is the only
// caller. Every mutating call must be atomic: a non-nil error
// guarantees no durable device change, which is what makes cache
// rollback sound. Implementations report Unsupported (via
// Unsupportedf or an Error with CodeUnsupported) whenever the device
// cannot perform the operation for any reason.
type Driver interface {
	// Set creates or updates a single shaper node. The value arrives
	// fully merged against prior state.
	Set(ctx context.Context, ifindex int, shaper Shaper) error

	// Delete removes a single shaper node.
	Delete(ctx context.Context, ifindex int, handle Handle) error

	// Group nests inputs under output as one atomic change. Values
	// arrive fully merged and output carries its final handle.
	Group(ctx context.Context, ifindex int, inputs []Shaper, output Shaper) error

	// Capabilities reports the features the device supports for one
	// scope. An error means the scope itself is unsupported.
	Capabilities(ctx context.Context, ifindex int, scope Scope) (FeatureSet, error)
}

// FeatureSet is a bit set of the optional shaping features a device
// supports for a given scope.
type FeatureSet uint32

const (
	FeatureMetricBPS FeatureSet = 1 << iota
	FeatureMetricPPS
	FeatureNesting
	FeatureBwMin
	FeatureBwMax
	FeatureBurst
	FeaturePriority
	FeatureWeight
)

var featureNames = []struct {
	bit  FeatureSet
	name string
}{
	{FeatureMetricBPS, "bps"},
	{FeatureMetricPPS, "pps"},
	{FeatureNesting, "nesting"},
	{FeatureBwMin, "bw-min"},
	{FeatureBwMax, "bw-max"},
	{FeatureBurst, "burst"},
	{FeaturePriority, "priority"},
	{FeatureWeight, "weight"},
}

// Has reports whether every bit of want is present.
func (f FeatureSet) Has(want FeatureSet) bool { return f&want == want }

// SupportsMetric reports whether the metric's feature bit is present.
func (f FeatureSet) SupportsMetric(m Metric) bool {
	switch m {
	case MetricBPS:
		return f.Has(FeatureMetricBPS)
	case MetricPPS:
		return f.Has(FeatureMetricPPS)
	default:
		return false
	}
}

// String returns the feature names in the set, pipe-separated.
func (f FeatureSet) String() string {
	var parts []string
	for _, fn := range featureNames {
		if f&fn.bit != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseFeatureSet parses the pipe-separated form produced by String.
func ParseFeatureSet(s string) (FeatureSet, error) {
	if s == "" || s == "none" {
		return 0, nil
	}
	var out FeatureSet
next:
	for _, part := range strings.Split(s, "|") {
		for _, fn := range featureNames {
			if part == fn.name {
				out |= fn.bit
				continue next
			}
		}
		return 0, fmt.Errorf("invalid feature: %q", part)
	}
	return out, nil
}

// MarshalText implements encoding.TextMarshaler so feature sets
// serialise as their string form in JSON.
func (f FeatureSet) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FeatureSet) UnmarshalText(text []byte) error {
	parsed, err := ParseFeatureSet(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ScopeCapabilities is one entry of a capability dump: the features a
// device supports for one scope.
type ScopeCapabilities struct {
	Scope    Scope      `json:"scope"`
	Features FeatureSet `json:"features"`
}
