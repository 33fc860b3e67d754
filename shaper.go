package shaperman

import "strings"

// Shaper is one shaping point in a device's tree. The cache owns the
// stored instances; callers see copies.
type Shaper struct {
	// Handle is the node's identity, immutable once created.
	Handle Handle `json:"handle"`
	// Parent is the node this one nests under. The zero handle means
	// the scope's implicit default parent.
	Parent Handle `json:"parent,omitempty"`
	// Metric selects the unit BwMin, BwMax and Burst are measured in.
	Metric Metric `json:"metric"`
	// BwMin is the minimum guaranteed rate; zero means unset.
	BwMin uint64 `json:"bw_min,omitempty"`
	// BwMax is the maximum allowed rate; zero means unset.
	BwMax uint64 `json:"bw_max,omitempty"`
	// Burst is the allowed burst size above BwMax; zero means unset.
	Burst uint64 `json:"burst,omitempty"`
	// Priority is the scheduling priority among siblings.
	Priority uint32 `json:"priority,omitempty"`
	// Weight is the relative weight among siblings of equal priority.
	Weight uint32 `json:"weight,omitempty"`

	// Children counts committed nodes parented to this node. The
	// cache maintains it and only Detached nodes use it: a Detached
	// node is deletable only once it drops to zero. Requests never
	// set it.
	Children uint32 `json:"children,omitempty"`
}

// AttrMask records which fields of Attrs a request actually carried,
// so zero values and absent values stay distinguishable.
type AttrMask uint16

const (
	AttrParent AttrMask = 1 << iota
	AttrMetric
	AttrBwMin
	AttrBwMax
	AttrBurst
	AttrPriority
	AttrWeight
)

var attrNames = []struct {
	bit  AttrMask
	name string
}{
	{AttrParent, "parent"},
	{AttrMetric, "metric"},
	{AttrBwMin, "bw-min"},
	{AttrBwMax, "bw-max"},
	{AttrBurst, "burst"},
	{AttrPriority, "priority"},
	{AttrWeight, "weight"},
}

// String returns the attribute names in the mask, pipe-separated.
func (m AttrMask) String() string {
	var parts []string
	for _, a := range attrNames {
		if m&a.bit != 0 {
			parts = append(parts, a.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Attrs is the decoded, incremental attribute set of one request: a
// patch against the cached node, never a full replace.
type Attrs struct {
	Present  AttrMask
	Parent   Handle
	Metric   Metric
	BwMin    uint64
	BwMax    uint64
	Burst    uint64
	Priority uint32
	Weight   uint32
}

// Has reports whether the request carried the given field.
func (a Attrs) Has(field AttrMask) bool { return a.Present&field != 0 }

// ApplyTo overlays the present fields of a onto base and returns the
// result. Children carries over untouched; requests cannot set it.
func (a Attrs) ApplyTo(base Shaper) Shaper {
	out := base
	if a.Has(AttrParent) {
		out.Parent = a.Parent
	}
	if a.Has(AttrMetric) {
		out.Metric = a.Metric
	}
	if a.Has(AttrBwMin) {
		out.BwMin = a.BwMin
	}
	if a.Has(AttrBwMax) {
		out.BwMax = a.BwMax
	}
	if a.Has(AttrBurst) {
		out.Burst = a.Burst
	}
	if a.Has(AttrPriority) {
		out.Priority = a.Priority
	}
	if a.Has(AttrWeight) {
		out.Weight = a.Weight
	}
	return out
}

// CheckSupported returns nil when every present field of a is covered
// by the device's capabilities for the target scope.
func (a Attrs) CheckSupported(scope Scope, caps FeatureSet) error {
	if a.Has(AttrMetric) && !caps.SupportsMetric(a.Metric) {
		return Unsupportedf("metric %s not supported for scope %s", a.Metric, scope)
	}
	for _, f := range []struct {
		attr    AttrMask
		feature FeatureSet
	}{
		{AttrBwMin, FeatureBwMin},
		{AttrBwMax, FeatureBwMax},
		{AttrBurst, FeatureBurst},
		{AttrPriority, FeaturePriority},
		{AttrWeight, FeatureWeight},
	} {
		if a.Has(f.attr) && !caps.Has(f.feature) {
			return Unsupportedf("attribute %s not supported for scope %s", f.attr, scope)
		}
	}
	return nil
}

// NodeSpec pairs the handle a request targets with the attributes it
// carries.
type NodeSpec struct {
	Handle Handle `json:"handle"`
	Attrs  Attrs  `json:"attrs"`
}
