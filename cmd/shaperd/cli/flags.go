package cli

import "github.com/frobware/go-shaperman"

// OutputFormat represents the output format type.
type OutputFormat string

const (
	OutputFormatTable    OutputFormat = "table"
	OutputFormatTree     OutputFormat = "tree"
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatJSONPath OutputFormat = "jsonpath"
)

// OutputFlags provides output formatting flags.
type OutputFlags struct {
	Output string `short:"o" help:"Output format: table, tree, json, jsonpath=EXPR." default:"table"`
}

// Format returns the base format type.
func (f *OutputFlags) Format() OutputFormat {
	switch {
	case f.Output == "table":
		return OutputFormatTable
	case f.Output == "tree":
		return OutputFormatTree
	case f.Output == "json":
		return OutputFormatJSON
	case len(f.Output) > 9 && f.Output[:9] == "jsonpath=":
		return OutputFormatJSONPath
	default:
		return OutputFormatTable
	}
}

// JSONPathExpr returns the JSONPath expression if format is jsonpath=EXPR.
func (f *OutputFlags) JSONPathExpr() string {
	if len(f.Output) > 9 && f.Output[:9] == "jsonpath=" {
		return f.Output[9:]
	}
	return ""
}

// AttrFlags collects the shaper attribute flags the set and group
// commands share. Only flags the user actually passed make it into
// the request, so an absent flag leaves the cached value alone.
type AttrFlags struct {
	Metric   *shaperman.Metric `help:"Rate metric: bps or pps."`
	BwMin    *uint64           `name:"bw-min" help:"Guaranteed bandwidth, in the metric's unit per second."`
	BwMax    *uint64           `name:"bw-max" help:"Bandwidth ceiling, in the metric's unit per second."`
	Burst    *uint64           `help:"Burst allowance above the ceiling."`
	Priority *uint32           `help:"Strict scheduling priority among siblings."`
	Weight   *uint32           `help:"Round-robin weight among siblings of equal priority."`
}

// Attrs converts the passed flags into a request attribute set.
func (f *AttrFlags) Attrs() shaperman.Attrs {
	var a shaperman.Attrs
	if f.Metric != nil {
		a.Present |= shaperman.AttrMetric
		a.Metric = *f.Metric
	}
	if f.BwMin != nil {
		a.Present |= shaperman.AttrBwMin
		a.BwMin = *f.BwMin
	}
	if f.BwMax != nil {
		a.Present |= shaperman.AttrBwMax
		a.BwMax = *f.BwMax
	}
	if f.Burst != nil {
		a.Present |= shaperman.AttrBurst
		a.Burst = *f.Burst
	}
	if f.Priority != nil {
		a.Present |= shaperman.AttrPriority
		a.Priority = *f.Priority
	}
	if f.Weight != nil {
		a.Present |= shaperman.AttrWeight
		a.Weight = *f.Weight
	}
	return a
}
