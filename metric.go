package shaperman

import "fmt"

// Metric selects the unit a shaper's bandwidth limits are expressed
// in. The numeric values are wire-stable.
type Metric uint32

const (
	// MetricBPS limits bytes per second.
	MetricBPS Metric = 0
	// MetricPPS limits packets per second.
	MetricPPS Metric = 1
)

// MetricMax is the highest metric accepted at the wire boundary.
const MetricMax = MetricPPS

// String returns the string representation of the metric.
func (m Metric) String() string {
	switch m {
	case MetricBPS:
		return "bps"
	case MetricPPS:
		return "pps"
	default:
		return fmt.Sprintf("metric(%d)", uint32(m))
	}
}

// ParseMetric parses a string into a Metric.
// Returns the metric and true if valid, or MetricBPS and false if not.
func ParseMetric(s string) (Metric, bool) {
	switch s {
	case "bps":
		return MetricBPS, true
	case "pps":
		return MetricPPS, true
	default:
		return MetricBPS, false
	}
}

// MarshalText implements encoding.TextMarshaler so Metric serialises
// as its string name in JSON.
func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, ok := ParseMetric(string(text))
	if !ok {
		return fmt.Errorf("invalid metric: %q", string(text))
	}
	*m = parsed
	return nil
}
