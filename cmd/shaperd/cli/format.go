package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/client-go/util/jsonpath"

	"github.com/frobware/go-shaperman"
	"github.com/frobware/go-shaperman/wire"
)

// FormatShaperList formats shaper nodes according to the output flags.
func FormatShaperList(nodes []shaperman.Shaper, flags *OutputFlags) (string, error) {
	switch flags.Format() {
	case OutputFormatJSON:
		return formatJSON(nodes)
	case OutputFormatJSONPath:
		return formatJSONPath(nodes, flags.JSONPathExpr())
	case OutputFormatTree:
		return formatShaperTree(nodes), nil
	default:
		return formatShaperTable(nodes), nil
	}
}

// FormatScopeCaps formats capability entries according to the output flags.
func FormatScopeCaps(caps []shaperman.ScopeCapabilities, flags *OutputFlags) (string, error) {
	switch flags.Format() {
	case OutputFormatJSON:
		return formatJSON(caps)
	case OutputFormatJSONPath:
		return formatJSONPath(caps, flags.JSONPathExpr())
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "%-10s %s\n", "SCOPE", "FEATURES")
		for _, sc := range caps {
			fmt.Fprintf(&b, "%-10s %s\n", sc.Scope, sc.Features)
		}
		return b.String(), nil
	}
}

// FormatDevices formats device entries according to the output flags.
func FormatDevices(devices []wire.DeviceInfo, flags *OutputFlags) (string, error) {
	switch flags.Format() {
	case OutputFormatJSON:
		return formatJSON(devices)
	case OutputFormatJSONPath:
		return formatJSONPath(devices, flags.JSONPathExpr())
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "%-8s %-16s %-8s %s\n", "IFINDEX", "NAME", "BACKEND", "TX-QUEUES")
		for _, d := range devices {
			fmt.Fprintf(&b, "%-8d %-16s %-8s %d\n", d.Ifindex, d.Name, d.Backend, d.TxQueues)
		}
		return b.String(), nil
	}
}

func formatJSON(v any) (string, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output) + "\n", nil
}

func formatJSONPath(v any, expr string) (string, error) {
	jp := jsonpath.New("output")
	if err := jp.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid jsonpath expression %q: %w", expr, err)
	}

	// Round-trip through JSON so the expression sees the wire-level
	// field names and textual handles.
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	var data interface{}
	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal: %w", err)
	}

	var buf bytes.Buffer
	if err := jp.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("jsonpath execution failed: %w", err)
	}
	return buf.String() + "\n", nil
}

func formatShaperTable(nodes []shaperman.Shaper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-18s %-6s %-12s %-12s %-10s %-5s %s\n",
		"HANDLE", "PARENT", "METRIC", "BW-MIN", "BW-MAX", "BURST", "PRIO", "WEIGHT")
	for _, n := range nodes {
		fmt.Fprintf(&b, "%-18s %-18s %-6s %-12d %-12d %-10d %-5d %d\n",
			n.Handle, n.Parent, n.Metric, n.BwMin, n.BwMax, n.Burst, n.Priority, n.Weight)
	}
	return b.String()
}

// formatShaperTree renders the nodes as their nesting hierarchy.
// Nodes whose parent is not itself listed (the port root, typically)
// start a tree.
func formatShaperTree(nodes []shaperman.Shaper) string {
	listed := make(map[shaperman.Handle]bool, len(nodes))
	for _, n := range nodes {
		listed[n.Handle] = true
	}
	children := make(map[shaperman.Handle][]shaperman.Shaper)
	var roots []shaperman.Shaper
	for _, n := range nodes {
		if listed[n.Parent] {
			children[n.Parent] = append(children[n.Parent], n)
			continue
		}
		roots = append(roots, n)
	}

	var b strings.Builder
	for _, root := range roots {
		writeTreeNode(&b, root, children, "")
	}
	return b.String()
}

func writeTreeNode(b *strings.Builder, n shaperman.Shaper, children map[shaperman.Handle][]shaperman.Shaper, prefix string) {
	if prefix == "" {
		fmt.Fprintf(b, "%s%s\n", n.Handle, shaperSummary(n))
	}
	kids := children[n.Handle]
	for i, kid := range kids {
		connector, continuation := "├─ ", "│  "
		if i == len(kids)-1 {
			connector, continuation = "└─ ", "   "
		}
		fmt.Fprintf(b, "%s%s%s%s\n", prefix, connector, kid.Handle, shaperSummary(kid))
		writeTreeNode(b, kid, children, prefix+continuation)
	}
}

// shaperSummary renders a node's non-zero attributes for tree output.
func shaperSummary(n shaperman.Shaper) string {
	var parts []string
	if n.Metric == shaperman.MetricPPS {
		parts = append(parts, "metric=pps")
	}
	if n.BwMin != 0 {
		parts = append(parts, fmt.Sprintf("bw-min=%d", n.BwMin))
	}
	if n.BwMax != 0 {
		parts = append(parts, fmt.Sprintf("bw-max=%d", n.BwMax))
	}
	if n.Burst != 0 {
		parts = append(parts, fmt.Sprintf("burst=%d", n.Burst))
	}
	if n.Priority != 0 {
		parts = append(parts, fmt.Sprintf("priority=%d", n.Priority))
	}
	if n.Weight != 0 {
		parts = append(parts, fmt.Sprintf("weight=%d", n.Weight))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, " ") + ")"
}
