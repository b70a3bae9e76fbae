package repair

import (
	"regexp"
	"sort"
	"strings"

	"github.com/BaSui01/graphrepair/gateway"
	"github.com/BaSui01/graphrepair/graph"
)

// Category is the error class assigned to a failed validation.
type Category string

const (
	NoError         Category = "no_error"
	ConnectionError Category = "connection_error"
	ParameterError  Category = "parameter_error"
	StructuralError Category = "structural_error"
)

var (
	successKeywords = []string{`"success": true`, `'success': true`, "validation successful"}

	connectionKeywords = []string{
		"connection", "input connection", "required input", "missing input",
		"not connected", "no connection", "link", "output", "socket",
		"missing_input", "invalid_connection", "connection_error", "required_input_missing",
	}

	parameterKeywords = []string{
		"value not in list", "invalid value", "not found in list",
		"parameter value", "invalid parameter", "model not found",
		"invalid image file", "value_not_in_list", "invalid_input",
	}

	generalKeywords = []string{"error", "failed", "exception", "invalid"}

	nodeIDPattern = regexp.MustCompile(`["'](\d+)["']\s*:`)
)

// Classification is the outcome of Classify.
type Classification struct {
	Category          Category `json:"category"`
	Mixed             bool     `json:"mixed,omitempty"`
	ConnectionSignals int      `json:"connection_signals"`
	ParameterSignals  int      `json:"parameter_signals"`
	AffectedNodes     []string `json:"affected_nodes"`
}

// Classify assigns a category to a validation verdict. When the backend
// reports per-node diagnostics only those are scanned; the envelope around
// them always mentions outputs and would read as a connection problem.
func Classify(res *gateway.Result) Classification {
	if res == nil || res.Success {
		return Classification{Category: NoError, AffectedNodes: []string{}}
	}

	var text string
	if len(res.NodeErrors) > 0 {
		var b strings.Builder
		for _, id := range res.NodeIDs() {
			for _, d := range res.NodeErrors[id].Errors {
				b.WriteString(d.Type)
				b.WriteByte(' ')
				b.WriteString(d.Message)
				b.WriteByte(' ')
				b.WriteString(d.Details)
				b.WriteByte('\n')
			}
		}
		text = b.String()
	} else {
		text = res.Text()
	}

	c := ClassifyText(text)
	if c.Category == NoError {
		// 校验未通过但没有可识别的信号
		c.Category = StructuralError
	}
	c.AffectedNodes = mergeIDs(res.NodeIDs(), c.AffectedNodes)
	return c
}

// ClassifyText applies the keyword tables to free text.
func ClassifyText(text string) Classification {
	lower := strings.ToLower(text)
	c := Classification{AffectedNodes: extractNodeIDs(lower)}

	for _, kw := range successKeywords {
		if strings.Contains(lower, kw) {
			c.Category = NoError
			return c
		}
	}

	for _, kw := range connectionKeywords {
		c.ConnectionSignals += strings.Count(lower, kw)
	}
	for _, kw := range parameterKeywords {
		c.ParameterSignals += strings.Count(lower, kw)
	}

	switch {
	case c.ConnectionSignals > 0:
		c.Category = ConnectionError
		c.Mixed = c.ParameterSignals > 0
	case c.ParameterSignals > 0:
		c.Category = ParameterError
	case containsAny(lower, generalKeywords):
		c.Category = StructuralError
	default:
		c.Category = NoError
	}
	return c
}

func extractNodeIDs(text string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, m := range nodeIDPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return graph.CompareIDs(out[i], out[j]) < 0 })
	return out
}

func mergeIDs(a, b []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return graph.CompareIDs(out[i], out[j]) < 0 })
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
