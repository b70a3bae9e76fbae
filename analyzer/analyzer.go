// Package analyzer finds missing required connections in a workflow graph and
// ranks type-compatible sources for them.
//
// Analyze is a pure function of the graph and the catalog. Output order is
// stable: nodes by id (numeric ids first), inputs in catalog declaration
// order, candidate sources in node order and then output index.
package analyzer

import (
	"context"
	"fmt"

	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/graph"
)

// Confidence ranks how well a source output matches an expected input type.
type Confidence string

const (
	// High means a declared output tag is a member of the expected types.
	High Confidence = "high"
	// Medium means the match exists only through a wildcard output.
	Medium Confidence = "medium"
)

// InputRef identifies an unconnected input.
type InputRef struct {
	NodeID        string                 `json:"node_id"`
	ClassType     string                 `json:"class_type"`
	InputName     string                 `json:"input_name"`
	ExpectedTypes catalog.TypeConstraint `json:"expected_types"`
	Universal     bool                   `json:"is_universal"`
}

// MissingConnection is a required input with no value.
type MissingConnection struct {
	InputRef
	Candidates int `json:"candidates"`
}

// Candidate is a proposed edge for a missing required input.
type Candidate struct {
	TargetNode        string                 `json:"target_node_id"`
	TargetInput       string                 `json:"target_input"`
	SourceNode        string                 `json:"source_node_id"`
	SourceClass       string                 `json:"source_class"`
	SourceOutputIndex int                    `json:"source_output_index"`
	OutputName        string                 `json:"output_name,omitempty"`
	Confidence        Confidence             `json:"confidence"`
	ExpectedTypes     catalog.TypeConstraint `json:"expected_types"`
	ProvidedType      catalog.TypeConstraint `json:"provided_type"`
}

// NodeTypeSuggestion names a node type able to provide a missing type.
type NodeTypeSuggestion struct {
	ClassType   string     `json:"node_class"`
	OutputType  string     `json:"output_type"`
	OutputIndex int        `json:"output_index"`
	Confidence  Confidence `json:"confidence"`
}

// NewNodeSuggestion is emitted when no existing node can feed an input.
type NewNodeSuggestion struct {
	TargetNode    string                 `json:"for_node"`
	TargetInput   string                 `json:"for_input"`
	ExpectedTypes catalog.TypeConstraint `json:"expected_types"`
	Suggestions   []NodeTypeSuggestion   `json:"suggested_node_types"`
}

// UnknownNode is a graph node whose class the catalog does not know.
type UnknownNode struct {
	NodeID    string `json:"node_id"`
	ClassType string `json:"class_type"`
}

// Summary holds the aggregate counts.
type Summary struct {
	TotalMissing             int `json:"total_missing"`
	AutoFixable              int `json:"auto_fixable"`
	RequiresNewNodes         int `json:"requires_new_nodes"`
	UniversalInputsCount     int `json:"universal_inputs_count"`
	OptionalUnconnectedCount int `json:"optional_unconnected_count"`
}

// Result is the outcome of Analyze.
type Result struct {
	MissingConnections         []MissingConnection `json:"missing_connections"`
	PossibleConnections        []Candidate         `json:"possible_connections"`
	UniversalInputs            []InputRef          `json:"universal_inputs"`
	OptionalUnconnectedInputs  []InputRef          `json:"optional_unconnected_inputs"`
	RequiredNewNodeSuggestions []NewNodeSuggestion `json:"required_new_nodes"`
	UnknownNodes               []UnknownNode       `json:"unknown_nodes,omitempty"`
	Summary                    Summary             `json:"connection_summary"`
}

// CandidatesFor returns the candidates of one target input, in result order.
func (r *Result) CandidatesFor(nodeID, input string) []Candidate {
	var out []Candidate
	for _, c := range r.PossibleConnections {
		if c.TargetNode == nodeID && c.TargetInput == input {
			out = append(out, c)
		}
	}
	return out
}

// HasMissing reports whether any required input is unconnected.
func (r *Result) HasMissing() bool {
	return r.Summary.TotalMissing > 0
}

type sourceNode struct {
	id   string
	spec *catalog.NodeTypeSpec
}

// Analyze inspects g against the catalog. Only catalog infrastructure failures
// are returned as errors.
func Analyze(ctx context.Context, g graph.Graph, cat catalog.TypeCatalog) (*Result, error) {
	specs, err := cat.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load node catalog: %w", err)
	}

	res := &Result{
		MissingConnections:         []MissingConnection{},
		PossibleConnections:        []Candidate{},
		UniversalInputs:            []InputRef{},
		OptionalUnconnectedInputs:  []InputRef{},
		RequiredNewNodeSuggestions: []NewNodeSuggestion{},
	}

	ids := g.SortedIDs()

	// 1. 已知节点的输出索引
	var sources []sourceNode
	for _, id := range ids {
		node := g[id]
		spec, ok := specs[node.ClassType]
		if !ok {
			res.UnknownNodes = append(res.UnknownNodes, UnknownNode{NodeID: id, ClassType: node.ClassType})
			continue
		}
		sources = append(sources, sourceNode{id: id, spec: spec})
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := g[src.id]

		// 2. 缺失的必需输入
		for _, in := range src.spec.Required {
			if _, present := node.Inputs[in.Name]; present {
				continue
			}
			ref := InputRef{
				NodeID:        src.id,
				ClassType:     node.ClassType,
				InputName:     in.Name,
				ExpectedTypes: in.Types,
				Universal:     in.Types.IsWildcard(),
			}
			missing := MissingConnection{InputRef: ref}

			switch {
			case ref.Universal:
				res.UniversalInputs = append(res.UniversalInputs, ref)
				res.Summary.UniversalInputsCount++
				res.Summary.AutoFixable++
			default:
				candidates := findCandidates(src.id, in, sources)
				missing.Candidates = len(candidates)
				if len(candidates) > 0 {
					res.PossibleConnections = append(res.PossibleConnections, candidates...)
					res.Summary.AutoFixable++
				} else {
					res.Summary.RequiresNewNodes++
					res.RequiredNewNodeSuggestions = append(res.RequiredNewNodeSuggestions, NewNodeSuggestion{
						TargetNode:    src.id,
						TargetInput:   in.Name,
						ExpectedTypes: in.Types,
						Suggestions:   SuggestNodeTypes(in.Types, specs),
					})
				}
			}
			res.MissingConnections = append(res.MissingConnections, missing)
		}

		// 3. 未连接的可选输入，仅记录
		for _, in := range src.spec.Optional {
			if _, present := node.Inputs[in.Name]; present {
				continue
			}
			res.OptionalUnconnectedInputs = append(res.OptionalUnconnectedInputs, InputRef{
				NodeID:        src.id,
				ClassType:     node.ClassType,
				InputName:     in.Name,
				ExpectedTypes: in.Types,
				Universal:     in.Types.IsWildcard(),
			})
		}
	}

	// 4. 汇总
	res.Summary.TotalMissing = len(res.MissingConnections)
	res.Summary.OptionalUnconnectedCount = len(res.OptionalUnconnectedInputs)
	return res, nil
}

// findCandidates scans every other node's outputs. Exact tag membership is
// high confidence; a wildcard output is medium.
func findCandidates(targetID string, in catalog.InputSpec, sources []sourceNode) []Candidate {
	var out []Candidate
	for _, src := range sources {
		if src.id == targetID {
			continue
		}
		for idx, provided := range src.spec.Outputs {
			var conf Confidence
			switch {
			case in.Types.Intersects(provided):
				conf = High
			case provided.IsWildcard():
				conf = Medium
			default:
				continue
			}
			out = append(out, Candidate{
				TargetNode:        targetID,
				TargetInput:       in.Name,
				SourceNode:        src.id,
				SourceClass:       src.spec.Name,
				SourceOutputIndex: idx,
				OutputName:        src.spec.OutputName(idx),
				Confidence:        conf,
				ExpectedTypes:     in.Types,
				ProvidedType:      provided,
			})
		}
	}
	return out
}

// BestCandidates picks one candidate per missing input: the first high
// confidence match, else the first medium one.
func BestCandidates(res *Result) []Candidate {
	type key struct{ node, input string }
	best := map[key]int{}
	var order []key
	var picked []Candidate

	for _, c := range res.PossibleConnections {
		k := key{c.TargetNode, c.TargetInput}
		i, seen := best[k]
		switch {
		case !seen:
			best[k] = len(picked)
			order = append(order, k)
			picked = append(picked, c)
		case picked[i].Confidence != High && c.Confidence == High:
			picked[i] = c
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, k := range order {
		out = append(out, picked[best[k]])
	}
	return out
}
