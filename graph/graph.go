// Package graph defines the workflow graph model: typed nodes keyed by id whose
// inputs are either literal values or references to another node's output.
//
// The JSON form is the one consumed by the execution backend:
//
//	{"4": {"class_type": "KSampler", "inputs": {"model": ["1", 0], "seed": 7}}}
//
// A two-element array whose first element is a string and whose second element
// is an integer is an edge reference; every other value is a literal.
package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// EdgeRef points at output OutputIndex of node SourceID.
type EdgeRef struct {
	SourceID    string `json:"source_id"`
	OutputIndex int    `json:"output_index"`
}

// Input is a node input value: an edge reference or a literal.
type Input struct {
	Edge  *EdgeRef
	Value any
}

// Link builds an edge input.
func Link(sourceID string, outputIndex int) Input {
	return Input{Edge: &EdgeRef{SourceID: sourceID, OutputIndex: outputIndex}}
}

// Literal builds a literal input.
func Literal(v any) Input {
	return Input{Value: v}
}

// IsEdge reports whether the input references another node.
func (in Input) IsEdge() bool {
	return in.Edge != nil
}

// Equal compares two inputs by their JSON form.
func (in Input) Equal(other Input) bool {
	if in.IsEdge() != other.IsEdge() {
		return false
	}
	if in.IsEdge() {
		return *in.Edge == *other.Edge
	}
	a, errA := json.Marshal(in.Value)
	b, errB := json.Marshal(other.Value)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// String renders the input the way it appears on the wire.
func (in Input) String() string {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Sprintf("%v", in.Value)
	}
	return string(data)
}

// MarshalJSON implements json.Marshaler.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.Edge != nil {
		return json.Marshal([]any{in.Edge.SourceID, in.Edge.OutputIndex})
	}
	return json.Marshal(in.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (in *Input) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	if edge, ok := edgeFromValue(v); ok {
		*in = Input{Edge: edge}
		return nil
	}
	*in = Input{Value: v}
	return nil
}

func edgeFromValue(v any) (*EdgeRef, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return nil, false
	}
	src, ok := arr[0].(string)
	if !ok {
		return nil, false
	}
	var idx int64
	switch n := arr[1].(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, false
		}
		idx = i
	case float64:
		if n != float64(int64(n)) {
			return nil, false
		}
		idx = int64(n)
	case int:
		idx = int64(n)
	default:
		return nil, false
	}
	if idx < 0 {
		return nil, false
	}
	return &EdgeRef{SourceID: src, OutputIndex: int(idx)}, true
}

// Node is a single typed node.
type Node struct {
	ClassType string           `json:"class_type"`
	Inputs    map[string]Input `json:"inputs"`
	Meta      map[string]any   `json:"_meta,omitempty"`
}

// Title returns _meta.title when present.
func (n *Node) Title() string {
	if n == nil || n.Meta == nil {
		return ""
	}
	t, _ := n.Meta["title"].(string)
	return t
}

// SetTitle sets _meta.title.
func (n *Node) SetTitle(title string) {
	if n.Meta == nil {
		n.Meta = make(map[string]any)
	}
	n.Meta["title"] = title
}

// Graph maps node ids to nodes.
type Graph map[string]*Node

// Parse decodes a graph from its JSON form.
func Parse(data []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	if g == nil {
		g = Graph{}
	}
	for id, n := range g {
		if n == nil {
			return nil, fmt.Errorf("parse graph: node %s is null", id)
		}
		if n.Inputs == nil {
			n.Inputs = make(map[string]Input)
		}
	}
	return g, nil
}

// MustParse is Parse for fixtures; it panics on malformed input.
func MustParse(data string) Graph {
	g, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return g
}

// Marshal encodes the graph to JSON.
func (g Graph) Marshal() ([]byte, error) {
	if g == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]*Node(g))
}

// CompareIDs orders node ids: numeric ids ascending first, then the rest
// lexicographically.
func CompareIDs(a, b string) int {
	ai, aErr := strconv.ParseUint(a, 10, 64)
	bi, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		if ai < bi {
			return -1
		}
		if ai > bi {
			return 1
		}
		// "01" vs "1"
		return compareStrings(a, b)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return compareStrings(a, b)
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortedIDs returns node ids in CompareIDs order.
func (g Graph) SortedIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return CompareIDs(ids[i], ids[j]) < 0 })
	return ids
}

// SortedInputNames returns the node's input names in lexical order.
func (n *Node) SortedInputNames() []string {
	names := make([]string, 0, len(n.Inputs))
	for name := range n.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
