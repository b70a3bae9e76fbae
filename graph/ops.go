package graph

import (
	"encoding/json"
	"strconv"
)

// Edge is a resolved connection inside a graph.
type Edge struct {
	TargetID    string `json:"target_id"`
	TargetInput string `json:"target_input"`
	SourceID    string `json:"source_id"`
	OutputIndex int    `json:"output_index"`
}

// Clone returns a deep copy. Literal values are copied recursively so the
// copy never aliases maps or slices of the original.
func (g Graph) Clone() Graph {
	if g == nil {
		return nil
	}
	out := make(Graph, len(g))
	for id, n := range g {
		out[id] = n.Clone()
	}
	return out
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		ClassType: n.ClassType,
		Inputs:    make(map[string]Input, len(n.Inputs)),
	}
	for name, in := range n.Inputs {
		c.Inputs[name] = in.Clone()
	}
	if n.Meta != nil {
		c.Meta = cloneValue(n.Meta).(map[string]any)
	}
	return c
}

// Clone returns a deep copy of the input.
func (in Input) Clone() Input {
	if in.Edge != nil {
		e := *in.Edge
		return Input{Edge: &e}
	}
	return Input{Value: cloneValue(in.Value)}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}

// Has reports whether a node id exists.
func (g Graph) Has(id string) bool {
	_, ok := g[id]
	return ok
}

// NextID returns the smallest positive integer id, as a string, that is not
// already used.
func (g Graph) NextID() string {
	for i := 1; ; i++ {
		id := strconv.Itoa(i)
		if !g.Has(id) {
			return id
		}
	}
}

// Edges lists every edge, ordered by target id then input name.
func (g Graph) Edges() []Edge {
	var edges []Edge
	for _, id := range g.SortedIDs() {
		n := g[id]
		for _, name := range n.SortedInputNames() {
			in := n.Inputs[name]
			if in.Edge == nil {
				continue
			}
			edges = append(edges, Edge{
				TargetID:    id,
				TargetInput: name,
				SourceID:    in.Edge.SourceID,
				OutputIndex: in.Edge.OutputIndex,
			})
		}
	}
	return edges
}

// Dependents returns the edges whose source is id.
func (g Graph) Dependents(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges() {
		if e.SourceID == id {
			out = append(out, e)
		}
	}
	return out
}

// Downstream returns every node reachable from id by following edges from
// source to target. id itself is included only when it sits on a cycle.
func (g Graph) Downstream(id string) map[string]bool {
	seen := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Dependents(cur) {
			if seen[e.TargetID] {
				continue
			}
			seen[e.TargetID] = true
			queue = append(queue, e.TargetID)
		}
	}
	return seen
}

// DanglingEdges returns edges whose source node does not exist.
func (g Graph) DanglingEdges() []Edge {
	var out []Edge
	for _, e := range g.Edges() {
		if !g.Has(e.SourceID) {
			out = append(out, e)
		}
	}
	return out
}

// RemoveNode deletes a node together with every input that referenced it.
// The removed edges are returned; ok is false when the node did not exist.
func (g Graph) RemoveNode(id string) (removed []Edge, ok bool) {
	if !g.Has(id) {
		return nil, false
	}
	delete(g, id)
	for _, tid := range g.SortedIDs() {
		n := g[tid]
		names := n.SortedInputNames()
		for _, name := range names {
			in := n.Inputs[name]
			if in.Edge != nil && in.Edge.SourceID == id {
				removed = append(removed, Edge{
					TargetID:    tid,
					TargetInput: name,
					SourceID:    id,
					OutputIndex: in.Edge.OutputIndex,
				})
				delete(n.Inputs, name)
			}
		}
	}
	return removed, true
}
