// Package fixer applies repair edits to the latest checkpoint of a session.
//
// Every mutating call follows the same discipline: the current snapshot (if
// any) is re-saved as a pre-edit checkpoint, the edits are applied to a
// private working copy, and the result is persisted exactly once as a
// post-edit checkpoint. Individual edits fail independently; a failed edit
// never aborts the batch.
package fixer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/graph"
)

// NotConnected is the old value reported for an input that had no value.
const NotConnected = "not connected"

// Post-edit actions.
const (
	ActionBatchFix     = "batch_fix"
	ActionRemoveNodes  = "remove_nodes"
	ActionUpdateParams = "update_parameters"
	ActionReplaceGraph = "replace_graph"
)

// DiffKind labels an applied edit.
type DiffKind string

const (
	KindConnection     DiffKind = "connection"
	KindAddNode        DiffKind = "add_node"
	KindAutoConnection DiffKind = "auto_connection"
	KindRemoveNode     DiffKind = "remove_node"
	KindParameter      DiffKind = "parameter"
	KindReplaceGraph   DiffKind = "replace_graph"
)

// Connection wires output SourceOutputIndex of SourceNode into TargetInput.
type Connection struct {
	TargetNode        string `json:"target_node_id" validate:"required"`
	TargetInput       string `json:"target_input" validate:"required"`
	SourceNode        string `json:"source_node_id" validate:"required"`
	SourceOutputIndex int    `json:"source_output_index" validate:"gte=0"`
}

// AutoConnect wires a freshly created node into an existing one.
type AutoConnect struct {
	TargetNode  string `json:"target_node_id" validate:"required"`
	TargetInput string `json:"target_input" validate:"required"`
	OutputIndex int    `json:"output_index" validate:"gte=0"`
}

// NewNode describes a node to create.
type NewNode struct {
	ClassType   string                 `json:"node_type" validate:"required"`
	ID          string                 `json:"node_id,omitempty"`
	Inputs      map[string]graph.Input `json:"inputs,omitempty"`
	Title       string                 `json:"title,omitempty"`
	AutoConnect []AutoConnect          `json:"auto_connect,omitempty" validate:"dive"`
}

// FixBatch is one set of edits applied under a single checkpoint pair.
type FixBatch struct {
	Connections []Connection `json:"connections,omitempty" validate:"dive"`
	NewNodes    []NewNode    `json:"new_nodes,omitempty" validate:"dive"`
	Description string       `json:"description,omitempty"`
}

// Empty reports whether the batch carries no edits.
func (b FixBatch) Empty() bool {
	return len(b.Connections) == 0 && len(b.NewNodes) == 0
}

// ParameterUpdate sets a literal input value.
type ParameterUpdate struct {
	NodeID string `json:"node_id" validate:"required"`
	Input  string `json:"input" validate:"required"`
	Value  any    `json:"value"`
}

// Diff records one applied edit.
type Diff struct {
	Kind     DiffKind     `json:"kind"`
	NodeID   string       `json:"node_id"`
	Input    string       `json:"input,omitempty"`
	OldValue any          `json:"old_value,omitempty"`
	NewValue any          `json:"new_value,omitempty"`
	NoOp     bool         `json:"no_op,omitempty"`
	Detached []graph.Edge `json:"detached_edges,omitempty"`
}

// Failure records an edit that could not be applied.
type Failure struct {
	Kind   DiffKind `json:"kind"`
	NodeID string   `json:"node_id,omitempty"`
	Input  string   `json:"input,omitempty"`
	Reason string   `json:"reason"`
}

// ApplyResult is the outcome of one mutating call.
type ApplyResult struct {
	VersionID        uint64      `json:"version_id"`
	PreEditVersionID uint64      `json:"pre_edit_version_id,omitempty"`
	Applied          []Diff      `json:"applied"`
	Failed           []Failure   `json:"failed"`
	Graph            graph.Graph `json:"graph"`
}

// Changed reports whether at least one edit modified the graph.
func (r *ApplyResult) Changed() bool {
	for _, d := range r.Applied {
		if !d.NoOp {
			return true
		}
	}
	return false
}

// Recorder receives fix and checkpoint outcomes.
type Recorder interface {
	RecordFix(kind, result string)
	RecordCheckpointWrite(checkpointType string)
}

// Applier edits session graphs through a checkpoint store.
type Applier struct {
	store    checkpoint.Store
	logger   *zap.Logger
	recorder Recorder
}

// Option configures an Applier.
type Option func(*Applier)

// WithRecorder reports outcomes to a metrics sink.
func WithRecorder(r Recorder) Option {
	return func(a *Applier) { a.recorder = r }
}

// New creates an Applier over store.
func New(store checkpoint.Store, logger *zap.Logger, opts ...Option) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Applier{
		store:  store,
		logger: logger.With(zap.String("component", "fixer")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply applies connections first, then new nodes with their auto-connects.
func (a *Applier) Apply(ctx context.Context, sessionID string, batch FixBatch) (*ApplyResult, error) {
	desc := batch.Description
	if desc == "" {
		desc = fmt.Sprintf("batch fix: %d connections, %d new nodes", len(batch.Connections), len(batch.NewNodes))
	}
	return a.edit(ctx, sessionID, ActionBatchFix, desc, func(g graph.Graph, res *ApplyResult) {
		for _, c := range batch.Connections {
			a.connect(g, res, KindConnection, c.TargetNode, c.TargetInput, c.SourceNode, c.SourceOutputIndex)
		}
		for _, n := range batch.NewNodes {
			a.addNode(g, res, n)
		}
	})
}

// RemoveNodes deletes nodes and every input that referenced them.
func (a *Applier) RemoveNodes(ctx context.Context, sessionID string, ids []string) (*ApplyResult, error) {
	desc := fmt.Sprintf("remove %d nodes", len(ids))
	return a.edit(ctx, sessionID, ActionRemoveNodes, desc, func(g graph.Graph, res *ApplyResult) {
		for _, id := range ids {
			node, exists := g[id]
			if !exists {
				a.fail(res, Failure{Kind: KindRemoveNode, NodeID: id, Reason: fmt.Sprintf("Node %s not found", id)})
				continue
			}
			class := node.ClassType
			detached, _ := g.RemoveNode(id)
			a.apply(res, Diff{Kind: KindRemoveNode, NodeID: id, OldValue: class, Detached: detached})
		}
	})
}

// UpdateParameters sets literal inputs on existing nodes.
func (a *Applier) UpdateParameters(ctx context.Context, sessionID string, updates []ParameterUpdate) (*ApplyResult, error) {
	desc := fmt.Sprintf("update %d parameters", len(updates))
	return a.edit(ctx, sessionID, ActionUpdateParams, desc, func(g graph.Graph, res *ApplyResult) {
		for _, u := range updates {
			node, ok := g[u.NodeID]
			if !ok {
				a.fail(res, Failure{Kind: KindParameter, NodeID: u.NodeID, Input: u.Input, Reason: fmt.Sprintf("Node %s not found", u.NodeID)})
				continue
			}
			next := graph.Literal(u.Value)
			old, had := node.Inputs[u.Input]
			if had && old.Equal(next) {
				a.apply(res, Diff{Kind: KindParameter, NodeID: u.NodeID, Input: u.Input, OldValue: old, NewValue: next, NoOp: true})
				continue
			}
			if node.Inputs == nil {
				node.Inputs = map[string]graph.Input{}
			}
			node.Inputs[u.Input] = next
			a.apply(res, Diff{Kind: KindParameter, NodeID: u.NodeID, Input: u.Input, OldValue: oldValue(old, had), NewValue: next})
		}
	})
}

// ReplaceGraph swaps the whole graph for a rewritten one.
func (a *Applier) ReplaceGraph(ctx context.Context, sessionID string, next graph.Graph, description string) (*ApplyResult, error) {
	if description == "" {
		description = "replace graph"
	}
	return a.edit(ctx, sessionID, ActionReplaceGraph, description, func(g graph.Graph, res *ApplyResult) {
		before := len(g)
		for id := range g {
			delete(g, id)
		}
		for id, n := range next.Clone() {
			g[id] = n
		}
		a.apply(res, Diff{Kind: KindReplaceGraph, OldValue: before, NewValue: len(g)})
	})
}

// edit runs fn against a working copy under the pre-edit/post-edit pair.
func (a *Applier) edit(ctx context.Context, sessionID, action, description string, fn func(graph.Graph, *ApplyResult)) (*ApplyResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", checkpoint.ErrInvalidInput)
	}
	res := &ApplyResult{Applied: []Diff{}, Failed: []Failure{}}

	// 1. 加载当前快照并写入 pre-edit
	working := graph.Graph{}
	latest, err := a.store.GetLatestCheckpoint(ctx, sessionID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		a.logger.Info("no checkpoint for session, starting from empty graph", zap.String("session_id", sessionID))
	case err != nil:
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	default:
		working = latest.Graph.Clone()
		preID, err := a.store.Save(ctx, sessionID, latest.Graph, latest.Mirror, checkpoint.Attributes{
			checkpoint.AttrCheckpointType: string(checkpoint.TypePreEdit),
			checkpoint.AttrDescription:    "Checkpoint before " + description,
		})
		if err != nil {
			return nil, fmt.Errorf("save pre-edit checkpoint: %w", err)
		}
		a.recordWrite(checkpoint.TypePreEdit)
		res.PreEditVersionID = preID
	}

	// 2. 在副本上执行编辑
	fn(working, res)

	// 3. 单次写入 post-edit
	id, err := a.store.Save(ctx, sessionID, working, nil, checkpoint.Attributes{
		checkpoint.AttrCheckpointType: string(checkpoint.TypePostEdit),
		checkpoint.AttrDescription:    description,
		"action":                      action,
		"fixes_applied":               len(res.Applied),
		"fixes_failed":                len(res.Failed),
	})
	if err != nil {
		return nil, fmt.Errorf("save post-edit checkpoint: %w", err)
	}
	a.recordWrite(checkpoint.TypePostEdit)
	res.VersionID = id
	res.Graph = working

	a.logger.Info("edits applied",
		zap.String("session_id", sessionID),
		zap.String("action", action),
		zap.Uint64("version_id", id),
		zap.Int("applied", len(res.Applied)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

func (a *Applier) connect(g graph.Graph, res *ApplyResult, kind DiffKind, targetID, input, sourceID string, outputIndex int) {
	target, ok := g[targetID]
	if !ok {
		a.fail(res, Failure{Kind: kind, NodeID: targetID, Input: input, Reason: fmt.Sprintf("Target node %s not found", targetID)})
		return
	}
	if !g.Has(sourceID) {
		a.fail(res, Failure{Kind: kind, NodeID: targetID, Input: input, Reason: fmt.Sprintf("Source node %s not found", sourceID)})
		return
	}

	next := graph.Link(sourceID, outputIndex)
	old, had := target.Inputs[input]
	if had && old.Equal(next) {
		a.apply(res, Diff{Kind: kind, NodeID: targetID, Input: input, OldValue: old, NewValue: next, NoOp: true})
		return
	}
	if target.Inputs == nil {
		target.Inputs = map[string]graph.Input{}
	}
	target.Inputs[input] = next
	a.apply(res, Diff{Kind: kind, NodeID: targetID, Input: input, OldValue: oldValue(old, had), NewValue: next})
}

func (a *Applier) addNode(g graph.Graph, res *ApplyResult, n NewNode) {
	if n.ClassType == "" {
		a.fail(res, Failure{Kind: KindAddNode, NodeID: n.ID, Reason: "node type is required"})
		return
	}
	id := n.ID
	if id == "" || g.Has(id) {
		id = g.NextID()
	}
	node := &graph.Node{ClassType: n.ClassType, Inputs: map[string]graph.Input{}}
	for name, in := range n.Inputs {
		node.Inputs[name] = in.Clone()
	}
	title := n.Title
	if title == "" {
		title = n.ClassType
	}
	node.SetTitle(title)
	g[id] = node
	a.apply(res, Diff{Kind: KindAddNode, NodeID: id, NewValue: n.ClassType})

	for _, ac := range n.AutoConnect {
		a.connect(g, res, KindAutoConnection, ac.TargetNode, ac.TargetInput, id, ac.OutputIndex)
	}
}

func (a *Applier) apply(res *ApplyResult, d Diff) {
	res.Applied = append(res.Applied, d)
	if a.recorder != nil {
		result := "applied"
		if d.NoOp {
			result = "noop"
		}
		a.recorder.RecordFix(string(d.Kind), result)
	}
}

func (a *Applier) fail(res *ApplyResult, f Failure) {
	res.Failed = append(res.Failed, f)
	a.logger.Debug("edit failed", zap.String("kind", string(f.Kind)), zap.String("reason", f.Reason))
	if a.recorder != nil {
		a.recorder.RecordFix(string(f.Kind), "failed")
	}
}

func (a *Applier) recordWrite(t checkpoint.Type) {
	if a.recorder != nil {
		a.recorder.RecordCheckpointWrite(string(t))
	}
}

func oldValue(in graph.Input, had bool) any {
	if !had {
		return NotConnected
	}
	return in
}
