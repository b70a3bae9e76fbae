package repair

import (
	"context"
	"fmt"

	"github.com/BaSui01/graphrepair/analyzer"
	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/graph"
)

// ConnectionStrategy wires missing required inputs. Existing type-compatible
// sources are preferred (high confidence over medium); inputs nothing can
// feed get a new node from the first suggestion, auto-connected to them.
type ConnectionStrategy struct {
	catalog catalog.TypeCatalog
	applier *fixer.Applier
}

// NewConnectionStrategy creates the connection strategy.
func NewConnectionStrategy(cat catalog.TypeCatalog, applier *fixer.Applier) *ConnectionStrategy {
	return &ConnectionStrategy{catalog: cat, applier: applier}
}

// Kind implements Strategy.
func (s *ConnectionStrategy) Kind() StrategyKind { return StrategyConnection }

// Repair implements Strategy.
func (s *ConnectionStrategy) Repair(ctx context.Context, in Input) (*Outcome, error) {
	in.emit(EventToolCall, StrategyConnection, ToolPayload{Tool: "analyze_missing_connections"})
	res, err := analyzer.Analyze(ctx, in.Graph, s.catalog)
	if err != nil {
		return nil, err
	}
	in.emit(EventAnalysis, StrategyConnection, res)

	specs, err := s.catalog.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load node catalog: %w", err)
	}
	batch := PlanConnections(in.Graph, res, specs)
	if batch.Empty() {
		return &Outcome{Message: "no connection fixes available"}, nil
	}
	batch.Description = fmt.Sprintf("connection repair iteration %d", in.Iteration)

	in.emit(EventToolCall, StrategyConnection, ToolPayload{Tool: "apply_connection_fixes"})
	applied, err := s.applier.Apply(ctx, in.SessionID, batch)
	if err != nil {
		return nil, err
	}
	in.emit(EventToolResult, StrategyConnection, ToolPayload{
		Tool:    "apply_connection_fixes",
		Preview: fmt.Sprintf("%d applied, %d failed", len(applied.Applied), len(applied.Failed)),
	})
	return outcomeFrom(applied, fmt.Sprintf("connected %d inputs, added %d nodes", len(batch.Connections), len(batch.NewNodes))), nil
}

// PlanConnections turns an analysis into a fix batch: one candidate per
// missing typed input, a nearby source for every universal input, and one new
// node per suggested class for inputs without candidates. A source that sits
// downstream of its target is never used; when every candidate of an input is
// downstream the input falls back to a new-node suggestion.
func PlanConnections(g graph.Graph, res *analyzer.Result, specs map[string]*catalog.NodeTypeSpec) fixer.FixBatch {
	var batch fixer.FixBatch

	// 已规划的边写入工作副本，后续输入按其判断环路
	work := g.Clone()
	connect := func(c fixer.Connection) {
		batch.Connections = append(batch.Connections, c)
		if n, ok := work[c.TargetNode]; ok {
			if n.Inputs == nil {
				n.Inputs = map[string]graph.Input{}
			}
			n.Inputs[c.TargetInput] = graph.Link(c.SourceNode, c.SourceOutputIndex)
		}
	}

	suggestions := append([]analyzer.NewNodeSuggestion(nil), res.RequiredNewNodeSuggestions...)
	for _, m := range res.MissingConnections {
		if m.Universal || m.Candidates == 0 {
			continue
		}
		c, ok := pickCandidate(res.CandidatesFor(m.NodeID, m.InputName), work.Downstream(m.NodeID))
		if !ok {
			suggestions = append(suggestions, analyzer.NewNodeSuggestion{
				TargetNode:    m.NodeID,
				TargetInput:   m.InputName,
				ExpectedTypes: m.ExpectedTypes,
				Suggestions:   analyzer.SuggestNodeTypes(m.ExpectedTypes, specs),
			})
			continue
		}
		connect(fixer.Connection{
			TargetNode:        c.TargetNode,
			TargetInput:       c.TargetInput,
			SourceNode:        c.SourceNode,
			SourceOutputIndex: c.SourceOutputIndex,
		})
	}

	for _, ref := range res.UniversalInputs {
		if src, ok := universalSource(work, ref.NodeID, specs); ok {
			connect(fixer.Connection{
				TargetNode:  ref.NodeID,
				TargetInput: ref.InputName,
				SourceNode:  src,
			})
		}
	}

	// 同一类型的建议节点只创建一次，多个输入共用
	byClass := map[string]int{}
	for _, sug := range suggestions {
		if len(sug.Suggestions) == 0 {
			continue
		}
		pick := sug.Suggestions[0]
		ac := fixer.AutoConnect{TargetNode: sug.TargetNode, TargetInput: sug.TargetInput, OutputIndex: pick.OutputIndex}
		if i, ok := byClass[pick.ClassType]; ok {
			batch.NewNodes[i].AutoConnect = append(batch.NewNodes[i].AutoConnect, ac)
			continue
		}
		byClass[pick.ClassType] = len(batch.NewNodes)
		batch.NewNodes = append(batch.NewNodes, fixer.NewNode{
			ClassType:   pick.ClassType,
			Inputs:      widgetDefaults(specs[pick.ClassType]),
			AutoConnect: []fixer.AutoConnect{ac},
		})
	}
	return batch
}

// pickCandidate returns the first high confidence candidate whose source is
// not downstream of the target, else the first such medium one.
func pickCandidate(candidates []analyzer.Candidate, downstream map[string]bool) (analyzer.Candidate, bool) {
	var fallback *analyzer.Candidate
	for i := range candidates {
		c := candidates[i]
		if downstream[c.SourceNode] {
			continue
		}
		if c.Confidence == analyzer.High {
			return c, true
		}
		if fallback == nil {
			fallback = &candidates[i]
		}
	}
	if fallback == nil {
		return analyzer.Candidate{}, false
	}
	return *fallback, true
}

// universalSource picks the closest preceding node (by id order) that has
// outputs and does not depend on the target, falling back to the first
// following one.
func universalSource(g graph.Graph, target string, specs map[string]*catalog.NodeTypeSpec) (string, bool) {
	ids := g.SortedIDs()
	pos := -1
	for i, id := range ids {
		if id == target {
			pos = i
			break
		}
	}
	downstream := g.Downstream(target)
	usable := func(id string) bool {
		if downstream[id] {
			return false
		}
		spec, ok := specs[g[id].ClassType]
		return ok && len(spec.Outputs) > 0
	}
	for i := pos - 1; i >= 0; i-- {
		if usable(ids[i]) {
			return ids[i], true
		}
	}
	for i := pos + 1; i < len(ids); i++ {
		if usable(ids[i]) {
			return ids[i], true
		}
	}
	return "", false
}

func widgetDefaults(spec *catalog.NodeTypeSpec) map[string]graph.Input {
	inputs := map[string]graph.Input{}
	if spec == nil {
		return inputs
	}
	for _, in := range spec.Required {
		if v, ok := in.DefaultValue(); ok {
			inputs[in.Name] = graph.Literal(v)
		}
	}
	return inputs
}
