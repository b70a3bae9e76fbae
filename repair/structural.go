package repair

import (
	"context"
	"fmt"

	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/graph"
)

// StructuralStrategy removes nodes the backend flags. Nodes whose class the
// catalog does not know go first; otherwise flagged nodes that nothing else
// depends on are removed.
type StructuralStrategy struct {
	catalog catalog.TypeCatalog
	applier *fixer.Applier
}

// NewStructuralStrategy creates the structural strategy.
func NewStructuralStrategy(cat catalog.TypeCatalog, applier *fixer.Applier) *StructuralStrategy {
	return &StructuralStrategy{catalog: cat, applier: applier}
}

// Kind implements Strategy.
func (s *StructuralStrategy) Kind() StrategyKind { return StrategyStructural }

// Repair implements Strategy.
func (s *StructuralStrategy) Repair(ctx context.Context, in Input) (*Outcome, error) {
	in.emit(EventToolCall, StrategyStructural, ToolPayload{Tool: "get_current_workflow"})
	specs, err := s.catalog.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load node catalog: %w", err)
	}

	ids := PlanRemovals(in.Graph, in.Classification.AffectedNodes, specs)
	in.emit(EventToolResult, StrategyStructural, ToolPayload{
		Tool:    "get_current_workflow",
		Preview: fmt.Sprintf("%d flagged nodes, %d removable", len(in.Classification.AffectedNodes), len(ids)),
	})
	if len(ids) == 0 {
		return &Outcome{Message: "no removable nodes"}, nil
	}

	in.emit(EventToolCall, StrategyStructural, ToolPayload{Tool: "update_workflow"})
	applied, err := s.applier.RemoveNodes(ctx, in.SessionID, ids)
	if err != nil {
		return nil, err
	}
	return outcomeFrom(applied, fmt.Sprintf("removed %d nodes", len(ids))), nil
}

// PlanRemovals lists the flagged nodes to remove, in id order.
func PlanRemovals(g graph.Graph, flagged []string, specs map[string]*catalog.NodeTypeSpec) []string {
	var unknown, leaves []string
	for _, id := range flagged {
		node, ok := g[id]
		if !ok {
			continue
		}
		if _, known := specs[node.ClassType]; !known {
			unknown = append(unknown, id)
			continue
		}
		if len(g.Dependents(id)) == 0 {
			leaves = append(leaves, id)
		}
	}
	if len(unknown) > 0 {
		return unknown
	}
	return leaves
}
