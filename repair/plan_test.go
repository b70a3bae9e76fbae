package repair

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphrepair/analyzer"
	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/testutil"
	"github.com/BaSui01/graphrepair/testutil/fixtures"
)

const loneSampler = `{
  "1": {"class_type": "KSampler", "inputs": {
    "seed": 1, "steps": 20, "cfg": 7.0, "sampler_name": "euler", "scheduler": "normal", "denoise": 1.0
  }}
}`

func plan(t *testing.T, g graph.Graph) fixer.FixBatch {
	t.Helper()
	ctx := context.Background()
	cat := testutil.Catalog(t)
	res, err := analyzer.Analyze(ctx, g, cat)
	require.NoError(t, err)
	specs, err := cat.GetAll(ctx)
	require.NoError(t, err)
	return PlanConnections(g, res, specs)
}

func TestPlanConnections_ExistingSource(t *testing.T) {
	batch := plan(t, testutil.Graph(t, fixtures.MissingModelLink))

	assert.Equal(t, []fixer.Connection{{TargetNode: "5", TargetInput: "model", SourceNode: "1", SourceOutputIndex: 0}}, batch.Connections)
	assert.Empty(t, batch.NewNodes)
}

func TestPlanConnections_NewNodesGroupedByClass(t *testing.T) {
	batch := plan(t, testutil.Graph(t, loneSampler))

	assert.Empty(t, batch.Connections)
	require.Len(t, batch.NewNodes, 3)

	loader := batch.NewNodes[0]
	assert.Equal(t, fixtures.ClassCheckpointLoader, loader.ClassType)
	assert.Equal(t, []fixer.AutoConnect{{TargetNode: "1", TargetInput: "model", OutputIndex: 0}}, loader.AutoConnect)
	assert.Equal(t, "sd_xl_base_1.0.safetensors", loader.Inputs["ckpt_name"].Value)

	encoder := batch.NewNodes[1]
	assert.Equal(t, fixtures.ClassCLIPTextEncode, encoder.ClassType)
	assert.Equal(t, []fixer.AutoConnect{
		{TargetNode: "1", TargetInput: "positive", OutputIndex: 0},
		{TargetNode: "1", TargetInput: "negative", OutputIndex: 0},
	}, encoder.AutoConnect)
	assert.NotContains(t, encoder.Inputs, "clip", "link inputs get no default")

	assert.Equal(t, fixtures.ClassEmptyLatent, batch.NewNodes[2].ClassType)
}

func TestPlanConnections_UniversalInput(t *testing.T) {
	g := graph.Graph{
		"1": {ClassType: fixtures.ClassCheckpointLoader, Inputs: map[string]graph.Input{"ckpt_name": graph.Literal("sd_xl_base_1.0.safetensors")}},
		"2": {ClassType: fixtures.ClassPreviewAny, Inputs: map[string]graph.Input{}},
	}
	batch := plan(t, g)

	assert.Equal(t, []fixer.Connection{{TargetNode: "2", TargetInput: "source", SourceNode: "1"}}, batch.Connections)
}

func planWith(t *testing.T, cat catalog.TypeCatalog, g graph.Graph) fixer.FixBatch {
	t.Helper()
	ctx := context.Background()
	res, err := analyzer.Analyze(ctx, g, cat)
	require.NoError(t, err)
	specs, err := cat.GetAll(ctx)
	require.NoError(t, err)
	return PlanConnections(g, res, specs)
}

// assertAcyclicAfter applies the planned connections to a copy of g and
// checks that no node reaches itself.
func assertAcyclicAfter(t *testing.T, g graph.Graph, batch fixer.FixBatch) {
	t.Helper()
	work := g.Clone()
	for _, c := range batch.Connections {
		work[c.TargetNode].Inputs[c.TargetInput] = graph.Link(c.SourceNode, c.SourceOutputIndex)
	}
	for _, id := range work.SortedIDs() {
		assert.False(t, work.Downstream(id)[id], "node %s reaches itself", id)
	}
}

func imageCatalog() *catalog.StaticCatalog {
	image := catalog.ParseConstraint("IMAGE")
	return catalog.NewStatic(
		&catalog.NodeTypeSpec{
			Name:     "Upscale",
			Required: []catalog.InputSpec{{Name: "image", Types: image}},
			Outputs:  []catalog.TypeConstraint{image},
		},
		&catalog.NodeTypeSpec{
			Name:    fixtures.ClassLoadImage,
			Outputs: []catalog.TypeConstraint{image},
		},
		&catalog.NodeTypeSpec{
			Name:     "Any",
			Required: []catalog.InputSpec{{Name: "source", Types: catalog.ParseConstraint("*")}},
		},
		&catalog.NodeTypeSpec{
			Name:     "Show",
			Required: []catalog.InputSpec{{Name: "images", Types: image}},
			Outputs:  []catalog.TypeConstraint{image},
		},
	)
}

func TestPlanConnections_SkipsDownstreamCandidate(t *testing.T) {
	g := graph.Graph{
		"1": {ClassType: "Upscale", Inputs: map[string]graph.Input{}},
		"2": {ClassType: "Upscale", Inputs: map[string]graph.Input{"image": graph.Link("1", 0)}},
	}
	batch := planWith(t, imageCatalog(), g)

	assert.Empty(t, batch.Connections)
	require.Len(t, batch.NewNodes, 1)
	assert.Equal(t, fixtures.ClassLoadImage, batch.NewNodes[0].ClassType)
	assert.Equal(t, []fixer.AutoConnect{{TargetNode: "1", TargetInput: "image", OutputIndex: 0}}, batch.NewNodes[0].AutoConnect)
}

func TestPlanConnections_UniversalSkipsDownstream(t *testing.T) {
	g := graph.Graph{
		"1": {ClassType: "Any", Inputs: map[string]graph.Input{}},
		"2": {ClassType: "Show", Inputs: map[string]graph.Input{"images": graph.Link("1", 0)}},
	}
	batch := planWith(t, imageCatalog(), g)
	assert.Empty(t, batch.Connections)

	g["3"] = &graph.Node{ClassType: fixtures.ClassLoadImage, Inputs: map[string]graph.Input{}}
	batch = planWith(t, imageCatalog(), g)
	assert.Equal(t, []fixer.Connection{{TargetNode: "1", TargetInput: "source", SourceNode: "3"}}, batch.Connections)
	assertAcyclicAfter(t, g, batch)
}

func TestPlanConnections_NoCycleWithinOneBatch(t *testing.T) {
	g := graph.Graph{
		"1": {ClassType: "Upscale", Inputs: map[string]graph.Input{}},
		"2": {ClassType: "Upscale", Inputs: map[string]graph.Input{}},
	}
	batch := planWith(t, imageCatalog(), g)

	assert.Equal(t, []fixer.Connection{{TargetNode: "1", TargetInput: "image", SourceNode: "2"}}, batch.Connections)
	require.Len(t, batch.NewNodes, 1)
	assert.Equal(t, []fixer.AutoConnect{{TargetNode: "2", TargetInput: "image", OutputIndex: 0}}, batch.NewNodes[0].AutoConnect)
	assertAcyclicAfter(t, g, batch)
}

func TestPlanConnections_NothingToDo(t *testing.T) {
	assert.True(t, plan(t, testutil.Graph(t, fixtures.TextToImage)).Empty())
}

func TestPlanRemovals(t *testing.T) {
	cat := testutil.Catalog(t)
	specs, err := cat.GetAll(context.Background())
	require.NoError(t, err)

	g := testutil.Graph(t, fixtures.TextToImage)
	g["8"] = &graph.Node{ClassType: "MysteryNode", Inputs: map[string]graph.Input{}}

	assert.Equal(t, []string{"8"}, PlanRemovals(g, []string{"7", "8"}, specs), "unknown classes go first")
	assert.Equal(t, []string{"7"}, PlanRemovals(g, []string{"5", "7"}, specs), "nodes with dependents stay")
	assert.Empty(t, PlanRemovals(g, []string{"99"}, specs))
}

func TestStructuralStrategy_RemovesUnknownNode(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	g := testutil.Graph(t, fixtures.TextToImage)
	g["8"] = &graph.Node{ClassType: "MysteryNode", Inputs: map[string]graph.Input{"image": graph.Link("6", 0)}}
	_, err := store.Save(ctx, "s1", g, nil, nil)
	require.NoError(t, err)

	s := NewStructuralStrategy(testutil.Catalog(t), fixer.New(store, nil))
	out, err := s.Repair(ctx, Input{SessionID: "s1", Graph: g, Classification: Classification{AffectedNodes: []string{"8"}}})
	require.NoError(t, err)
	assert.True(t, out.Changed)

	latest, err := store.GetLatest(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, latest.Has("8"))
	testutil.AssertNoDanglingEdges(t, latest)
}

func TestConnectionStrategy_Repair(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	g := testutil.Graph(t, fixtures.MissingModelLink)
	_, err := store.Save(ctx, "s1", g, nil, nil)
	require.NoError(t, err)

	var kinds []EventKind
	s := NewConnectionStrategy(testutil.Catalog(t), fixer.New(store, nil))
	out, err := s.Repair(ctx, Input{SessionID: "s1", Iteration: 1, Graph: g, Emit: func(ev Event) { kinds = append(kinds, ev.Kind) }})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, []EventKind{EventToolCall, EventAnalysis, EventToolCall, EventToolResult}, kinds)

	latest, err := store.GetLatest(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, latest["5"].Inputs["model"].Equal(graph.Link("1", 0)))
}
