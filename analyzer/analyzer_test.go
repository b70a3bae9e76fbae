package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/testutil"
	"github.com/BaSui01/graphrepair/testutil/fixtures"
)

func tinyCatalog() *catalog.StaticCatalog {
	return catalog.NewStatic(
		&catalog.NodeTypeSpec{Name: "typeX", Outputs: []catalog.TypeConstraint{{"MODEL"}}},
		&catalog.NodeTypeSpec{Name: "typeY", Required: []catalog.InputSpec{
			{Name: "model", Types: catalog.TypeConstraint{"MODEL"}},
		}},
		&catalog.NodeTypeSpec{Name: "Any", Outputs: []catalog.TypeConstraint{{"*"}}},
		&catalog.NodeTypeSpec{Name: "Sink", Required: []catalog.InputSpec{
			{Name: "anything", Types: catalog.TypeConstraint{"*"}},
		}},
	)
}

func TestAnalyze_SingleMissingModel(t *testing.T) {
	g := graph.Graph{
		"A": {ClassType: "typeX", Inputs: map[string]graph.Input{}},
		"B": {ClassType: "typeY", Inputs: map[string]graph.Input{}},
	}

	res, err := Analyze(context.Background(), g, tinyCatalog())
	require.NoError(t, err)

	require.Len(t, res.MissingConnections, 1)
	assert.Equal(t, "B", res.MissingConnections[0].NodeID)
	assert.Equal(t, "model", res.MissingConnections[0].InputName)
	assert.Equal(t, 1, res.MissingConnections[0].Candidates)

	require.Len(t, res.PossibleConnections, 1)
	c := res.PossibleConnections[0]
	assert.Equal(t, "A", c.SourceNode)
	assert.Equal(t, 0, c.SourceOutputIndex)
	assert.Equal(t, High, c.Confidence)
	assert.Equal(t, catalog.TypeConstraint{"MODEL"}, c.ProvidedType)

	assert.Equal(t, Summary{TotalMissing: 1, AutoFixable: 1}, res.Summary)
}

func TestAnalyze_ConfidenceOrdering(t *testing.T) {
	g := graph.Graph{
		"1": {ClassType: "Any", Inputs: map[string]graph.Input{}},
		"2": {ClassType: "typeX", Inputs: map[string]graph.Input{}},
		"3": {ClassType: "typeY", Inputs: map[string]graph.Input{}},
	}

	res, err := Analyze(context.Background(), g, tinyCatalog())
	require.NoError(t, err)

	cands := res.CandidatesFor("3", "model")
	require.Len(t, cands, 2)
	assert.Equal(t, "1", cands[0].SourceNode)
	assert.Equal(t, Medium, cands[0].Confidence)
	assert.Equal(t, "2", cands[1].SourceNode)
	assert.Equal(t, High, cands[1].Confidence)

	best := BestCandidates(res)
	require.Len(t, best, 1)
	assert.Equal(t, "2", best[0].SourceNode)
}

func TestAnalyze_WildcardInputIsUniversal(t *testing.T) {
	g := graph.Graph{
		"1": {ClassType: "typeX", Inputs: map[string]graph.Input{}},
		"2": {ClassType: "Sink", Inputs: map[string]graph.Input{}},
	}

	res, err := Analyze(context.Background(), g, tinyCatalog())
	require.NoError(t, err)

	require.Len(t, res.UniversalInputs, 1)
	assert.Equal(t, "2", res.UniversalInputs[0].NodeID)
	assert.True(t, res.UniversalInputs[0].Universal)
	assert.Empty(t, res.PossibleConnections)
	assert.Empty(t, res.RequiredNewNodeSuggestions)
	assert.Equal(t, 1, res.Summary.UniversalInputsCount)
	assert.Equal(t, 1, res.Summary.AutoFixable)
	assert.Equal(t, 1, res.Summary.TotalMissing)
}

func TestAnalyze_NoSelfLoops(t *testing.T) {
	cat := catalog.NewStatic(&catalog.NodeTypeSpec{
		Name:     "Loop",
		Required: []catalog.InputSpec{{Name: "in", Types: catalog.TypeConstraint{"LATENT"}}},
		Outputs:  []catalog.TypeConstraint{{"LATENT"}},
	})
	g := graph.Graph{"1": {ClassType: "Loop", Inputs: map[string]graph.Input{}}}

	res, err := Analyze(context.Background(), g, cat)
	require.NoError(t, err)

	assert.Empty(t, res.PossibleConnections)
	require.Len(t, res.RequiredNewNodeSuggestions, 1)
	for _, c := range res.PossibleConnections {
		assert.NotEqual(t, c.TargetNode, c.SourceNode)
	}
}

func TestAnalyze_TextToImageFixtures(t *testing.T) {
	cat := testutil.Catalog(t)
	ctx := context.Background()

	complete, err := Analyze(ctx, testutil.Graph(t, fixtures.TextToImage), cat)
	require.NoError(t, err)
	assert.False(t, complete.HasMissing())

	res, err := Analyze(ctx, testutil.Graph(t, fixtures.MissingModelLink), cat)
	require.NoError(t, err)
	require.Len(t, res.MissingConnections, 1)
	assert.Equal(t, "5", res.MissingConnections[0].NodeID)

	cands := res.CandidatesFor("5", "model")
	require.Len(t, cands, 1)
	assert.Equal(t, "1", cands[0].SourceNode)
	assert.Equal(t, 0, cands[0].SourceOutputIndex)
	assert.Equal(t, "MODEL", cands[0].OutputName)
}

func TestAnalyze_NewNodeSuggestions(t *testing.T) {
	cat := testutil.Catalog(t)
	g := testutil.Graph(t, `{
		"1": {"class_type": "VAEDecode", "inputs": {}},
		"2": {"class_type": "SaveImage", "inputs": {"images": ["1", 0], "filename_prefix": "x"}}
	}`)

	res, err := Analyze(context.Background(), g, cat)
	require.NoError(t, err)

	require.Len(t, res.RequiredNewNodeSuggestions, 2)
	samples := res.RequiredNewNodeSuggestions[0]
	assert.Equal(t, "samples", samples.TargetInput)
	require.NotEmpty(t, samples.Suggestions)
	assert.Equal(t, "EmptyLatentImage", samples.Suggestions[0].ClassType)
	assert.Equal(t, High, samples.Suggestions[0].Confidence)

	vae := res.RequiredNewNodeSuggestions[1]
	assert.Equal(t, "vae", vae.TargetInput)
	var classes []string
	for _, s := range vae.Suggestions {
		classes = append(classes, s.ClassType)
	}
	assert.Equal(t, []string{"CheckpointLoaderSimple", "VAELoader"}, classes)
	assert.Equal(t, 2, vae.Suggestions[0].OutputIndex)

	assert.Equal(t, 2, res.Summary.RequiresNewNodes)
	assert.Equal(t, 0, res.Summary.AutoFixable)
}

func TestAnalyze_OptionalAndUnknown(t *testing.T) {
	cat := testutil.Catalog(t)
	g := testutil.Graph(t, `{
		"1": {"class_type": "LoadImage", "inputs": {"image": "example.png"}},
		"2": {"class_type": "ImageCompositeMasked", "inputs": {"destination": ["1", 0], "source": ["1", 0], "x": 0, "y": 0}},
		"3": {"class_type": "MysteryNode", "inputs": {}}
	}`)

	res, err := Analyze(context.Background(), g, cat)
	require.NoError(t, err)

	assert.Empty(t, res.MissingConnections)
	require.Len(t, res.OptionalUnconnectedInputs, 1)
	assert.Equal(t, "mask", res.OptionalUnconnectedInputs[0].InputName)
	assert.Equal(t, 1, res.Summary.OptionalUnconnectedCount)
	assert.Equal(t, 0, res.Summary.AutoFixable)

	require.Len(t, res.UnknownNodes, 1)
	assert.Equal(t, "MysteryNode", res.UnknownNodes[0].ClassType)
}

func TestAnalyze_CatalogFailure(t *testing.T) {
	_, err := Analyze(context.Background(), graph.Graph{}, failingCatalog{})
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
}

func TestSuggestNodeTypes_CatalogScanFallback(t *testing.T) {
	specs := map[string]*catalog.NodeTypeSpec{
		"UpscaleModelLoader": {Name: "UpscaleModelLoader", Outputs: []catalog.TypeConstraint{{"UPSCALE_MODEL"}}},
		"AUpscaleLoader":     {Name: "AUpscaleLoader", Outputs: []catalog.TypeConstraint{{"IMAGE"}, {"UPSCALE_MODEL"}}},
		"Other":              {Name: "Other", Outputs: []catalog.TypeConstraint{{"IMAGE"}}},
	}

	got := SuggestNodeTypes(catalog.TypeConstraint{"UPSCALE_MODEL"}, specs)
	require.Len(t, got, 2)
	assert.Equal(t, "AUpscaleLoader", got[0].ClassType)
	assert.Equal(t, 1, got[0].OutputIndex)
	assert.Equal(t, Medium, got[0].Confidence)
	assert.Equal(t, "UpscaleModelLoader", got[1].ClassType)

	assert.Empty(t, SuggestNodeTypes(catalog.TypeConstraint{"NOTHING"}, specs))
}

type failingCatalog struct{}

func (failingCatalog) GetAll(ctx context.Context) (map[string]*catalog.NodeTypeSpec, error) {
	return nil, errors.Join(catalog.ErrUnavailable, errors.New("connection refused"))
}

func (failingCatalog) GetOne(ctx context.Context, name string) (*catalog.NodeTypeSpec, error) {
	return nil, catalog.ErrUnavailable
}
