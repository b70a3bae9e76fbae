package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/graphrepair/gateway"
	"github.com/BaSui01/graphrepair/testutil/mocks"
)

func TestClassify_Success(t *testing.T) {
	c := Classify(&gateway.Result{Success: true})
	assert.Equal(t, NoError, c.Category)
	assert.Empty(t, c.AffectedNodes)

	assert.Equal(t, NoError, Classify(nil).Category)
}

func TestClassify_StructuredDiagnostics(t *testing.T) {
	tests := []struct {
		name     string
		step     mocks.Step
		category Category
		nodes    []string
	}{
		{
			name:     "missing required input",
			step:     mocks.MissingInput("5", "KSampler", "model"),
			category: ConnectionError,
			nodes:    []string{"5"},
		},
		{
			name:     "value not in list",
			step:     mocks.ValueNotInList("5", "KSampler", "sampler_name", "DPM++ 2M", "euler"),
			category: ParameterError,
			nodes:    []string{"5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.step.Result)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.nodes, c.AffectedNodes)
		})
	}
}

func TestClassify_RawText(t *testing.T) {
	c := Classify(mocks.RawFailure(`Exception while validating node "12": out of memory`).Result)
	assert.Equal(t, StructuralError, c.Category)

	c = Classify(mocks.RawFailure("???").Result)
	assert.Equal(t, StructuralError, c.Category, "a failed verdict without signals is structural")
}

func TestClassifyText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category Category
		mixed    bool
	}{
		{"success marker", `{"success": true}`, NoError, false},
		{"connection", "Required input is missing: model", ConnectionError, false},
		{"parameter", "Value not in list: sampler_name", ParameterError, false},
		{"mixed prefers connection", "required input missing; value not in list", ConnectionError, true},
		{"general", "Something failed", StructuralError, false},
		{"nothing", "all quiet", NoError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyText(tt.text)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.mixed, c.Mixed)
		})
	}
}

func TestClassifyText_ExtractsNodeIDs(t *testing.T) {
	c := ClassifyText(`{"12": {"errors": ["failed"]}, '3': {}, "12": {}}`)
	assert.Equal(t, []string{"3", "12"}, c.AffectedNodes)
}

func TestClassify_MergesReportedNodes(t *testing.T) {
	res := mocks.MissingInput("7", "SaveImage", "images").Result
	res.NodeErrors["10"] = gateway.NodeError{ClassType: "VAEDecode", Errors: []gateway.Diagnostic{{Type: "required_input_missing", Message: "Required input is missing"}}}

	c := Classify(res)
	assert.Equal(t, ConnectionError, c.Category)
	assert.Equal(t, []string{"7", "10"}, c.AffectedNodes)
	assert.Positive(t, c.ConnectionSignals)
}
