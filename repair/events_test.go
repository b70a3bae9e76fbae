package repair

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONOffset(t *testing.T) {
	data, err := json.Marshal(Event{Kind: EventState, Iteration: 1, Offset: 42})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, float64(42), fields["offset"])
	assert.NotContains(t, fields, "timestamp")
}
