package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/retry"
	"github.com/BaSui01/graphrepair/testutil"
	"github.com/BaSui01/graphrepair/testutil/fixtures"
)

const valueNotInList = `{
  "error": {"type": "prompt_outputs_failed_validation", "message": "Prompt outputs failed validation", "details": "", "extra_info": {}},
  "node_errors": {
    "5": {
      "errors": [{
        "type": "value_not_in_list",
        "message": "Value not in list",
        "details": "sampler_name: 'DPM++ 2M' not in ['euler', 'dpmpp_2m']",
        "extra_info": {"input_name": "sampler_name", "input_config": [["euler", "dpmpp_2m"], {}], "received_value": "DPM++ 2M"}
      }],
      "dependent_outputs": ["7"],
      "class_type": "KSampler"
    }
  }
}`

func TestHTTPGateway_Success(t *testing.T) {
	var got promptRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/prompt", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"prompt_id": "p-1", "number": 3, "node_errors": {}}`))
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL+"/", time.Second, nil)
	res, err := gw.Validate(context.Background(), testutil.Graph(t, fixtures.TextToImage), "corr-1")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "p-1", res.PromptID)
	assert.Equal(t, "corr-1", got.ClientID)
	assert.Len(t, got.Prompt, 7)
	assert.Equal(t, "success", res.Signature())
	assert.Contains(t, res.Text(), "validation successful")
}

func TestHTTPGateway_GeneratesCorrelationID(t *testing.T) {
	var clientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req promptRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		clientID = req.ClientID
		_, _ = w.Write([]byte(`{"prompt_id": "p"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, time.Second, nil).Validate(context.Background(), graph.Graph{}, "")
	require.NoError(t, err)
	assert.Len(t, clientID, 36)
}

func TestHTTPGateway_ValidationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(valueNotInList))
	}))
	defer srv.Close()

	res, err := NewHTTPGateway(srv.URL, time.Second, nil).Validate(context.Background(), testutil.Graph(t, fixtures.BadSampler), "c")
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "prompt_outputs_failed_validation", res.Error.Type)
	assert.Equal(t, []string{"5"}, res.NodeIDs())

	d := res.NodeErrors["5"].Errors[0]
	assert.Equal(t, "sampler_name", d.InputName())
	v, ok := d.ReceivedValue()
	assert.True(t, ok)
	assert.Equal(t, "DPM++ 2M", v)
	assert.Equal(t, []string{"euler", "dpmpp_2m"}, d.Options())
	assert.Equal(t, "KSampler", res.NodeErrors["5"].ClassType)
	assert.Contains(t, res.Text(), "value_not_in_list")
	assert.Equal(t, "prompt_outputs_failed_validation|5:value_not_in_list:sampler_name:Value not in list", res.Signature())
}

func TestHTTPGateway_UnparseableClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid prompt: missing output node", http.StatusBadRequest)
	}))
	defer srv.Close()

	res, err := NewHTTPGateway(srv.URL, time.Second, nil).Validate(context.Background(), graph.Graph{}, "c")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Text(), "missing output node")
}

func TestHTTPGateway_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, time.Second, nil).Validate(context.Background(), graph.Graph{}, "c")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransient(err))
}

func TestHTTPGateway_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTPGateway(srv.URL, 50*time.Millisecond, nil).Validate(context.Background(), graph.Graph{}, "c")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHTTPGateway_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPGateway(url, time.Second, nil).Validate(context.Background(), graph.Graph{}, "c")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPGateway_CallerCancellationIsNotTransient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPGateway("http://127.0.0.1:1", time.Second, nil).Validate(ctx, graph.Graph{}, "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

type outcomeRecorder struct{ outcomes []string }

func (r *outcomeRecorder) RecordGatewayRequest(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestHTTPGateway_RecordsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(valueNotInList))
	}))
	defer srv.Close()

	rec := &outcomeRecorder{}
	_, err := NewHTTPGateway(srv.URL, time.Second, nil, WithRecorder(rec)).Validate(context.Background(), graph.Graph{}, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"invalid"}, rec.outcomes)
}

// =============================================================================
// 🔁 重试装饰器
// =============================================================================

type stubGateway struct {
	calls atomic.Int32
	errs  []error
	res   *Result
}

func (s *stubGateway) Validate(ctx context.Context, g graph.Graph, id string) (*Result, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	return s.res, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetrying_RecoversFromTransientErrors(t *testing.T) {
	stub := &stubGateway{errs: []error{ErrTimeout, ErrUnavailable}, res: &Result{Success: true}}
	res, err := NewRetrying(stub, fastPolicy(), nil).Validate(context.Background(), graph.Graph{}, "c")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 3, stub.calls.Load())
}

func TestRetrying_ExhaustsAfterThreeAttempts(t *testing.T) {
	stub := &stubGateway{errs: []error{ErrTimeout, ErrTimeout, ErrTimeout, ErrTimeout}}
	_, err := NewRetrying(stub, fastPolicy(), nil).Validate(context.Background(), graph.Graph{}, "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.EqualValues(t, 3, stub.calls.Load())
}

func TestRetrying_DoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("encode prompt: boom")
	stub := &stubGateway{errs: []error{boom}}
	_, err := NewRetrying(stub, fastPolicy(), nil).Validate(context.Background(), graph.Graph{}, "c")
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, stub.calls.Load())
}

func TestRetrying_ValidationFailureIsNotRetried(t *testing.T) {
	stub := &stubGateway{res: &Result{Success: false, NodeErrors: map[string]NodeError{"3": {ClassType: "KSampler"}}}}
	res, err := NewRetrying(stub, fastPolicy(), nil).Validate(context.Background(), graph.Graph{}, "c")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.EqualValues(t, 1, stub.calls.Load())
}
