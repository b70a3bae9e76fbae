package repair

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/gateway"
	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/testutil"
	"github.com/BaSui01/graphrepair/testutil/fixtures"
	"github.com/BaSui01/graphrepair/testutil/mocks"
	"github.com/BaSui01/graphrepair/types"
)

type runRecorder struct {
	mu         sync.Mutex
	runs       []string
	dispatches []string
	writes     []string
}

func (r *runRecorder) RecordRepairRun(status string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, status)
}

func (r *runRecorder) RecordStrategyDispatch(strategy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, strategy)
}

func (r *runRecorder) RecordCheckpointWrite(t string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, t)
}

func newOrchestrator(t *testing.T, store checkpoint.Store, gw gateway.Gateway, opts ...Option) *Orchestrator {
	t.Helper()
	return New(store, gw, testutil.Catalog(t), fixer.New(store, nil), DefaultConfig(), nil, opts...)
}

func drain(t *testing.T, ch <-chan Record) ([]Record, *Summary) {
	t.Helper()
	records := testutil.Collect(t, ch, 10*time.Second)
	require.NotEmpty(t, records)

	done := 0
	for _, r := range records {
		if r.Done {
			done++
		}
	}
	require.Equal(t, 1, done, "exactly one terminal record")

	last := records[len(records)-1]
	require.True(t, last.Done)
	require.NotNil(t, last.Summary)
	return records, last.Summary
}

func kindsOf(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func handoffs(events []Event) []HandoffPayload {
	var out []HandoffPayload
	for _, ev := range events {
		if p, ok := ev.Payload.(HandoffPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

func checkpointTypes(t *testing.T, store checkpoint.Store, session string) []checkpoint.Type {
	t.Helper()
	metas, err := store.List(context.Background(), session)
	require.NoError(t, err)
	out := make([]checkpoint.Type, len(metas))
	for i, m := range metas {
		out[i] = m.Type
	}
	return out
}

func TestRun_ValidOnFirstPass(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway()
	rec := &runRecorder{}
	o := newOrchestrator(t, store, gw, WithRecorder(rec))

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage)})
	require.NoError(t, err)
	records, summary := drain(t, ch)

	assert.Equal(t, StateSuccess, summary.Status)
	assert.Equal(t, 1, summary.Iterations)
	assert.NotZero(t, summary.CheckpointID)
	assert.Empty(t, summary.CheckpointError)
	assert.Equal(t, 1, gw.CallCount())

	assert.Equal(t, []EventKind{EventCheckpoint, EventState, EventValidation, EventState, EventCheckpoint}, kindsOf(summary.Events))
	assert.Equal(t, len(summary.Events), summary.TotalEvents)
	assert.Equal(t, EventDebugComplete, records[len(records)-1].Event.Kind)

	assert.Equal(t, []checkpoint.Type{checkpoint.TypeInitial, checkpoint.TypeDebugComplete}, checkpointTypes(t, store, "s1"))
	assert.Equal(t, []string{"success"}, rec.runs)
	assert.Empty(t, rec.dispatches)
	assert.Equal(t, []string{"initial", "debug_complete"}, rec.writes)

	_, busy := o.Locks().Holder("s1")
	assert.False(t, busy, "lease is released when the stream closes")
}

func TestRun_TextAndOffsetsGrow(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway().Then(mocks.MissingInput("5", "KSampler", "model"), mocks.Pass())
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.MissingModelLink)})
	require.NoError(t, err)
	records, summary := drain(t, ch)

	prev := ""
	for _, r := range records {
		assert.True(t, len(r.Text) >= len(prev) && r.Text[:len(prev)] == prev, "text only grows")
		require.NotNil(t, r.Event)
		assert.Equal(t, len(r.Text), r.Event.Offset)
		prev = r.Text
	}
	for i := 1; i < len(summary.Events); i++ {
		assert.GreaterOrEqual(t, summary.Events[i].Offset, summary.Events[i-1].Offset)
	}
	assert.Contains(t, prev, "Workflow validation successful.")
}

func TestRun_RepairsMissingConnection(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway().Then(mocks.MissingInput("5", "KSampler", "model"), mocks.Pass())
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.MissingModelLink)})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateSuccess, summary.Status)
	assert.Equal(t, 2, summary.Iterations)
	assert.Equal(t, StrategyConnection, summary.FinalStrategy)
	assert.Equal(t, []HandoffPayload{{To: StrategyConnection, Reason: string(ConnectionError)}}, handoffs(summary.Events))

	submitted := gw.LastGraph()
	require.NotNil(t, submitted)
	assert.True(t, submitted["5"].Inputs["model"].Equal(graph.Link("1", 0)))

	assert.Equal(t, []checkpoint.Type{
		checkpoint.TypeInitial, checkpoint.TypePreEdit, checkpoint.TypePostEdit, checkpoint.TypeDebugComplete,
	}, checkpointTypes(t, store, "s1"))
	assert.Contains(t, kindsOf(summary.Events), EventFixApplied)
}

func TestRun_RepairsParameter(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway().Then(
		mocks.ValueNotInList("5", "KSampler", "sampler_name", "DPM++ 2M", "euler", "dpmpp_2m"),
		mocks.Pass(),
	)
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.BadSampler)})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateSuccess, summary.Status)
	assert.Equal(t, StrategyParameter, summary.FinalStrategy)

	latest, err := store.GetLatest(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "dpmpp_2m", latest["5"].Inputs["sampler_name"].Value)
}

func TestRun_ExhaustsAtIterationBound(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway().Then(mocks.RawFailure("Exception: backend rejected the prompt"))
	rec := &runRecorder{}
	o := newOrchestrator(t, store, gw, WithRecorder(rec))

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage), MaxIterations: 5})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateExhausted, summary.Status)
	assert.Equal(t, 5, summary.Iterations)
	assert.Equal(t, 5, gw.CallCount(), "one validation per iteration")
	assert.Len(t, rec.dispatches, 4, "no dispatch after the last validation")

	written := checkpointTypes(t, store, "s1")
	assert.Equal(t, checkpoint.TypeDebugComplete, written[len(written)-1])
}

func TestRun_DefaultBoundIsThirty(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway().Then(mocks.RawFailure("Exception: boom"))
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage)})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateExhausted, summary.Status)
	assert.Equal(t, DefaultMaxIterations, gw.CallCount())
}

func TestRun_ReconfigureAppliesToNextRun(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway().Then(mocks.RawFailure("Exception: boom"))
	o := newOrchestrator(t, store, gw)

	o.Reconfigure(Config{MaxIterations: 4})
	assert.Equal(t, 4, o.Config().MaxIterations)
	assert.Equal(t, DefaultBufferSize, o.Config().BufferSize)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage)})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateExhausted, summary.Status)
	assert.Equal(t, 4, gw.CallCount())
}

func TestRun_EscalatesWhenSignatureRepeats(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	// 图本身完整，连接与参数修复都无法让同一错误消失
	gw := mocks.NewScriptedGateway().Then(mocks.MissingInput("5", "KSampler", "model"))
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage), MaxIterations: 5})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateExhausted, summary.Status)
	assert.Equal(t, []HandoffPayload{
		{To: StrategyConnection, Reason: string(ConnectionError)},
		{From: StrategyConnection, To: StrategyParameter, Reason: "no_progress"},
		{From: StrategyParameter, To: StrategyStructural, Reason: "no_progress"},
	}, handoffs(summary.Events))
	assert.Equal(t, StrategyStructural, summary.FinalStrategy)
}

func TestRun_ExternalActionEndsRun(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	g := testutil.Graph(t, fixtures.TextToImage)
	g["1"].Inputs["ckpt_name"] = graph.Literal("juggernaut_xl.safetensors")
	gw := mocks.NewScriptedGateway().Then(mocks.ValueNotInList("1", "CheckpointLoaderSimple", "ckpt_name", "juggernaut_xl.safetensors"))
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: g})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateExhausted, summary.Status)
	assert.Equal(t, 1, gw.CallCount())
	require.Len(t, summary.Actions, 1)
	assert.Equal(t, ActionDownloadRequired, summary.Actions[0].Kind)
	assert.Equal(t, "models/checkpoints", summary.Actions[0].Folder)
}

func TestRun_GatewayFailureIsFatal(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway().Then(mocks.Error(gateway.ErrUnavailable))
	rec := &runRecorder{}
	o := newOrchestrator(t, store, gw, WithRecorder(rec))

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage)})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateFatal, summary.Status)
	assert.Contains(t, summary.Error, gateway.ErrUnavailable.Error())
	assert.Equal(t, []checkpoint.Type{checkpoint.TypeInitial, checkpoint.TypeFatal}, checkpointTypes(t, store, "s1"))
	assert.Equal(t, []string{"fatal"}, rec.runs)
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	store := mocks.NewFailingStore(checkpoint.NewMemoryStore(), 1)
	gw := mocks.NewScriptedGateway().Then(mocks.MissingInput("5", "KSampler", "model"), mocks.Pass())
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.MissingModelLink)})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateFatal, summary.Status)
	assert.Contains(t, summary.Error, "checkpoint store unavailable")
	assert.Zero(t, summary.CheckpointID)
	assert.NotEmpty(t, summary.CheckpointError)
	assert.Equal(t, 1, gw.CallCount())
}

func TestRun_NoWorkflowIsFatal(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	gw := mocks.NewScriptedGateway()
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "empty"})
	require.NoError(t, err)
	_, summary := drain(t, ch)

	assert.Equal(t, StateFatal, summary.Status)
	assert.Contains(t, summary.Error, "no workflow data")
	assert.NotEmpty(t, summary.CheckpointError)
	assert.Zero(t, gw.CallCount())
}

func TestRun_ResumesLatestAndRestoresCheckpoint(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := checkpoint.NewMemoryStore()
	source, err := store.Save(ctx, "origin", testutil.Graph(t, fixtures.BadSampler), nil, nil)
	require.NoError(t, err)
	_, err = store.Save(ctx, "resume", testutil.Graph(t, fixtures.TextToImage), nil, nil)
	require.NoError(t, err)

	o := newOrchestrator(t, store, mocks.NewScriptedGateway())

	ch, err := o.Run(ctx, Request{SessionID: "resume"})
	require.NoError(t, err)
	_, summary := drain(t, ch)
	assert.Equal(t, StateSuccess, summary.Status)
	assert.Equal(t, []checkpoint.Type{checkpoint.TypeInitial, checkpoint.TypeDebugComplete}, checkpointTypes(t, store, "resume"))

	ch, err = o.Run(ctx, Request{SessionID: "restored", CheckpointID: source})
	require.NoError(t, err)
	_, summary = drain(t, ch)
	assert.Equal(t, StateSuccess, summary.Status)

	cp, err := store.GetLatestCheckpoint(ctx, "restored")
	require.NoError(t, err)
	assert.Equal(t, "DPM++ 2M", cp.Graph["5"].Inputs["sampler_name"].Value)

	metas, err := store.List(ctx, "restored")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Contains(t, metas[0].Description, "Restored from checkpoint")
}

func TestRun_CancellationWritesFatalCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := mocks.NewScriptedGateway().
		Then(mocks.Step{Result: &gateway.Result{Success: true}, Delay: time.Hour}).
		OnCall(func(int, graph.Graph) { cancel() })
	o := newOrchestrator(t, store, gw)

	ch, err := o.Run(ctx, Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage)})
	require.NoError(t, err)
	testutil.Collect(t, ch, 10*time.Second)

	written := checkpointTypes(t, store, "s1")
	require.NotEmpty(t, written)
	assert.Equal(t, checkpoint.TypeFatal, written[len(written)-1])

	_, busy := o.Locks().Holder("s1")
	assert.False(t, busy)
}

func TestRun_SessionBusy(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	var once sync.Once
	gw := mocks.NewScriptedGateway().
		Then(mocks.Step{Result: &gateway.Result{Success: true}, Delay: time.Hour}).
		OnCall(func(int, graph.Graph) { once.Do(func() { close(started) }) })
	o := newOrchestrator(t, store, gw)

	first, err := o.Run(ctx, Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage)})
	require.NoError(t, err)

	go func() {
		for range first {
		}
	}()
	_, ok := testutil.WaitForChannel(started, 5*time.Second)
	require.True(t, ok)

	_, err = o.Run(context.Background(), Request{SessionID: "s1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionBusy))
	assert.True(t, types.IsErrorCode(err, types.ErrSessionBusy))

	cancel()
	testutil.AssertEventuallyTrue(t, func() bool {
		_, held := o.Locks().Holder("s1")
		return !held
	}, 5*time.Second)
}

func TestRun_InvalidRequest(t *testing.T) {
	o := newOrchestrator(t, checkpoint.NewMemoryStore(), mocks.NewScriptedGateway())

	_, err := o.Run(context.Background(), Request{SessionID: "  "})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = o.Run(context.Background(), Request{SessionID: "s1", MaxIterations: -1})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestRun_NarratorFailureIsNotFatal(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	failing := NarratorFunc(func(context.Context, Event) (string, error) {
		return "", errors.New("narrator offline")
	})
	o := newOrchestrator(t, store, mocks.NewScriptedGateway(), WithNarrator(failing))

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Graph: testutil.Graph(t, fixtures.TextToImage)})
	require.NoError(t, err)
	records, summary := drain(t, ch)

	assert.Equal(t, StateSuccess, summary.Status)
	assert.Empty(t, records[len(records)-1].Text)
}

func TestRun_LocaleReachesNarrator(t *testing.T) {
	o := newOrchestrator(t, checkpoint.NewMemoryStore(), mocks.NewScriptedGateway())

	ch, err := o.Run(testutil.TestContext(t), Request{SessionID: "s1", Locale: "zh", Graph: testutil.Graph(t, fixtures.TextToImage)})
	require.NoError(t, err)
	records, _ := drain(t, ch)

	assert.Contains(t, records[len(records)-1].Text, "工作流校验通过")
}
