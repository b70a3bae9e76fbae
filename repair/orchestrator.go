package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/catalog"
	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/gateway"
	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/internal/ctxkeys"
	"github.com/BaSui01/graphrepair/types"
)

// Defaults of Config.
const (
	DefaultMaxIterations          = 30
	DefaultBufferSize             = 16
	DefaultFinalCheckpointTimeout = 10 * time.Second
)

// Config bounds a repair run.
type Config struct {
	// MaxIterations is the number of gateway validations a run may perform.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// BufferSize is the capacity of the record channel returned by Run.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// FinalCheckpointTimeout bounds the terminal checkpoint write, which is
	// attempted even after the caller cancelled.
	FinalCheckpointTimeout time.Duration `yaml:"final_checkpoint_timeout" json:"final_checkpoint_timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:          DefaultMaxIterations,
		BufferSize:             DefaultBufferSize,
		FinalCheckpointTimeout: DefaultFinalCheckpointTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.FinalCheckpointTimeout <= 0 {
		c.FinalCheckpointTimeout = DefaultFinalCheckpointTimeout
	}
	return c
}

// Recorder receives run level metrics.
type Recorder interface {
	RecordRepairRun(status string, iterations int)
	RecordStrategyDispatch(strategy string)
	RecordCheckpointWrite(checkpointType string)
}

// Request starts a run. When Graph is set it is saved as the session's
// initial checkpoint; otherwise CheckpointID (if non-zero) is restored as the
// new head; otherwise the session's latest checkpoint is repaired.
type Request struct {
	SessionID     string          `json:"session_id" validate:"required,max=128"`
	CheckpointID  uint64          `json:"checkpoint_id,omitempty"`
	Graph         graph.Graph     `json:"workflow,omitempty"`
	Mirror        json.RawMessage `json:"mirror,omitempty"`
	Locale        string          `json:"locale,omitempty" validate:"omitempty,oneof=en zh"`
	MaxIterations int             `json:"max_iterations,omitempty" validate:"omitempty,min=1,max=100"`
}

// Orchestrator drives the validate, classify, dispatch loop.
type Orchestrator struct {
	store      checkpoint.Store
	gateway    gateway.Gateway
	strategies map[StrategyKind]Strategy
	narrator   Narrator
	locks      *SessionLocks
	cfgMu      sync.RWMutex
	cfg        Config
	logger     *zap.Logger
	recorder   Recorder
	tracer     trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNarrator replaces the template narrator.
func WithNarrator(n Narrator) Option {
	return func(o *Orchestrator) { o.narrator = n }
}

// WithRecorder reports run metrics.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithSessionLocks shares a lease table between orchestrators.
func WithSessionLocks(l *SessionLocks) Option {
	return func(o *Orchestrator) { o.locks = l }
}

// WithStrategy overrides the strategy registered for s.Kind().
func WithStrategy(s Strategy) Option {
	return func(o *Orchestrator) { o.strategies[s.Kind()] = s }
}

// New wires an orchestrator with the three built-in strategies.
func New(store checkpoint.Store, gw gateway.Gateway, cat catalog.TypeCatalog, applier *fixer.Applier, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:   store,
		gateway: gw,
		strategies: map[StrategyKind]Strategy{
			StrategyConnection: NewConnectionStrategy(cat, applier),
			StrategyParameter:  NewParameterStrategy(cat, applier),
			StrategyStructural: NewStructuralStrategy(cat, applier),
		},
		narrator: TemplateNarrator{},
		locks:    NewSessionLocks(),
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "repair")),
		tracer:   otel.Tracer("graphrepair/repair"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the bounds applied to new runs.
func (o *Orchestrator) Config() Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// Reconfigure replaces the bounds for runs started afterwards. Runs already in
// flight keep the configuration they started with.
func (o *Orchestrator) Reconfigure(cfg Config) {
	o.cfgMu.Lock()
	o.cfg = cfg.withDefaults()
	o.cfgMu.Unlock()
	o.logger.Info("repair config updated",
		zap.Int("max_iterations", cfg.MaxIterations),
		zap.Int("buffer_size", cfg.BufferSize),
		zap.Duration("final_checkpoint_timeout", cfg.FinalCheckpointTimeout),
	)
}

// Locks exposes the lease table.
func (o *Orchestrator) Locks() *SessionLocks { return o.locks }

// Run starts a repair run and returns its record stream. The stream ends with
// exactly one record whose Done is true, then closes. Cancelling ctx ends the
// run as fatal; the terminal checkpoint is still attempted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (<-chan Record, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session_id is required")
	}
	if req.MaxIterations < 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "max_iterations must be positive")
	}

	runID := uuid.NewString()
	release, err := o.locks.Acquire(req.SessionID, runID)
	if err != nil {
		return nil, types.NewError(types.ErrSessionBusy, err.Error()).WithCause(err)
	}

	ctx = ctxkeys.WithRunID(ctx, runID)
	ctx = ctxkeys.WithSessionID(ctx, req.SessionID)
	if req.Locale != "" {
		ctx = ctxkeys.WithLocale(ctx, req.Locale)
	}

	cfg := o.Config()
	maxIter := cfg.MaxIterations
	if req.MaxIterations > 0 {
		maxIter = req.MaxIterations
	}

	out := make(chan Record, cfg.BufferSize)
	r := &run{
		o:       o,
		ctx:     ctx,
		req:     req,
		runID:   runID,
		cfg:     cfg,
		maxIter: maxIter,
		out:     out,
		started: time.Now(),
		logger: o.logger.With(
			zap.String("run_id", runID),
			zap.String("session_id", req.SessionID),
		),
	}

	go func() {
		defer close(out)
		defer release()
		r.execute()
	}()
	return out, nil
}

// run is the state of one repair run. It is owned by a single goroutine.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	req     Request
	runID   string
	cfg     Config
	maxIter int
	out     chan<- Record
	started time.Time
	logger  *zap.Logger
	span    trace.Span

	text      strings.Builder
	events    []Event
	state     State
	iteration int
	active    StrategyKind
	actions   []ExternalAction
	detached  bool
}

func (r *run) execute() {
	ctx, span := r.o.tracer.Start(r.ctx, "repair.run",
		trace.WithAttributes(
			attribute.String("repair.run_id", r.runID),
			attribute.String("repair.session_id", r.req.SessionID),
			attribute.Int("repair.max_iterations", r.maxIter),
		),
	)
	defer span.End()
	r.ctx = ctx
	r.span = span

	r.logger.Info("repair run started", zap.Int("max_iterations", r.maxIter))
	status, err := r.loop()
	r.finish(status, err)
}

// loop returns the terminal state. Every error it returns is fatal.
func (r *run) loop() (State, error) {
	if err := r.prepare(); err != nil {
		return StateFatal, err
	}

	var (
		lastSignature string
		lastStrategy  StrategyKind
		stalled       bool
	)
	for r.iteration < r.maxIter {
		if err := r.ctx.Err(); err != nil {
			return StateFatal, err
		}
		r.iteration++
		r.transition(StateValidate)

		g, err := r.o.store.GetLatest(r.ctx, r.req.SessionID)
		if err != nil {
			return StateFatal, fmt.Errorf("load current workflow: %w", err)
		}
		verdict, err := r.o.gateway.Validate(r.ctx, g, r.runID)
		if err != nil {
			return StateFatal, fmt.Errorf("validate workflow: %w", err)
		}

		signature := verdict.Signature()
		class := Classify(verdict)
		r.emit(Event{Kind: EventValidation, Strategy: r.active, Payload: ValidationPayload{
			Success:        verdict.Success,
			Signature:      signature,
			Classification: class,
		}})
		if verdict.Success {
			return StateSuccess, nil
		}
		if r.iteration >= r.maxIter {
			break
		}

		r.transition(StateClassify)
		next, reason := StrategyFor(class.Category), string(class.Category)
		if lastStrategy != "" && (signature == lastSignature || stalled) {
			next, reason = lastStrategy.Next(), "no_progress"
		}
		if next != r.active {
			r.emit(Event{Kind: EventStrategyHandoff, Strategy: next, Payload: HandoffPayload{From: r.active, To: next, Reason: reason}})
			r.span.AddEvent("strategy_handoff", trace.WithAttributes(
				attribute.String("repair.from", string(r.active)),
				attribute.String("repair.to", string(next)),
			))
			r.active = next
		}

		r.transition(StateDispatch)
		outcome, err := r.dispatch(g, verdict, class)
		if err != nil {
			return StateFatal, err
		}
		r.actions = append(r.actions, outcome.Actions...)
		if !outcome.Changed && len(outcome.Actions) > 0 {
			return StateExhausted, nil
		}

		stalled = !outcome.Changed
		lastSignature, lastStrategy = signature, next
	}
	return StateExhausted, nil
}

// prepare establishes the session's head checkpoint.
func (r *run) prepare() error {
	sid := r.req.SessionID
	switch {
	case len(r.req.Graph) > 0:
		id, err := r.o.store.Save(r.ctx, sid, r.req.Graph, r.req.Mirror, checkpoint.Attributes{
			checkpoint.AttrCheckpointType: string(checkpoint.TypeInitial),
			checkpoint.AttrDescription:    "Initial workflow save for debugging",
			"action":                      "debug_start",
			"run_id":                      r.runID,
		})
		if err != nil {
			return fmt.Errorf("save initial workflow: %w", err)
		}
		r.checkpointSaved(id, checkpoint.TypeInitial)

	case r.req.CheckpointID != 0:
		cp, err := r.o.store.GetByID(r.ctx, r.req.CheckpointID)
		if err != nil {
			return fmt.Errorf("load checkpoint %d: %w", r.req.CheckpointID, err)
		}
		id, err := r.o.store.Save(r.ctx, sid, cp.Graph, cp.Mirror, checkpoint.Attributes{
			checkpoint.AttrCheckpointType: string(checkpoint.TypeInitial),
			checkpoint.AttrDescription:    fmt.Sprintf("Restored from checkpoint %d", cp.ID),
			"action":                      "restore",
			"restored_from":               cp.ID,
			"run_id":                      r.runID,
		})
		if err != nil {
			return fmt.Errorf("restore checkpoint %d: %w", cp.ID, err)
		}
		r.checkpointSaved(id, checkpoint.TypeInitial)

	default:
		if _, err := r.o.store.GetLatest(r.ctx, sid); err != nil {
			return fmt.Errorf("no workflow data for session %s: %w", sid, err)
		}
	}
	return nil
}

func (r *run) dispatch(g graph.Graph, verdict *gateway.Result, class Classification) (*Outcome, error) {
	strategy, ok := r.o.strategies[r.active]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for %s", r.active)
	}
	if r.o.recorder != nil {
		r.o.recorder.RecordStrategyDispatch(string(r.active))
	}

	outcome, err := strategy.Repair(r.ctx, Input{
		SessionID:      r.req.SessionID,
		Iteration:      r.iteration,
		Graph:          g,
		Verdict:        verdict,
		Classification: class,
		Emit:           r.emit,
	})
	if err != nil {
		return nil, fmt.Errorf("%s repair: %w", r.active, err)
	}

	if outcome.Changed || len(outcome.Failed) > 0 {
		r.emit(Event{Kind: EventFixApplied, Strategy: r.active, Payload: FixPayload{
			VersionID: outcome.VersionID,
			Applied:   outcome.Applied,
			Failed:    outcome.Failed,
		}})
	}
	if outcome.VersionID != 0 {
		r.checkpointSaved(outcome.VersionID, checkpoint.TypePostEdit)
	}
	if outcome.Message != "" {
		r.emit(Event{Kind: EventMessageComplete, Strategy: r.active, Payload: MessagePayload{Message: outcome.Message}})
	}
	r.logger.Debug("strategy dispatched",
		zap.String("strategy", string(r.active)),
		zap.Int("iteration", r.iteration),
		zap.Bool("changed", outcome.Changed),
		zap.Int("applied", len(outcome.Applied)),
		zap.Int("failed", len(outcome.Failed)),
		zap.Int("actions", len(outcome.Actions)),
	)
	return outcome, nil
}

func (r *run) finish(status State, cause error) {
	r.transition(status)

	summary := &Summary{
		Status:        status,
		RunID:         r.runID,
		SessionID:     r.req.SessionID,
		FinalStrategy: r.active,
		Iterations:    r.iteration,
		Actions:       r.actions,
	}
	if cause != nil {
		summary.Error = cause.Error()
		r.span.RecordError(cause)
		r.span.SetStatus(codes.Error, cause.Error())
	}

	id, err := r.saveFinal(status, cause)
	if err != nil {
		summary.CheckpointError = err.Error()
		r.logger.Error("final checkpoint failed", zap.Error(err))
	} else {
		summary.CheckpointID = id
		r.checkpointSaved(id, finalType(status))
	}

	summary.Events = append([]Event(nil), r.events...)
	summary.TotalEvents = len(summary.Events)
	summary.Duration = time.Since(r.started)

	ev := Event{Kind: EventDebugComplete, Iteration: r.iteration, Strategy: r.active, Payload: summary}
	r.narrate(&ev)

	if r.o.recorder != nil {
		r.o.recorder.RecordRepairRun(string(status), r.iteration)
	}
	r.span.SetAttributes(
		attribute.String("repair.status", string(status)),
		attribute.Int("repair.iterations", r.iteration),
	)
	r.logger.Info("repair run finished",
		zap.String("status", string(status)),
		zap.Int("iterations", r.iteration),
		zap.String("final_strategy", string(r.active)),
		zap.Uint64("checkpoint_id", summary.CheckpointID),
		zap.Duration("duration", summary.Duration),
		zap.Error(cause),
	)

	final := Record{Text: r.text.String(), Event: &ev, Done: true, Summary: summary}
	select {
	case r.out <- final:
		return
	default:
	}
	if r.detached {
		return
	}
	select {
	case r.out <- final:
	case <-r.ctx.Done():
	}
}

// saveFinal writes the terminal checkpoint of the latest graph. It uses a
// context detached from cancellation so cancelled runs are still recorded.
func (r *run) saveFinal(status State, cause error) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.cfg.FinalCheckpointTimeout)
	defer cancel()

	sid := r.req.SessionID
	var (
		g      graph.Graph
		mirror json.RawMessage
	)
	cp, err := r.o.store.GetLatestCheckpoint(ctx, sid)
	switch {
	case err == nil:
		g, mirror = cp.Graph, cp.Mirror
	case errors.Is(err, checkpoint.ErrNotFound) && len(r.req.Graph) > 0:
		g, mirror = r.req.Graph, r.req.Mirror
	default:
		return 0, fmt.Errorf("load workflow for final checkpoint: %w", err)
	}

	t := finalType(status)
	description := "Workflow state after debug completion"
	if t == checkpoint.TypeFatal {
		description = "Workflow state after fatal error"
	}
	attrs := checkpoint.Attributes{
		checkpoint.AttrCheckpointType: string(t),
		checkpoint.AttrDescription:    description,
		"action":                      "debug_complete",
		"status":                      string(status),
		"final_strategy":              string(r.active),
		"iterations":                  r.iteration,
		"run_id":                      r.runID,
	}
	if cause != nil {
		attrs["error"] = cause.Error()
	}
	id, err := r.o.store.Save(ctx, sid, g, mirror, attrs)
	if err != nil {
		return 0, fmt.Errorf("save final checkpoint: %w", err)
	}
	return id, nil
}

func finalType(status State) checkpoint.Type {
	if status == StateFatal {
		return checkpoint.TypeFatal
	}
	return checkpoint.TypeDebugComplete
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.emit(Event{Kind: EventState, Strategy: r.active, Payload: StatePayload{From: from, To: to}})
}

func (r *run) checkpointSaved(id uint64, t checkpoint.Type) {
	if r.o.recorder != nil {
		r.o.recorder.RecordCheckpointWrite(string(t))
	}
	r.emit(Event{Kind: EventCheckpoint, Strategy: r.active, Payload: CheckpointPayload{CheckpointID: id, CheckpointType: string(t)}})
}

// emit narrates ev, records it and forwards it to the consumer. Once the
// consumer has gone away records are only kept for the summary.
func (r *run) emit(ev Event) {
	if ev.Iteration == 0 {
		ev.Iteration = r.iteration
	}
	r.narrate(&ev)
	r.events = append(r.events, ev)

	if r.detached {
		return
	}
	rec := Record{Text: r.text.String(), Event: &ev}
	select {
	case r.out <- rec:
		return
	default:
	}
	select {
	case r.out <- rec:
	case <-r.ctx.Done():
		r.detached = true
	}
}

func (r *run) narrate(ev *Event) {
	delta, err := r.o.narrator.Narrate(r.ctx, *ev)
	if err != nil {
		r.logger.Warn("narration failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
	r.text.WriteString(delta)
	ev.Offset = r.text.Len()
}
