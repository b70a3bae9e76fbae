package repair

import (
	"time"

	"github.com/BaSui01/graphrepair/fixer"
)

// EventKind labels a structured progress event.
type EventKind string

const (
	EventState           EventKind = "state"
	EventStrategyHandoff EventKind = "strategy_handoff"
	EventToolCall        EventKind = "tool_call"
	EventToolResult      EventKind = "tool_result"
	EventAnalysis        EventKind = "analysis"
	EventFixApplied      EventKind = "fix_applied"
	EventExternalAction  EventKind = "external_action"
	EventCheckpoint      EventKind = "checkpoint"
	EventValidation      EventKind = "validation"
	EventMessageComplete EventKind = "message_complete"
	EventDebugComplete   EventKind = "debug_complete"
)

// State is a node of the repair state machine.
type State string

const (
	StateValidate  State = "validate"
	StateClassify  State = "classify"
	StateDispatch  State = "dispatch"
	StateSuccess   State = "success"
	StateExhausted State = "exhausted"
	StateFatal     State = "fatal"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateExhausted || s == StateFatal
}

// Event is one structured progress event. Offset is the length of the
// accumulated text when the event was produced.
type Event struct {
	Kind      EventKind    `json:"kind"`
	Iteration int          `json:"iteration"`
	Strategy  StrategyKind `json:"strategy,omitempty"`
	Offset    int          `json:"offset"`
	Payload   any          `json:"payload,omitempty"`
}

// Record is one element of the stream returned by Run.
type Record struct {
	Text    string   `json:"text"`
	Event   *Event   `json:"event,omitempty"`
	Done    bool     `json:"done"`
	Summary *Summary `json:"summary,omitempty"`
}

// Summary is carried by the final record of a run.
type Summary struct {
	Status          State            `json:"status"`
	RunID           string           `json:"run_id"`
	SessionID       string           `json:"session_id"`
	FinalStrategy   StrategyKind     `json:"final_strategy,omitempty"`
	Iterations      int              `json:"iterations"`
	Events          []Event          `json:"events"`
	TotalEvents     int              `json:"total_events"`
	CheckpointID    uint64           `json:"checkpoint_id,omitempty"`
	CheckpointError string           `json:"checkpoint_error,omitempty"`
	Actions         []ExternalAction `json:"external_actions,omitempty"`
	Error           string           `json:"error,omitempty"`
	Duration        time.Duration    `json:"duration"`
}

// Payloads of the structured events.

// StatePayload accompanies EventState.
type StatePayload struct {
	From State `json:"from,omitempty"`
	To   State `json:"to"`
}

// HandoffPayload accompanies EventStrategyHandoff.
type HandoffPayload struct {
	From   StrategyKind `json:"from,omitempty"`
	To     StrategyKind `json:"to"`
	Reason string       `json:"reason"`
}

// ToolPayload accompanies EventToolCall and EventToolResult.
type ToolPayload struct {
	Tool    string `json:"tool"`
	Preview string `json:"output_preview,omitempty"`
}

// ValidationPayload accompanies EventValidation.
type ValidationPayload struct {
	Success        bool           `json:"success"`
	Signature      string         `json:"signature,omitempty"`
	Classification Classification `json:"classification"`
}

// FixPayload accompanies EventFixApplied.
type FixPayload struct {
	VersionID uint64          `json:"version_id"`
	Applied   []fixer.Diff    `json:"applied"`
	Failed    []fixer.Failure `json:"failed"`
}

// CheckpointPayload accompanies EventCheckpoint.
type CheckpointPayload struct {
	CheckpointID   uint64 `json:"checkpoint_id"`
	CheckpointType string `json:"checkpoint_type"`
}

// MessagePayload accompanies EventMessageComplete.
type MessagePayload struct {
	Message string `json:"message"`
}
