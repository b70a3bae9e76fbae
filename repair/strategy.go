package repair

import (
	"context"

	"github.com/BaSui01/graphrepair/fixer"
	"github.com/BaSui01/graphrepair/gateway"
	"github.com/BaSui01/graphrepair/graph"
)

// StrategyKind names one of the specialist repair procedures.
type StrategyKind string

const (
	StrategyConnection StrategyKind = "connection"
	StrategyParameter  StrategyKind = "parameter"
	StrategyStructural StrategyKind = "structural"
)

// Next returns the strategy to escalate to. Structural is the last resort
// and escalates to itself.
func (k StrategyKind) Next() StrategyKind {
	switch k {
	case StrategyConnection:
		return StrategyParameter
	default:
		return StrategyStructural
	}
}

// StrategyFor maps an error category to the strategy that handles it.
func StrategyFor(c Category) StrategyKind {
	switch c {
	case ConnectionError:
		return StrategyConnection
	case ParameterError:
		return StrategyParameter
	default:
		return StrategyStructural
	}
}

// ActionKind labels an external action a human has to take.
type ActionKind string

const (
	ActionDownloadRequired ActionKind = "download_required"
	ActionManualFix        ActionKind = "manual_fix"
)

// ExternalAction is a repair the engine cannot perform itself.
type ExternalAction struct {
	Kind         ActionKind `json:"kind"`
	NodeID       string     `json:"node_id"`
	Input        string     `json:"input,omitempty"`
	Value        any        `json:"value,omitempty"`
	Message      string     `json:"message"`
	Folder       string     `json:"folder,omitempty"`
	ModelType    string     `json:"model_type,omitempty"`
	CommonModels []string   `json:"common_models,omitempty"`
}

// Input is what a strategy receives for one dispatch.
type Input struct {
	SessionID      string
	Iteration      int
	Graph          graph.Graph
	Verdict        *gateway.Result
	Classification Classification
	// Emit forwards a progress event to the run's stream.
	Emit func(Event)
}

func (in Input) emit(kind EventKind, strategy StrategyKind, payload any) {
	if in.Emit != nil {
		in.Emit(Event{Kind: kind, Iteration: in.Iteration, Strategy: strategy, Payload: payload})
	}
}

// Outcome is the result of one dispatch.
type Outcome struct {
	Changed   bool             `json:"changed"`
	VersionID uint64           `json:"version_id,omitempty"`
	Applied   []fixer.Diff     `json:"applied,omitempty"`
	Failed    []fixer.Failure  `json:"failed,omitempty"`
	Actions   []ExternalAction `json:"external_actions,omitempty"`
	Message   string           `json:"message"`
}

// Strategy repairs one class of validation failure. Returned errors are
// infrastructure failures and end the run.
type Strategy interface {
	Kind() StrategyKind
	Repair(ctx context.Context, in Input) (*Outcome, error)
}

func outcomeFrom(res *fixer.ApplyResult, message string) *Outcome {
	return &Outcome{
		Changed:   res.Changed(),
		VersionID: res.VersionID,
		Applied:   res.Applied,
		Failed:    res.Failed,
		Message:   message,
	}
}
