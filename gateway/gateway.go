// Package gateway submits workflow graphs to the execution backend for
// validation and decodes its diagnostics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/graphrepair/graph"
)

var (
	// ErrTimeout is returned when a validation attempt exceeds its deadline.
	ErrTimeout = errors.New("validation gateway timeout")
	// ErrUnavailable is returned when the backend cannot be reached or answers
	// with an unusable response.
	ErrUnavailable = errors.New("validation gateway unavailable")
)

// Gateway validates a graph against the execution backend. A graph that
// fails validation is a successful call with Result.Success == false; an
// error means no verdict could be obtained.
type Gateway interface {
	Validate(ctx context.Context, g graph.Graph, correlationID string) (*Result, error)
}

// Diagnostic is one backend error entry.
type Diagnostic struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Details   string         `json:"details,omitempty"`
	ExtraInfo map[string]any `json:"extra_info,omitempty"`
}

// InputName returns extra_info.input_name when the backend reports one.
func (d Diagnostic) InputName() string {
	s, _ := d.ExtraInfo["input_name"].(string)
	return s
}

// ReceivedValue returns extra_info.received_value.
func (d Diagnostic) ReceivedValue() (any, bool) {
	v, ok := d.ExtraInfo["received_value"]
	return v, ok
}

// Options returns the allowed values carried in extra_info.input_config, if any.
func (d Diagnostic) Options() []string {
	cfg, ok := d.ExtraInfo["input_config"].([]any)
	if !ok || len(cfg) == 0 {
		return nil
	}
	list, ok := cfg[0].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// NodeError groups the diagnostics of one node.
type NodeError struct {
	ClassType        string       `json:"class_type"`
	Errors           []Diagnostic `json:"errors"`
	DependentOutputs []any        `json:"dependent_outputs,omitempty"`
}

// Result is the backend verdict for one graph.
type Result struct {
	Success    bool                 `json:"success"`
	PromptID   string               `json:"prompt_id,omitempty"`
	Error      *Diagnostic          `json:"error,omitempty"`
	NodeErrors map[string]NodeError `json:"node_errors,omitempty"`
	Raw        json.RawMessage      `json:"raw,omitempty"`
}

// NodeIDs lists the nodes with diagnostics in graph id order.
func (r *Result) NodeIDs() []string {
	ids := make([]string, 0, len(r.NodeErrors))
	for id := range r.NodeErrors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return graph.CompareIDs(ids[i], ids[j]) < 0 })
	return ids
}

// Text renders the verdict as one string for keyword classification and
// narration.
func (r *Result) Text() string {
	if r.Success {
		return `{"success": true} validation successful`
	}
	if len(r.Raw) > 0 {
		return string(r.Raw)
	}
	var b strings.Builder
	if r.Error != nil {
		fmt.Fprintf(&b, "%s: %s %s\n", r.Error.Type, r.Error.Message, r.Error.Details)
	}
	for _, id := range r.NodeIDs() {
		ne := r.NodeErrors[id]
		for _, d := range ne.Errors {
			fmt.Fprintf(&b, "%q: %s %s: %s %s\n", id, ne.ClassType, d.Type, d.Message, d.Details)
		}
	}
	return b.String()
}

// Signature is a stable fingerprint of the failure used to detect that a
// repair made no progress.
func (r *Result) Signature() string {
	if r.Success {
		return "success"
	}
	var parts []string
	if r.Error != nil {
		parts = append(parts, r.Error.Type)
	}
	for _, id := range r.NodeIDs() {
		ne := r.NodeErrors[id]
		for _, d := range ne.Errors {
			parts = append(parts, id+":"+d.Type+":"+d.InputName()+":"+d.Message)
		}
	}
	if len(parts) == 0 {
		return string(r.Raw)
	}
	return strings.Join(parts, "|")
}
