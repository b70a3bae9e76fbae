// Package checkpoint provides the append-only, per-session versioned graph
// store. Every write creates a new immutable checkpoint; the current graph of
// a session is always the checkpoint with the highest id.
//
// Supported backends:
// - Memory: development and tests (default)
// - File: single-node deployments
// - Redis: shared deployments
// - Gorm: SQL databases (postgres, mysql, sqlite), table workflow_version
// - Badger: embedded key-value store
// - Mongo: document store
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/graphrepair/graph"
)

// Common errors
var (
	ErrNotFound         = errors.New("checkpoint not found")
	ErrStoreUnavailable = errors.New("checkpoint store unavailable")
	ErrStoreClosed      = errors.New("checkpoint store is closed")
	ErrInvalidInput     = errors.New("invalid input")
)

// errClosed matches both ErrStoreUnavailable and ErrStoreClosed.
var errClosed = fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrStoreClosed)

// Type tags the lifecycle moment a checkpoint was written at.
type Type string

const (
	TypeInitial       Type = "initial"
	TypePreEdit       Type = "pre-edit"
	TypePostEdit      Type = "post-edit"
	TypeDebugComplete Type = "debug_complete"
	TypeFatal         Type = "fatal"
)

// Well-known attribute keys. Everything else in Attributes is free-form and
// never interpreted by the store.
const (
	AttrCheckpointType = "checkpoint_type"
	AttrDescription    = "description"
	AttrTimestamp      = "timestamp"
)

// Attributes is the free-form audit object attached to a checkpoint.
type Attributes map[string]any

// Type returns the checkpoint_type attribute.
func (a Attributes) Type() Type {
	if a == nil {
		return ""
	}
	switch v := a[AttrCheckpointType].(type) {
	case string:
		return Type(v)
	case Type:
		return v
	}
	return ""
}

// Description returns the description attribute.
func (a Attributes) Description() string {
	s, _ := a[AttrDescription].(string)
	return s
}

// Checkpoint is one immutable version of a session's graph.
type Checkpoint struct {
	ID         uint64          `json:"id"`
	SessionID  string          `json:"session_id"`
	Graph      graph.Graph     `json:"graph"`
	Mirror     json.RawMessage `json:"mirror,omitempty"`
	Attributes Attributes      `json:"attributes"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Meta is the audit view of a checkpoint without its payloads.
type Meta struct {
	ID          uint64    `json:"id"`
	SessionID   string    `json:"session_id"`
	Type        Type      `json:"checkpoint_type"`
	Description string    `json:"description,omitempty"`
	HasMirror   bool      `json:"has_mirror"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the checkpoint log contract shared by every backend.
type Store interface {
	// Save appends a checkpoint and returns its id. It fails only when the
	// backend is unavailable; such errors wrap ErrStoreUnavailable.
	Save(ctx context.Context, sessionID string, g graph.Graph, mirror json.RawMessage, attrs Attributes) (uint64, error)

	// GetLatest returns the graph of the session's highest-id checkpoint, or
	// ErrNotFound.
	GetLatest(ctx context.Context, sessionID string) (graph.Graph, error)

	// GetLatestCheckpoint is GetLatest returning the whole checkpoint.
	GetLatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error)

	// GetByID returns a checkpoint or ErrNotFound.
	GetByID(ctx context.Context, id uint64) (*Checkpoint, error)

	// UpdateMirror replaces only the mirror of an existing checkpoint. It
	// reports false when the id does not exist.
	UpdateMirror(ctx context.Context, id uint64, mirror json.RawMessage) (bool, error)

	// List returns the session's checkpoints in ascending id order.
	List(ctx context.Context, sessionID string) ([]Meta, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}

// record is the serialized form every backend persists. Payloads stay encoded
// so that reads always hand out fresh copies.
type record struct {
	ID         uint64          `json:"id"`
	SessionID  string          `json:"session_id"`
	Graph      json.RawMessage `json:"graph"`
	Mirror     json.RawMessage `json:"mirror,omitempty"`
	Attributes json.RawMessage `json:"attributes"`
	CreatedAt  time.Time       `json:"created_at"`
}

// newRecord validates the input, stamps default attributes and encodes the
// payloads. The id is assigned by the backend.
func newRecord(sessionID string, g graph.Graph, mirror json.RawMessage, attrs Attributes, now time.Time) (*record, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if len(mirror) > 0 && !json.Valid(mirror) {
		return nil, fmt.Errorf("%w: mirror is not valid JSON", ErrInvalidInput)
	}

	data, err := g.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: encode graph: %v", ErrInvalidInput, err)
	}

	stamped := make(Attributes, len(attrs)+2)
	for k, v := range attrs {
		stamped[k] = v
	}
	if stamped.Type() == "" {
		stamped[AttrCheckpointType] = string(TypeInitial)
	}
	if _, ok := stamped[AttrTimestamp]; !ok {
		stamped[AttrTimestamp] = float64(now.UnixNano()) / float64(time.Second)
	}
	attrData, err := json.Marshal(stamped)
	if err != nil {
		return nil, fmt.Errorf("%w: encode attributes: %v", ErrInvalidInput, err)
	}

	return &record{
		SessionID:  sessionID,
		Graph:      data,
		Mirror:     cloneRaw(mirror),
		Attributes: attrData,
		CreatedAt:  now.UTC(),
	}, nil
}

func (r *record) checkpoint() (*Checkpoint, error) {
	g, err := graph.Parse(r.Graph)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %d: %w", r.ID, err)
	}
	var attrs Attributes
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return nil, fmt.Errorf("decode checkpoint %d attributes: %w", r.ID, err)
		}
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	return &Checkpoint{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Graph:      g,
		Mirror:     cloneRaw(r.Mirror),
		Attributes: attrs,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func (r *record) meta() Meta {
	m := Meta{
		ID:        r.ID,
		SessionID: r.SessionID,
		HasMirror: len(r.Mirror) > 0,
		CreatedAt: r.CreatedAt,
	}
	var attrs Attributes
	if json.Unmarshal(r.Attributes, &attrs) == nil {
		m.Type = attrs.Type()
		m.Description = attrs.Description()
	}
	return m
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
