// Package catalog exposes the read-only node-type catalog contract used by the
// analyzer and the repair strategies, plus clients for it.
package catalog

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by GetOne for unknown node types.
	ErrNotFound = errors.New("node type not found")
	// ErrUnavailable wraps transport or decoding failures.
	ErrUnavailable = errors.New("catalog unavailable")
)

const (
	// Wildcard matches every type tag.
	Wildcard = "*"
	// ComboType is the tag given to inputs declared as a list of options.
	ComboType = "COMBO"
)

// TypeConstraint is an ordered set of type tags.
type TypeConstraint []string

// ParseConstraint splits a declared type such as "IMAGE,MASK" into tags.
func ParseConstraint(declared string) TypeConstraint {
	parts := strings.Split(declared, ",")
	out := make(TypeConstraint, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Contains reports whether tag is a member of the constraint.
func (c TypeConstraint) Contains(tag string) bool {
	for _, t := range c {
		if t == tag {
			return true
		}
	}
	return false
}

// IsWildcard reports whether the constraint accepts any type.
func (c TypeConstraint) IsWildcard() bool {
	return c.Contains(Wildcard)
}

// Intersects reports whether any tag of other is also in c.
func (c TypeConstraint) Intersects(other TypeConstraint) bool {
	for _, t := range other {
		if c.Contains(t) {
			return true
		}
	}
	return false
}

func (c TypeConstraint) String() string {
	return strings.Join(c, ",")
}

// InputSpec describes one declared input.
type InputSpec struct {
	Name    string         `json:"name"`
	Types   TypeConstraint `json:"types"`
	Options []string       `json:"options,omitempty"`
	Default any            `json:"default,omitempty"`
}

// IsEnum reports whether the input only accepts a fixed list of values.
func (s InputSpec) IsEnum() bool {
	return len(s.Options) > 0
}

// IsWidget reports whether the input takes a literal value rather than a link.
func (s InputSpec) IsWidget() bool {
	if s.IsEnum() {
		return true
	}
	for _, t := range s.Types {
		switch t {
		case "INT", "FLOAT", "STRING", "BOOLEAN", ComboType:
			return true
		}
	}
	return false
}

// DefaultValue returns the declared default, else the first option, else
// the zero value of the literal type. ok is false for link inputs.
func (s InputSpec) DefaultValue() (v any, ok bool) {
	if !s.IsWidget() {
		return nil, false
	}
	if s.Default != nil {
		return s.Default, true
	}
	if len(s.Options) > 0 {
		return s.Options[0], true
	}
	switch {
	case s.Types.Contains("INT"), s.Types.Contains("FLOAT"):
		return 0, true
	case s.Types.Contains("BOOLEAN"):
		return false, true
	default:
		return "", true
	}
}

// NodeTypeSpec describes a node type. Input slices keep catalog declaration
// order.
type NodeTypeSpec struct {
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name,omitempty"`
	Category    string           `json:"category,omitempty"`
	Required    []InputSpec      `json:"required"`
	Optional    []InputSpec      `json:"optional,omitempty"`
	Outputs     []TypeConstraint `json:"outputs"`
	OutputNames []string         `json:"output_names,omitempty"`
}

// Input finds a declared input by name.
func (s *NodeTypeSpec) Input(name string) (spec InputSpec, required bool, ok bool) {
	for _, in := range s.Required {
		if in.Name == name {
			return in, true, true
		}
	}
	for _, in := range s.Optional {
		if in.Name == name {
			return in, false, true
		}
	}
	return InputSpec{}, false, false
}

// OutputName returns the display name of output idx, falling back to the type.
func (s *NodeTypeSpec) OutputName(idx int) string {
	if idx >= 0 && idx < len(s.OutputNames) && s.OutputNames[idx] != "" {
		return s.OutputNames[idx]
	}
	if idx >= 0 && idx < len(s.Outputs) {
		return s.Outputs[idx].String()
	}
	return ""
}

// TypeCatalog is the query contract of the node-type catalog.
type TypeCatalog interface {
	// GetAll returns every known node type keyed by name.
	GetAll(ctx context.Context) (map[string]*NodeTypeSpec, error)
	// GetOne returns a single node type or ErrNotFound.
	GetOne(ctx context.Context, name string) (*NodeTypeSpec, error)
}
