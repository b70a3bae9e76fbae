package catalog

import (
	"context"
	"fmt"
	"os"
)

// StaticCatalog serves a fixed set of node types. It backs tests and offline
// deployments that ship an object_info snapshot.
type StaticCatalog struct {
	specs map[string]*NodeTypeSpec
}

// NewStatic builds a catalog from specs.
func NewStatic(specs ...*NodeTypeSpec) *StaticCatalog {
	m := make(map[string]*NodeTypeSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return &StaticCatalog{specs: m}
}

// NewStaticFromObjectInfo builds a catalog from an object_info payload.
func NewStaticFromObjectInfo(data []byte) (*StaticCatalog, error) {
	specs, err := ParseObjectInfo(data)
	if err != nil {
		return nil, err
	}
	return &StaticCatalog{specs: specs}, nil
}

// LoadStaticFile reads an object_info snapshot from disk.
func LoadStaticFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog snapshot: %w", err)
	}
	return NewStaticFromObjectInfo(data)
}

// GetAll implements TypeCatalog.
func (c *StaticCatalog) GetAll(ctx context.Context) (map[string]*NodeTypeSpec, error) {
	out := make(map[string]*NodeTypeSpec, len(c.specs))
	for k, v := range c.specs {
		out[k] = v
	}
	return out, nil
}

// GetOne implements TypeCatalog.
func (c *StaticCatalog) GetOne(ctx context.Context, name string) (*NodeTypeSpec, error) {
	spec, ok := c.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return spec, nil
}
