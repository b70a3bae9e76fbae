package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/graphrepair/graph"
)

// MemoryStore is an in-memory implementation of Store.
// Checkpoints live in an arena indexed by id-1; each session keeps the
// ascending list of its ids.
type MemoryStore struct {
	mu        sync.RWMutex
	arena     []*record
	bySession map[string][]uint64
	closed    bool
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bySession: make(map[string][]uint64),
		now:       time.Now,
	}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, sessionID string, g graph.Graph, mirror json.RawMessage, attrs Attributes) (uint64, error) {
	rec, err := newRecord(sessionID, g, mirror, attrs, s.now())
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	rec.ID = uint64(len(s.arena)) + 1
	s.arena = append(s.arena, rec)
	s.bySession[sessionID] = append(s.bySession[sessionID], rec.ID)
	return rec.ID, nil
}

// GetLatest implements Store.
func (s *MemoryStore) GetLatest(ctx context.Context, sessionID string) (graph.Graph, error) {
	cp, err := s.GetLatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cp.Graph, nil
}

// GetLatestCheckpoint implements Store.
func (s *MemoryStore) GetLatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	ids := s.bySession[sessionID]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return s.arena[ids[len(ids)-1]-1].checkpoint()
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(ctx context.Context, id uint64) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	if id == 0 || id > uint64(len(s.arena)) {
		return nil, ErrNotFound
	}
	return s.arena[id-1].checkpoint()
}

// UpdateMirror implements Store.
func (s *MemoryStore) UpdateMirror(ctx context.Context, id uint64, mirror json.RawMessage) (bool, error) {
	if len(mirror) > 0 && !json.Valid(mirror) {
		return false, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}

	if id == 0 || id > uint64(len(s.arena)) {
		return false, nil
	}
	// 记录本身不可变，替换为带新镜像的副本
	updated := *s.arena[id-1]
	updated.Mirror = cloneRaw(mirror)
	s.arena[id-1] = &updated
	return true, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	ids := s.bySession[sessionID]
	out := make([]Meta, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.arena[id-1].meta())
	}
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
