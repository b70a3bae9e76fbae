package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/graphrepair/graph"
)

// FileStore is a file-based implementation of Store.
// Suitable for single-node deployments. Each checkpoint is one JSON file
// named by its zero-padded id; the session index is rebuilt on open.
type FileStore struct {
	dir       string
	mu        sync.RWMutex
	lastID    uint64
	bySession map[string][]uint64
	closed    bool
	now       func() time.Time
}

// NewFileStore opens (or creates) a store under baseDir/checkpoints.
func NewFileStore(baseDir string) (*FileStore, error) {
	dir := filepath.Join(baseDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	s := &FileStore{
		dir:       dir,
		bySession: make(map[string][]uint64),
		now:       time.Now,
	}
	if err := s.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load checkpoints from disk: %w", err)
	}
	return s, nil
}

func (s *FileStore) path(id uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%020d.json", id))
}

// loadIndex scans the directory in id order.
func (s *FileStore) loadIndex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	var ids []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		rec, err := s.read(id)
		if err != nil {
			return err
		}
		s.bySession[rec.SessionID] = append(s.bySession[rec.SessionID], id)
		s.lastID = id
	}
	return nil
}

func (s *FileStore) read(id uint64) (*record, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read checkpoint", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint file %d: %w", id, err)
	}
	return &rec, nil
}

// write is atomic: temp file then rename.
func (s *FileStore) write(rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	target := s.path(rec.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, sessionID string, g graph.Graph, mirror json.RawMessage, attrs Attributes) (uint64, error) {
	rec, err := newRecord(sessionID, g, mirror, attrs, s.now())
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	rec.ID = s.lastID + 1
	if err := s.write(rec); err != nil {
		return 0, unavailable("write checkpoint", err)
	}
	s.lastID = rec.ID
	s.bySession[sessionID] = append(s.bySession[sessionID], rec.ID)
	return rec.ID, nil
}

// GetLatest implements Store.
func (s *FileStore) GetLatest(ctx context.Context, sessionID string) (graph.Graph, error) {
	cp, err := s.GetLatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cp.Graph, nil
}

// GetLatestCheckpoint implements Store.
func (s *FileStore) GetLatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	ids := s.bySession[sessionID]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	rec, err := s.read(ids[len(ids)-1])
	if err != nil {
		return nil, err
	}
	return rec.checkpoint()
}

// GetByID implements Store.
func (s *FileStore) GetByID(ctx context.Context, id uint64) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	rec, err := s.read(id)
	if err != nil {
		return nil, err
	}
	return rec.checkpoint()
}

// UpdateMirror implements Store.
func (s *FileStore) UpdateMirror(ctx context.Context, id uint64, mirror json.RawMessage) (bool, error) {
	if len(mirror) > 0 && !json.Valid(mirror) {
		return false, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}

	rec, err := s.read(id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rec.Mirror = cloneRaw(mirror)
	if err := s.write(rec); err != nil {
		return false, unavailable("write checkpoint", err)
	}
	return true, nil
}

// List implements Store.
func (s *FileStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	ids := s.bySession[sessionID]
	out := make([]Meta, 0, len(ids))
	for _, id := range ids {
		rec, err := s.read(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.meta())
	}
	return out, nil
}

// Ping implements Store.
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	_, err := os.Stat(s.dir)
	return err
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
