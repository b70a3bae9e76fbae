package checkpoint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/graph"
)

// BadgerConfig holds configuration for the embedded badger store.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string `json:"path" yaml:"path"`

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// SyncWrites makes every commit durable before returning.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// SequenceBandwidth is how many ids are leased from disk at a time.
	SequenceBandwidth uint64 `json:"sequence_bandwidth" yaml:"sequence_bandwidth"`
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		Path:              "./data/badger",
		SyncWrites:        true,
		SequenceBandwidth: 100,
	}
}

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Key layout:
//
//	cp/<8-byte big-endian id>                 -> record JSON
//	sess/<4-byte len><session id><8-byte id>  -> empty
//	seq/checkpoint                            -> badger sequence
var (
	cpPrefix   = []byte("cp/")
	sessPrefix = []byte("sess/")
	seqKey     = []byte("seq/checkpoint")
)

func cpKey(id uint64) []byte {
	k := make([]byte, len(cpPrefix)+8)
	copy(k, cpPrefix)
	binary.BigEndian.PutUint64(k[len(cpPrefix):], id)
	return k
}

// sessionPrefix is length-prefixed so that no session prefix is a prefix of
// another session's keys.
func sessionPrefix(sessionID string) []byte {
	k := make([]byte, len(sessPrefix)+4, len(sessPrefix)+4+len(sessionID))
	copy(k, sessPrefix)
	binary.BigEndian.PutUint32(k[len(sessPrefix):], uint32(len(sessionID)))
	return append(k, sessionID...)
}

func sessionEntryKey(sessionID string, id uint64) []byte {
	p := sessionPrefix(sessionID)
	k := make([]byte, len(p)+8)
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], id)
	return k
}

// BadgerStore is an embedded implementation of Store.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence

	// 序列号分配与写入需串行，保证同一进程内 id 与提交顺序一致
	mu     sync.Mutex
	closed bool
	logger *zap.Logger
	now    func() time.Time
}

// NewBadgerStore opens the database described by cfg.
func NewBadgerStore(cfg BadgerConfig, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("%w: badger path is required for persistent database", ErrInvalidInput)
	}
	if cfg.SequenceBandwidth == 0 {
		cfg.SequenceBandwidth = 100
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.With(zap.String("component", "badger")).Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence(seqKey, cfg.SequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open checkpoint sequence: %w", err)
	}

	return &BadgerStore{
		db:     db,
		seq:    seq,
		logger: logger.With(zap.String("component", "checkpoint_badger")),
		now:    time.Now,
	}, nil
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, sessionID string, g graph.Graph, mirror json.RawMessage, attrs Attributes) (uint64, error) {
	rec, err := newRecord(sessionID, g, mirror, attrs, s.now())
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	n, err := s.seq.Next()
	if err != nil {
		return 0, unavailable("allocate id", err)
	}
	// 序列从 0 开始，checkpoint id 从 1 开始
	rec.ID = n + 1

	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode checkpoint: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(cpKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(sessionEntryKey(sessionID, rec.ID), nil)
	})
	if err != nil {
		return 0, unavailable("write checkpoint", err)
	}
	return rec.ID, nil
}

func (s *BadgerStore) load(txn *badger.Txn, id uint64) (*record, error) {
	item, err := txn.Get(cpKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read checkpoint", err)
	}
	var rec record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %d: %w", id, err)
	}
	return &rec, nil
}

// GetLatest implements Store.
func (s *BadgerStore) GetLatest(ctx context.Context, sessionID string) (graph.Graph, error) {
	cp, err := s.GetLatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cp.Graph, nil
}

// GetLatestCheckpoint implements Store.
func (s *BadgerStore) GetLatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var rec *record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := sessionPrefix(sessionID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// 反向迭代需从前缀之后的位置开始
		seek := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		key := it.Item().Key()
		id := binary.BigEndian.Uint64(key[len(prefix):])

		var err error
		rec, err = s.load(txn, id)
		return err
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return rec.checkpoint()
}

// GetByID implements Store.
func (s *BadgerStore) GetByID(ctx context.Context, id uint64) (*Checkpoint, error) {
	var rec *record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.load(txn, id)
		return err
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return rec.checkpoint()
}

// UpdateMirror implements Store.
func (s *BadgerStore) UpdateMirror(ctx context.Context, id uint64, mirror json.RawMessage) (bool, error) {
	if len(mirror) > 0 && !json.Valid(mirror) {
		return false, ErrInvalidInput
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.load(txn, id)
		if err != nil {
			return err
		}
		rec.Mirror = cloneRaw(mirror)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(cpKey(id), data)
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.mapErr(err)
	}
	return true, nil
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	var out []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := sessionPrefix(sessionID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			id := binary.BigEndian.Uint64(key[len(prefix):])
			rec, err := s.load(txn, id)
			if err != nil {
				return err
			}
			out = append(out, rec.meta())
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	if out == nil {
		out = []Meta{}
	}
	return out, nil
}

// Ping implements Store.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errClosed
	}
	return nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release checkpoint sequence", zap.Error(err))
	}
	return s.db.Close()
}

func (s *BadgerStore) mapErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, badger.ErrDBClosed):
		return errClosed
	default:
		return unavailable("badger", err)
	}
}
