package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/graphrepair/graph"
)

// RedisStore is a Redis-based implementation of Store.
// Ids come from INCR on a counter key, each checkpoint is a hash and every
// session keeps a sorted set of its ids scored by id.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	owned     bool
	now       func() time.Time
}

// RedisConfig contains Redis-specific configuration
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisStoreFromClient(client, cfg.KeyPrefix)
	s.owned = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. The client is not closed
// by Close.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "graphrepair:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
		now:       time.Now,
	}
}

func (s *RedisStore) seqKey() string {
	return s.keyPrefix + "seq"
}

func (s *RedisStore) dataKey(id uint64) string {
	return s.keyPrefix + "data:" + strconv.FormatUint(id, 10)
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.keyPrefix + "session:" + sessionID
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, sessionID string, g graph.Graph, mirror json.RawMessage, attrs Attributes) (uint64, error) {
	rec, err := newRecord(sessionID, g, mirror, attrs, s.now())
	if err != nil {
		return 0, err
	}

	id, err := s.client.Incr(ctx, s.seqKey()).Uint64()
	if err != nil {
		return 0, unavailable("allocate id", err)
	}
	rec.ID = id

	fields := map[string]any{
		"session_id": rec.SessionID,
		"graph":      string(rec.Graph),
		"attributes": string(rec.Attributes),
		"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(rec.Mirror) > 0 {
		fields["mirror"] = string(rec.Mirror)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.dataKey(id), fields)
	pipe.ZAdd(ctx, s.sessionKey(sessionID), redis.Z{Score: float64(id), Member: strconv.FormatUint(id, 10)})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("write checkpoint", err)
	}
	return id, nil
}

func (s *RedisStore) load(ctx context.Context, id uint64) (*record, error) {
	vals, err := s.client.HGetAll(ctx, s.dataKey(id)).Result()
	if err != nil {
		return nil, unavailable("read checkpoint", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	rec := &record{
		ID:         id,
		SessionID:  vals["session_id"],
		Graph:      json.RawMessage(vals["graph"]),
		Attributes: json.RawMessage(vals["attributes"]),
	}
	if m := vals["mirror"]; m != "" {
		rec.Mirror = json.RawMessage(m)
	}
	if ts := vals["created_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.CreatedAt = t
		}
	}
	return rec, nil
}

// GetLatest implements Store.
func (s *RedisStore) GetLatest(ctx context.Context, sessionID string) (graph.Graph, error) {
	cp, err := s.GetLatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cp.Graph, nil
}

// GetLatestCheckpoint implements Store.
func (s *RedisStore) GetLatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	members, err := s.client.ZRevRange(ctx, s.sessionKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, unavailable("read session index", err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	id, err := strconv.ParseUint(members[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session index entry %q: %w", members[0], err)
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.checkpoint()
}

// GetByID implements Store.
func (s *RedisStore) GetByID(ctx context.Context, id uint64) (*Checkpoint, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.checkpoint()
}

// UpdateMirror implements Store.
func (s *RedisStore) UpdateMirror(ctx context.Context, id uint64, mirror json.RawMessage) (bool, error) {
	if len(mirror) > 0 && !json.Valid(mirror) {
		return false, ErrInvalidInput
	}

	key := s.dataKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(mirror) == 0 {
				pipe.HDel(ctx, key, "mirror")
			} else {
				pipe.HSet(ctx, key, "mirror", string(mirror))
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("update mirror", err)
	}
	return true, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, sessionID string) ([]Meta, error) {
	members, err := s.client.ZRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("read session index", err)
	}

	out := make([]Meta, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		rec, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.meta())
	}
	return out, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
