package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/graphrepair/internal/cache"
)

const allTypesKey = "object_info:all"

// CacheRecorder receives cache outcomes ("hit", "miss", "shared_hit", "error").
type CacheRecorder interface {
	RecordCatalogCache(result string)
}

// CachedCatalog keeps the full catalog in process memory for TTL, optionally
// backed by a shared Redis cache, and collapses concurrent upstream fetches.
type CachedCatalog struct {
	upstream TypeCatalog
	shared   *cache.Manager
	ttl      time.Duration
	recorder CacheRecorder
	logger   *zap.Logger

	group singleflight.Group

	mu        sync.RWMutex
	specs     map[string]*NodeTypeSpec
	fetchedAt time.Time
	now       func() time.Time
}

// CachedOption configures a CachedCatalog.
type CachedOption func(*CachedCatalog)

// WithSharedCache stores fetched catalogs in Redis.
func WithSharedCache(m *cache.Manager) CachedOption {
	return func(c *CachedCatalog) { c.shared = m }
}

// WithCacheRecorder reports cache outcomes to a metrics sink.
func WithCacheRecorder(r CacheRecorder) CachedOption {
	return func(c *CachedCatalog) { c.recorder = r }
}

// NewCachedCatalog wraps upstream.
func NewCachedCatalog(upstream TypeCatalog, ttl time.Duration, logger *zap.Logger, opts ...CachedOption) *CachedCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CachedCatalog{
		upstream: upstream,
		ttl:      ttl,
		logger:   logger.With(zap.String("component", "catalog_cache")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAll implements TypeCatalog.
func (c *CachedCatalog) GetAll(ctx context.Context) (map[string]*NodeTypeSpec, error) {
	if specs, ok := c.local(); ok {
		c.record("hit")
		return specs, nil
	}

	v, err, _ := c.group.Do(allTypesKey, func() (any, error) {
		if specs, ok := c.local(); ok {
			return specs, nil
		}
		if specs, ok := c.fromShared(ctx); ok {
			c.store(specs)
			c.record("shared_hit")
			return specs, nil
		}
		c.record("miss")
		specs, err := c.upstream.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		c.store(specs)
		c.toShared(ctx, specs)
		return specs, nil
	})
	if err != nil {
		c.record("error")
		return nil, err
	}
	return v.(map[string]*NodeTypeSpec), nil
}

// GetOne implements TypeCatalog. It serves from the cached full catalog when
// one is fresh and otherwise asks upstream for the single type.
func (c *CachedCatalog) GetOne(ctx context.Context, name string) (*NodeTypeSpec, error) {
	if specs, ok := c.local(); ok {
		c.record("hit")
		if spec, found := specs[name]; found {
			return spec, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	v, err, _ := c.group.Do("object_info:"+name, func() (any, error) {
		return c.upstream.GetOne(ctx, name)
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.record("error")
		}
		return nil, err
	}
	return v.(*NodeTypeSpec), nil
}

// Invalidate drops the in-process and shared copies.
func (c *CachedCatalog) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.specs = nil
	c.mu.Unlock()
	if c.shared != nil {
		if err := c.shared.Delete(ctx, allTypesKey); err != nil {
			c.logger.Warn("failed to invalidate shared catalog", zap.Error(err))
		}
	}
}

func (c *CachedCatalog) local() (map[string]*NodeTypeSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.specs == nil || c.now().Sub(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.specs, true
}

func (c *CachedCatalog) store(specs map[string]*NodeTypeSpec) {
	c.mu.Lock()
	c.specs = specs
	c.fetchedAt = c.now()
	c.mu.Unlock()
}

func (c *CachedCatalog) fromShared(ctx context.Context) (map[string]*NodeTypeSpec, bool) {
	if c.shared == nil {
		return nil, false
	}
	var specs map[string]*NodeTypeSpec
	if err := c.shared.GetJSON(ctx, allTypesKey, &specs); err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Warn("shared catalog read failed", zap.Error(err))
		}
		return nil, false
	}
	return specs, true
}

func (c *CachedCatalog) toShared(ctx context.Context, specs map[string]*NodeTypeSpec) {
	if c.shared == nil {
		return
	}
	if err := c.shared.SetJSON(ctx, allTypesKey, specs, c.ttl); err != nil {
		c.logger.Warn("shared catalog write failed", zap.Error(err))
	}
}

func (c *CachedCatalog) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordCatalogCache(result)
	}
}
