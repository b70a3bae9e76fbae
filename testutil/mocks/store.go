package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/BaSui01/graphrepair/checkpoint"
	"github.com/BaSui01/graphrepair/graph"
)

// FailingStore 包装真实存储，在前 N 次 Save 成功后使后续写入失败
type FailingStore struct {
	checkpoint.Store

	mu        sync.Mutex
	saves     int
	failAfter int
	err       error
}

// NewFailingStore 创建在 failAfter 次成功写入后失败的存储
func NewFailingStore(inner checkpoint.Store, failAfter int) *FailingStore {
	return &FailingStore{
		Store:     inner,
		failAfter: failAfter,
		err:       errors.Join(checkpoint.ErrStoreUnavailable, errors.New("mock: disk full")),
	}
}

// Save 实现 checkpoint.Store
func (s *FailingStore) Save(ctx context.Context, sessionID string, g graph.Graph, mirror json.RawMessage, attrs checkpoint.Attributes) (uint64, error) {
	s.mu.Lock()
	s.saves++
	n := s.saves
	s.mu.Unlock()
	if n > s.failAfter {
		return 0, s.err
	}
	return s.Store.Save(ctx, sessionID, g, mirror, attrs)
}

// Saves 返回 Save 调用次数（含失败）
func (s *FailingStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
