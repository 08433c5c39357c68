package content_store

import (
	"context"
	"sort"
	"sync"
	"time"

	"explanation-service/service/errdef"
	"explanation-service/service/models"
)

// MemoryStore 内存条目存储，用于 database.driver=memory 和测试
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]*models.ExplainedItem
	checks []*models.QualityCheckRecord
}

// NewMemoryStore 创建内存条目存储
func NewMemoryStore(items ...*models.ExplainedItem) *MemoryStore {
	s := &MemoryStore{items: make(map[string]*models.ExplainedItem, len(items))}
	for _, item := range items {
		s.items[item.ID] = item.Clone()
	}
	return s
}

// Put 新增或覆盖条目（不检查令牌）
func (s *MemoryStore) Put(item *models.ExplainedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item.Clone()
}

// Load 加载条目副本
func (s *MemoryStore) Load(ctx context.Context, id string) (*models.ExplainedItem, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, 0, errdef.Validation("content_store.load", "条目不存在: %s", id)
	}
	return item.Clone(), item.Version, nil
}

// Save 乐观锁保存条目
func (s *MemoryStore) Save(ctx context.Context, item *models.ExplainedItem, token int64) (int64, error) {
	if item == nil || item.ID == "" {
		return 0, errdef.Validation("content_store.save", "条目为空或缺少ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[item.ID]
	if !ok {
		return 0, errdef.Validation("content_store.save", "条目不存在: %s", item.ID)
	}
	if current.Version != token {
		return 0, errdef.Conflict("content_store.save", "条目 %s 版本冲突: 期望 %d, 当前 %d", item.ID, token, current.Version)
	}
	if item.ImprovementVersion < current.ImprovementVersion {
		return 0, errdef.Validation("content_store.save", "条目 %s 改进版本不能回退: %d -> %d",
			item.ID, current.ImprovementVersion, item.ImprovementVersion)
	}

	saved := item.Clone()
	saved.Version = token + 1
	saved.CreatedAt = current.CreatedAt
	saved.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = saved

	item.Version = saved.Version
	return saved.Version, nil
}

// Select 按筛选条件选择条目ID
func (s *MemoryStore) Select(ctx context.Context, filter models.ItemFilter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, item := range s.items {
		if filter.Matches(item) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}
	return ids, nil
}

// RecordCheck 记录质量检查历史
func (s *MemoryStore) RecordCheck(ctx context.Context, record *models.QualityCheckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, record)
	return nil
}

// Checks 返回检查历史副本
func (s *MemoryStore) Checks() []*models.QualityCheckRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.QualityCheckRecord(nil), s.checks...)
}
