/*
 * @module service/orchestrator/job_store
 * @description 任务记录存储：创建、更新、查询、按幂等键查找未完成任务
 * @architecture 分层架构 - 数据访问层
 * @stateFlow 入队创建 -> 每次尝试更新 -> 终态
 * @rules 幂等键只在任务未进入终态时生效
 * @dependencies gorm.io/gorm
 * @refs service/orchestrator/orchestrator.go
 */

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"explanation-service/service/errdef"
	"explanation-service/service/models"

	"gorm.io/gorm"
)

var activeStatuses = []string{models.JobStatusPending, models.JobStatusRunning, models.JobStatusRetrying}

// JobStore 任务记录存储
type JobStore interface {
	Create(ctx context.Context, job *models.JobRecord) error
	Update(ctx context.Context, job *models.JobRecord) error
	// Get 任务不存在时返回校验错误
	Get(ctx context.Context, id string) (*models.JobRecord, error)
	// FindActiveByKey 查找幂等键相同且未进入终态的任务，没有时返回 nil
	FindActiveByKey(ctx context.Context, key string) (*models.JobRecord, error)
	ListActive(ctx context.Context) ([]*models.JobRecord, error)
	ListByParent(ctx context.Context, parentID string) ([]*models.JobRecord, error)
}

// GormJobStore gorm任务记录存储
type GormJobStore struct {
	db *gorm.DB
}

// NewGormJobStore 创建gorm任务记录存储
func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

func (s *GormJobStore) Create(ctx context.Context, job *models.JobRecord) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return errdef.Transient("orchestrator.job_store", fmt.Errorf("创建任务记录失败: %w", err))
	}
	return nil
}

func (s *GormJobStore) Update(ctx context.Context, job *models.JobRecord) error {
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return errdef.Transient("orchestrator.job_store", fmt.Errorf("更新任务记录失败: %w", err))
	}
	return nil
}

func (s *GormJobStore) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errdef.Validation("orchestrator.get_result", "任务不存在: %s", id)
		}
		return nil, errdef.Transient("orchestrator.job_store", fmt.Errorf("查询任务记录失败: %w", err))
	}
	return &job, nil
}

func (s *GormJobStore) FindActiveByKey(ctx context.Context, key string) (*models.JobRecord, error) {
	var jobs []models.JobRecord
	err := s.db.WithContext(ctx).
		Where("idempotency_key = ? AND status IN ?", key, activeStatuses).
		Order("created_at").Limit(1).Find(&jobs).Error
	if err != nil {
		return nil, errdef.Transient("orchestrator.job_store", fmt.Errorf("查询任务记录失败: %w", err))
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *GormJobStore) ListActive(ctx context.Context) ([]*models.JobRecord, error) {
	var jobs []*models.JobRecord
	err := s.db.WithContext(ctx).Where("status IN ?", activeStatuses).Order("created_at").Find(&jobs).Error
	if err != nil {
		return nil, errdef.Transient("orchestrator.job_store", fmt.Errorf("查询任务记录失败: %w", err))
	}
	return jobs, nil
}

func (s *GormJobStore) ListByParent(ctx context.Context, parentID string) ([]*models.JobRecord, error) {
	var jobs []*models.JobRecord
	err := s.db.WithContext(ctx).Where("parent_job_id = ?", parentID).Order("created_at").Find(&jobs).Error
	if err != nil {
		return nil, errdef.Transient("orchestrator.job_store", fmt.Errorf("查询任务记录失败: %w", err))
	}
	return jobs, nil
}

// MemoryJobStore 内存任务记录存储
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*models.JobRecord
	order []string
}

// NewMemoryJobStore 创建内存任务记录存储
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*models.JobRecord)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *models.JobRecord) error {
	if err := job.BeforeCreate(nil); err != nil {
		return err
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("任务已存在: %s", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return errdef.Validation("orchestrator.job_store", "任务不存在: %s", job.ID)
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, errdef.Validation("orchestrator.get_result", "任务不存在: %s", id)
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) FindActiveByKey(ctx context.Context, key string) (*models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		job := s.jobs[id]
		if job.IdempotencyKey == key && !job.IsTerminal() {
			return cloneJob(job), nil
		}
	}
	return nil, nil
}

func (s *MemoryJobStore) ListActive(ctx context.Context) ([]*models.JobRecord, error) {
	return s.list(func(job *models.JobRecord) bool { return !job.IsTerminal() }), nil
}

func (s *MemoryJobStore) ListByParent(ctx context.Context, parentID string) ([]*models.JobRecord, error) {
	return s.list(func(job *models.JobRecord) bool { return job.ParentJobID == parentID }), nil
}

func (s *MemoryJobStore) list(match func(job *models.JobRecord) bool) []*models.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.JobRecord, 0)
	for _, id := range s.order {
		if job := s.jobs[id]; match(job) {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

func cloneJob(job *models.JobRecord) *models.JobRecord {
	cloned := *job
	cloned.Params = job.Params.Clone()
	cloned.Result = job.Result.Clone()
	if job.StartedAt != nil {
		startedAt := *job.StartedAt
		cloned.StartedAt = &startedAt
	}
	if job.FinishedAt != nil {
		finishedAt := *job.FinishedAt
		cloned.FinishedAt = &finishedAt
	}
	return &cloned
}
