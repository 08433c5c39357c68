/*
 * @module service/orchestrator/orchestrator
 * @description 任务编排器，负责任务提交、幂等去重、任务队列、工作池分发、按条目加锁执行、重试与结果查询
 * @architecture 分层架构 - 任务调度层
 * @stateFlow Submit -> pending -> 入队 -> 获取条目锁 -> running -> (retrying -> running)* -> succeeded | failed
 * @rules 同一幂等键在任务未进入终态前只对应一个任务；同一条目同一时刻最多一个任务在执行；条目被占用时重新入队且不消耗尝试次数；只接管超过失联时长未更新的执行中任务
 * @dependencies service/content_store, service/quality, service/improvement, service/distributed_lock, service/event
 * @refs service/scheduler/scheduler_service.go, api/controllers/job_controller.go
 */

package orchestrator

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"explanation-service/service/content_store"
	"explanation-service/service/distributed_lock"
	"explanation-service/service/errdef"
	"explanation-service/service/event"
	"explanation-service/service/improvement"
	"explanation-service/service/models"
	"explanation-service/service/monitoring"
	"explanation-service/service/quality"
)

const (
	itemLockPrefix = "explanation:item:"
	jobLockPrefix  = "explanation:job:"
)

// JobParams 任务参数
type JobParams struct {
	ItemID         string             `json:"item_id,omitempty"`
	Threshold      *float64           `json:"threshold,omitempty"`
	MaxIterations  *int               `json:"max_iterations,omitempty"`
	Filter         *models.ItemFilter `json:"filter,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	ParentJobID    string             `json:"-"`
}

// Improver 条目改进能力
type Improver interface {
	ImproveWithReport(ctx context.Context, item *models.ExplainedItem, report *models.QualityReport,
		threshold float64, maxIterations int, commit improvement.CommitFunc) (*models.ImprovementOutcome, error)
}

// Dependencies 编排器依赖
type Dependencies struct {
	Store     content_store.ContentStore
	Jobs      JobStore
	Evaluator quality.Evaluator
	Improver  Improver
	Lock      distributed_lock.DistributedLock
	Publisher event.Publisher
}

// Orchestrator 任务编排器
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	retry  *RetryManager
	locker *distributed_lock.LockExecutor

	queue chan string

	// 已入队或正在执行的任务ID，避免同一任务被重复分发
	mu     sync.Mutex
	queued map[string]bool

	submitMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New 创建任务编排器，未提供的任务存储、锁和事件发布器使用进程内实现
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Evaluator == nil || deps.Improver == nil {
		return nil, errdef.Configuration("orchestrator.new", "条目存储、评估器和改进引擎不能为空")
	}
	if deps.Jobs == nil {
		deps.Jobs = NewMemoryJobStore()
	}
	if deps.Lock == nil {
		deps.Lock = distributed_lock.NewLocalLock()
	}
	if deps.Publisher == nil {
		deps.Publisher = event.NewLogPublisher()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		retry:  NewRetryManager(cfg.Retry),
		locker: distributed_lock.NewLockExecutor(deps.Lock),
		queue:  make(chan string, cfg.QueueSize),
		queued: make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start 恢复未完成的任务并启动工作池
func (o *Orchestrator) Start(ctx context.Context) error {
	var startErr error
	o.startOnce.Do(func() {
		recovered, err := o.recoverJobs(ctx)
		if err != nil {
			startErr = err
			return
		}
		if recovered > 0 {
			slog.Info("恢复未完成任务", "count", recovered)
		}

		for i := 0; i < o.cfg.Workers; i++ {
			o.wg.Add(1)
			go o.worker()
		}
		o.wg.Add(1)
		go o.recoverLoop()
		slog.Info("任务编排器已启动", "workers", o.cfg.Workers, "queue_size", o.cfg.QueueSize)
	})
	return startErr
}

// staleAfter 执行中的任务超过该时长未更新即视为执行者已失联
func (o *Orchestrator) staleAfter() time.Duration {
	stale := o.cfg.LockTTL
	if d := o.cfg.JobTimeout + o.cfg.Retry.MaxBackoff; d > stale {
		stale = d
	}
	return stale
}

// recoverJobs 重新入队待处理任务和已失联的执行中任务
// 其他实例仍在更新的执行中任务保持不动
func (o *Orchestrator) recoverJobs(ctx context.Context) (int, error) {
	jobs, err := o.deps.Jobs.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	staleBefore := time.Now().UTC().Add(-o.staleAfter())
	recovered := 0
	for _, job := range jobs {
		if o.isQueued(job.ID) {
			continue
		}
		if job.Status != models.JobStatusPending {
			if job.UpdatedAt.After(staleBefore) {
				continue
			}
			job.Status = models.JobStatusPending
			if err := o.deps.Jobs.Update(ctx, job); err != nil {
				slog.Error("重置未完成任务失败", "job_id", job.ID, "error", err)
				continue
			}
		}
		o.enqueue(job.ID)
		recovered++
	}
	return recovered, nil
}

// recoverLoop 周期性接管失联实例留下的任务
func (o *Orchestrator) recoverLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.staleAfter())
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			recovered, err := o.recoverJobs(o.ctx)
			if err != nil {
				slog.Warn("扫描未完成任务失败", "error", err)
				continue
			}
			if recovered > 0 {
				slog.Info("接管失联任务", "count", recovered)
			}
		}
	}
}

// Stop 停止工作池，正在执行的任务被中断后重置为待处理，下次启动时恢复
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
	slog.Info("任务编排器已停止")
}

// Submit 提交任务，同一幂等键已有未完成任务时返回该任务ID
func (o *Orchestrator) Submit(ctx context.Context, kind models.JobKind, params JobParams) (string, error) {
	id, _, err := o.submit(ctx, kind, params)
	return id, err
}

func (o *Orchestrator) submit(ctx context.Context, kind models.JobKind, params JobParams) (string, bool, error) {
	if err := o.normalize(kind, &params); err != nil {
		return "", false, err
	}
	key := params.IdempotencyKey
	if key == "" {
		key = defaultIdempotencyKey(kind, params)
	}

	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	existing, err := o.deps.Jobs.FindActiveByKey(ctx, key)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		slog.Debug("相同任务仍在处理中，返回已有任务", "job_id", existing.ID, "idempotency_key", key)
		return existing.ID, false, nil
	}

	encoded, err := models.ToJSONB(params)
	if err != nil {
		return "", false, errdef.Validation("orchestrator.submit", "任务参数序列化失败: %v", err)
	}
	job := &models.JobRecord{
		Kind:           kind,
		ItemID:         params.ItemID,
		IdempotencyKey: key,
		Status:         models.JobStatusPending,
		MaxAttempts:    o.cfg.Retry.MaxAttempts,
		Params:         encoded,
		ParentJobID:    params.ParentJobID,
	}
	if err := o.deps.Jobs.Create(ctx, job); err != nil {
		return "", false, err
	}

	slog.Info("任务已提交", "job_id", job.ID, "kind", kind, "item_id", params.ItemID)
	o.enqueue(job.ID)
	return job.ID, true, nil
}

// normalize 校验任务参数并补全默认阈值和迭代上限
func (o *Orchestrator) normalize(kind models.JobKind, params *JobParams) error {
	if !kind.Valid() {
		return errdef.Validation("orchestrator.submit", "未知任务类型: %s", kind)
	}

	if kind.IsBatch() {
		if filterEmpty(params.Filter) {
			return errdef.Validation("orchestrator.submit", "批量任务必须指定筛选条件")
		}
		if params.Filter.Limit < 0 {
			return errdef.Validation("orchestrator.submit", "筛选数量上限不能为负: %d", params.Filter.Limit)
		}
		params.ItemID = ""
	} else {
		if params.ItemID == "" {
			return errdef.Validation("orchestrator.submit", "任务缺少条目ID")
		}
		params.Filter = nil
	}

	threshold := o.cfg.DefaultThreshold
	if params.Threshold != nil {
		threshold = *params.Threshold
	}
	maxIterations := o.cfg.DefaultMaxIterations
	if params.MaxIterations != nil {
		maxIterations = *params.MaxIterations
	}
	if err := improvement.ValidateBounds(threshold, maxIterations); err != nil {
		return err
	}
	params.Threshold = &threshold
	params.MaxIterations = &maxIterations
	return nil
}

func filterEmpty(f *models.ItemFilter) bool {
	if f == nil {
		return true
	}
	return len(f.IDs) == 0 && !f.NeverChecked && f.CheckedBefore == nil &&
		f.MinScore == nil && f.MaxScore == nil && f.BelowScore == nil
}

// defaultIdempotencyKey 条目任务按类型和条目ID去重，批量任务按类型和筛选条件去重
func defaultIdempotencyKey(kind models.JobKind, params JobParams) string {
	if !kind.IsBatch() {
		return fmt.Sprintf("%s:%s", kind, params.ItemID)
	}
	data, _ := json.Marshal(params.Filter)
	sum := sha1.Sum(data)
	return fmt.Sprintf("%s:%s", kind, hex.EncodeToString(sum[:]))
}

func itemLockKey(itemID string) string {
	return itemLockPrefix + itemID
}

func jobLockKey(jobID string) string {
	return jobLockPrefix + jobID
}

// enqueue 任务入队，队列已满时由后台协程等待空位
func (o *Orchestrator) enqueue(id string) {
	o.mu.Lock()
	if o.queued[id] {
		o.mu.Unlock()
		return
	}
	o.queued[id] = true
	o.mu.Unlock()

	monitoring.QueueDepth.Inc()
	select {
	case o.queue <- id:
	default:
		go o.push(id)
	}
}

func (o *Orchestrator) push(id string) {
	select {
	case o.queue <- id:
	case <-o.ctx.Done():
		monitoring.QueueDepth.Dec()
	}
}

// requeueLater 条目被占用时延迟重新入队
func (o *Orchestrator) requeueLater(id string) {
	time.AfterFunc(o.cfg.LockRetryInterval, func() {
		monitoring.QueueDepth.Inc()
		o.push(id)
	})
}

func (o *Orchestrator) isQueued(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queued[id]
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.queued, id)
	o.mu.Unlock()
}

// worker 工作协程
func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case id := <-o.queue:
			monitoring.QueueDepth.Dec()
			o.process(id)
		}
	}
}

// process 执行单个任务，条目任务在条目锁内执行
func (o *Orchestrator) process(id string) {
	job, err := o.deps.Jobs.Get(o.ctx, id)
	if err != nil {
		slog.Error("加载任务失败", "job_id", id, "error", err)
		if errdef.KindOf(err) == errdef.KindValidation {
			o.release(id)
		} else {
			o.requeueLater(id)
		}
		return
	}
	if job.IsTerminal() {
		o.release(id)
		return
	}

	lockKey := itemLockKey(job.ItemID)
	if job.Kind.IsBatch() {
		lockKey = jobLockKey(job.ID)
	}

	acquired, err := o.locker.ExecuteWithLockAndRefresh(o.ctx, lockKey, o.cfg.LockTTL, o.cfg.LockTTL/3, func() error {
		// 持锁后重新读取，任务可能已被其他实例执行完毕
		current, err := o.deps.Jobs.Get(o.ctx, id)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return nil
		}
		o.runAttempts(current)
		return nil
	})
	if acquired && errdef.KindOf(err) == errdef.KindValidation {
		slog.Error("任务记录已不存在", "job_id", id, "error", err)
		o.release(id)
		return
	}
	if err != nil || !acquired {
		if o.ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("获取条目锁失败，稍后重试", "job_id", id, "item_id", job.ItemID, "error", err)
		} else {
			slog.Debug("条目正在被其他任务处理，稍后重试", "job_id", id, "item_id", job.ItemID)
		}
		o.requeueLater(id)
		return
	}
	o.release(id)
}

// runAttempts 在重试策略内反复执行任务直到成功、失败或服务停止
func (o *Orchestrator) runAttempts(job *models.JobRecord) {
	for {
		job.Attempts++
		job.Status = models.JobStatusRunning
		if job.StartedAt == nil {
			now := time.Now().UTC()
			job.StartedAt = &now
		}
		o.persist(job)

		result, err := o.attempt(job)
		if err == nil {
			monitoring.JobAttemptsTotal.WithLabelValues(string(job.Kind), "success").Inc()
			o.succeed(job, result)
			return
		}
		monitoring.JobAttemptsTotal.WithLabelValues(string(job.Kind), string(errdef.KindOf(err))).Inc()

		if o.ctx.Err() != nil {
			// 被中断的尝试不计数
			job.Attempts--
			o.resetPending(job, err)
			return
		}

		if !o.retry.ShouldRetry(job.Attempts, err) {
			if errdef.IsRetryable(err) {
				err = &errdef.ExhaustedRetriesError{Attempts: job.Attempts, Last: err}
			}
			o.fail(job, err)
			return
		}

		backoff := o.retry.Backoff(job.Attempts, err)
		job.Status = models.JobStatusRetrying
		job.LastError = err.Error()
		job.ErrorKind = string(errdef.KindOf(err))
		o.persist(job)
		slog.Warn("任务执行失败，等待重试",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempt", job.Attempts,
			"backoff", backoff,
			"error", err)

		if waitErr := o.retry.Wait(o.ctx, backoff); waitErr != nil {
			o.resetPending(job, err)
			return
		}
	}
}

// attempt 单次执行，受单次超时约束
func (o *Orchestrator) attempt(job *models.JobRecord) (result interface{}, err error) {
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("任务执行异常", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("任务执行异常: %v", r)
		}
	}()

	var params JobParams
	if err := models.DecodeJSONB(job.Params, &params); err != nil {
		return nil, errdef.Validation("orchestrator.execute", "任务参数解析失败: %v", err)
	}
	params.ParentJobID = job.ParentJobID
	if params.Threshold == nil {
		threshold := o.cfg.DefaultThreshold
		params.Threshold = &threshold
	}
	if params.MaxIterations == nil {
		maxIterations := o.cfg.DefaultMaxIterations
		params.MaxIterations = &maxIterations
	}

	result, err = o.execute(ctx, job, params)
	if err != nil && o.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errdef.Transient("orchestrator.timeout", fmt.Errorf("单次执行超过 %s: %w", o.cfg.JobTimeout, err))
	}
	return result, err
}

func (o *Orchestrator) succeed(job *models.JobRecord, result interface{}) {
	encoded, err := models.ToJSONB(result)
	if err != nil {
		slog.Error("任务结果序列化失败", "job_id", job.ID, "error", err)
	}
	job.Result = encoded
	job.Status = models.JobStatusSucceeded
	job.LastError = ""
	job.ErrorKind = ""
	o.finish(job)

	slog.Info("任务执行成功", "job_id", job.ID, "kind", job.Kind, "item_id", job.ItemID, "attempts", job.Attempts)
	o.publish(job, event.EventJobSucceeded)
}

func (o *Orchestrator) fail(job *models.JobRecord, err error) {
	job.Status = models.JobStatusFailed
	job.LastError = err.Error()
	job.ErrorKind = string(errdef.KindOf(err))
	o.finish(job)

	slog.Error("任务执行失败",
		"job_id", job.ID,
		"kind", job.Kind,
		"item_id", job.ItemID,
		"attempts", job.Attempts,
		"error_kind", job.ErrorKind,
		"error", err)
	o.publish(job, event.EventJobFailed)
}

func (o *Orchestrator) finish(job *models.JobRecord) {
	now := time.Now().UTC()
	job.FinishedAt = &now
	o.persist(job)

	monitoring.JobsTotal.WithLabelValues(string(job.Kind), job.Status).Inc()
	if job.StartedAt != nil {
		monitoring.JobDuration.WithLabelValues(string(job.Kind)).Observe(now.Sub(*job.StartedAt).Seconds())
	}
}

func (o *Orchestrator) resetPending(job *models.JobRecord, cause error) {
	job.Status = models.JobStatusPending
	o.persist(job)
	slog.Info("服务停止，任务重置为待处理", "job_id", job.ID, "attempts", job.Attempts, "cause", cause)
}

// persist 写回任务记录，不受服务停止影响
func (o *Orchestrator) persist(job *models.JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Jobs.Update(ctx, job); err != nil {
		slog.Error("更新任务记录失败", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

func (o *Orchestrator) publish(job *models.JobRecord, eventType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	evt := &event.JobEvent{
		Type:      eventType,
		JobID:     job.ID,
		Kind:      string(job.Kind),
		ItemID:    job.ItemID,
		Status:    job.Status,
		Attempts:  job.Attempts,
		ErrorKind: job.ErrorKind,
		Error:     job.LastError,
		Result:    job.Result,
		Timestamp: time.Now().UTC(),
	}
	if err := o.deps.Publisher.Publish(ctx, evt); err != nil {
		slog.Warn("发布任务事件失败", "job_id", job.ID, "error", err)
	}
}

// ChildSummary 批量任务子任务统计
type ChildSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Done 子任务是否全部进入终态
func (c *ChildSummary) Done() bool {
	return c.Pending == 0 && c.Running == 0
}

// JobStatus 任务状态查询结果
type JobStatus struct {
	Job      *models.JobRecord `json:"job"`
	Children *ChildSummary     `json:"children,omitempty"`
}

// Terminal 任务及其子任务是否全部进入终态
func (s *JobStatus) Terminal() bool {
	if !s.Job.IsTerminal() {
		return false
	}
	return s.Children == nil || s.Children.Done()
}

// DecodeResult 将任务结果解码到 out
func (s *JobStatus) DecodeResult(out interface{}) error {
	return models.DecodeJSONB(s.Job.Result, out)
}

// GetResult 查询任务状态，批量任务附带子任务统计
func (o *Orchestrator) GetResult(ctx context.Context, id string) (*JobStatus, error) {
	job, err := o.deps.Jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	status := &JobStatus{Job: job}
	if !job.Kind.IsBatch() {
		return status, nil
	}

	children, err := o.deps.Jobs.ListByParent(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := &ChildSummary{Total: len(children)}
	for _, child := range children {
		switch child.Status {
		case models.JobStatusPending:
			summary.Pending++
		case models.JobStatusRunning, models.JobStatusRetrying:
			summary.Running++
		case models.JobStatusSucceeded:
			summary.Succeeded++
		case models.JobStatusFailed:
			summary.Failed++
		}
	}
	status.Children = summary
	return status, nil
}

// WaitForResult 轮询直到任务及其子任务全部进入终态
func (o *Orchestrator) WaitForResult(ctx context.Context, id string) (*JobStatus, error) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := o.GetResult(ctx, id)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, errdef.Transient("orchestrator.wait", ctx.Err())
		case <-ticker.C:
		}
	}
}
