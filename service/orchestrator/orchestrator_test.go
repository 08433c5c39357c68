package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"explanation-service/service/content_store"
	"explanation-service/service/distributed_lock"
	"explanation-service/service/errdef"
	"explanation-service/service/event"
	"explanation-service/service/improvement"
	"explanation-service/service/models"
	"explanation-service/service/quality"
	"explanation-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig
	cfg.Workers = 4
	cfg.QueueSize = 100
	cfg.JobTimeout = 2 * time.Second
	cfg.LockTTL = 5 * time.Second
	cfg.LockRetryInterval = 10 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Retry = RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     10 * time.Millisecond,
	}
	return cfg
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.JobEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *event.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []*event.JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.JobEvent(nil), p.events...)
}

type testEnv struct {
	store     *content_store.MemoryStore
	jobs      *MemoryJobStore
	lock      *distributed_lock.LocalLock
	publisher *recordingPublisher
	deps      Dependencies
}

func newTestEnv(client *testutil.FakeGenerationClient, items ...*models.ExplainedItem) *testEnv {
	evaluator := quality.NewQualityEvaluator(client, quality.DefaultConfig)
	env := &testEnv{
		store:     content_store.NewMemoryStore(items...),
		jobs:      NewMemoryJobStore(),
		lock:      distributed_lock.NewLocalLock(),
		publisher: &recordingPublisher{},
	}
	env.deps = Dependencies{
		Store:     env.store,
		Jobs:      env.jobs,
		Evaluator: evaluator,
		Improver:  improvement.NewEngine(evaluator, client, improvement.DefaultConfig),
		Lock:      env.lock,
		Publisher: env.publisher,
	}
	return env
}

func startOrchestrator(t *testing.T, cfg Config, deps Dependencies) *Orchestrator {
	t.Helper()
	o, err := New(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o
}

func waitForJob(t *testing.T, o *Orchestrator, id string) *JobStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := o.WaitForResult(ctx, id)
	require.NoError(t, err)
	return status
}

func TestOrchestrator_CheckOnlyRetriesTransientFailures(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	client.FailFirst = 2
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	o := startOrchestrator(t, testConfig(), env.deps)

	id, err := o.Submit(context.Background(), models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	assert.Equal(t, models.JobStatusSucceeded, status.Job.Status)
	assert.Equal(t, 3, status.Job.Attempts)
	assert.Empty(t, status.Job.LastError)

	var result models.CheckResult
	require.NoError(t, status.DecodeResult(&result))
	assert.Equal(t, item.ID, result.ItemID)
	assert.Equal(t, 100.0, result.Score)

	stored, _, err := env.store.Load(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.QualityScore)
	assert.False(t, stored.NeverChecked())
	assert.Len(t, env.store.Checks(), 1)
}

func TestOrchestrator_RetryCapProducesExhaustedFailure(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	client.FailFirst = 100
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	o := startOrchestrator(t, testConfig(), env.deps)

	id, err := o.Submit(context.Background(), models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	assert.Equal(t, models.JobStatusFailed, status.Job.Status)
	assert.Equal(t, 5, status.Job.Attempts)
	assert.Equal(t, string(errdef.KindExhausted), status.Job.ErrorKind)
	assert.Contains(t, status.Job.LastError, "重试5次后仍然失败")
	assert.Equal(t, 5, client.TotalCalls())

	require.Eventually(t, func() bool {
		events := env.publisher.Events()
		return len(events) == 1 && events[0].Type == event.EventJobFailed
	}, time.Second, 5*time.Millisecond)

	stored, _, err := env.store.Load(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, stored.NeverChecked())
}

func TestOrchestrator_ValidationErrorFailsWithoutRetry(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	env := newTestEnv(client)
	o := startOrchestrator(t, testConfig(), env.deps)

	id, err := o.Submit(context.Background(), models.JobKindCheckOnly, JobParams{ItemID: "missing-item"})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	assert.Equal(t, models.JobStatusFailed, status.Job.Status)
	assert.Equal(t, 1, status.Job.Attempts)
	assert.Equal(t, string(errdef.KindValidation), status.Job.ErrorKind)
	assert.Equal(t, 0, client.TotalCalls())
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	env := newTestEnv(testutil.NewFakeGenerationClient(testutil.MaxScores()))
	o, err := New(testConfig(), env.deps)
	require.NoError(t, err)

	threshold := 150.0
	zero := 0
	tests := []struct {
		name   string
		kind   models.JobKind
		params JobParams
		want   errdef.Kind
	}{
		{"未知任务类型", models.JobKind("rewrite_all"), JobParams{ItemID: "a"}, errdef.KindValidation},
		{"缺少条目ID", models.JobKindCheckOnly, JobParams{}, errdef.KindValidation},
		{"批量任务缺少筛选条件", models.JobKindBatchCheck, JobParams{}, errdef.KindValidation},
		{"批量任务筛选条件为空", models.JobKindBatchImprove, JobParams{Filter: &models.ItemFilter{}}, errdef.KindValidation},
		{"阈值越界", models.JobKindCheckThenImprove, JobParams{ItemID: "a", Threshold: &threshold}, errdef.KindConfiguration},
		{"迭代上限为0", models.JobKindCheckThenImprove, JobParams{ItemID: "a", MaxIterations: &zero}, errdef.KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(context.Background(), tt.kind, tt.params)
			require.Error(t, err)
			assert.Equal(t, tt.want, errdef.KindOf(err))
		})
	}

	active, err := env.jobs.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestOrchestrator_IdempotentWhileInFlight(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem()
	other := testutil.NewExplainedItem()
	env := newTestEnv(client, item, other)
	o, err := New(testConfig(), env.deps)
	require.NoError(t, err)
	t.Cleanup(o.Stop)
	ctx := context.Background()

	first, err := o.Submit(ctx, models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)
	second, err := o.Submit(ctx, models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	improve, err := o.Submit(ctx, models.JobKindCheckThenImprove, JobParams{ItemID: item.ID})
	require.NoError(t, err)
	assert.NotEqual(t, first, improve)

	keyed, err := o.Submit(ctx, models.JobKindCheckOnly, JobParams{ItemID: other.ID, IdempotencyKey: "nightly"})
	require.NoError(t, err)
	sameKey, err := o.Submit(ctx, models.JobKindCheckOnly, JobParams{ItemID: item.ID, IdempotencyKey: "nightly"})
	require.NoError(t, err)
	assert.Equal(t, keyed, sameKey)

	require.NoError(t, o.Start(ctx))
	waitForJob(t, o, first)
	waitForJob(t, o, improve)

	third, err := o.Submit(ctx, models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	waitForJob(t, o, third)
}

func TestOrchestrator_BatchCheckFansOutToNeverCheckedItems(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	checkedAt := time.Now().Add(-time.Hour).UTC()

	items := make([]*models.ExplainedItem, 0, 10)
	for i := 0; i < 7; i++ {
		items = append(items, testutil.NewExplainedItem())
	}
	for i := 0; i < 3; i++ {
		items = append(items, testutil.NewExplainedItem(testutil.WithCheckedAt(checkedAt, 90)))
	}
	env := newTestEnv(client, items...)
	o := startOrchestrator(t, testConfig(), env.deps)

	id, err := o.Submit(context.Background(), models.JobKindBatchCheck, JobParams{
		Filter: &models.ItemFilter{NeverChecked: true},
	})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	assert.Equal(t, models.JobStatusSucceeded, status.Job.Status)
	require.NotNil(t, status.Children)
	assert.Equal(t, 7, status.Children.Total)
	assert.Equal(t, 7, status.Children.Succeeded)
	assert.Equal(t, 0, status.Children.Failed)

	var result models.BatchResult
	require.NoError(t, status.DecodeResult(&result))
	assert.Equal(t, 7, result.Matched)
	assert.Equal(t, 7, result.Enqueued)
	assert.Equal(t, 0, result.Deduped)
	assert.Len(t, result.ChildJobIDs, 7)

	for i, item := range items {
		stored, _, err := env.store.Load(context.Background(), item.ID)
		require.NoError(t, err)
		if i < 7 {
			assert.False(t, stored.NeverChecked())
			assert.Equal(t, 100, stored.QualityScore)
		} else {
			assert.True(t, stored.QualityCheckedAt.Equal(checkedAt))
			assert.Equal(t, 90, stored.QualityScore)
		}
	}
}

// trackingEvaluator 记录同一条目的最大并发评估数
type trackingEvaluator struct {
	inner quality.Evaluator

	mu        sync.Mutex
	active    map[string]int
	maxActive int
}

func (e *trackingEvaluator) Evaluate(ctx context.Context, item *models.ExplainedItem) (*models.QualityReport, error) {
	e.mu.Lock()
	e.active[item.ID]++
	if e.active[item.ID] > e.maxActive {
		e.maxActive = e.active[item.ID]
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active[item.ID]--
		e.mu.Unlock()
	}()

	time.Sleep(20 * time.Millisecond)
	return e.inner.Evaluate(ctx, item)
}

func TestOrchestrator_PerItemMutualExclusion(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	tracker := &trackingEvaluator{inner: env.deps.Evaluator, active: map[string]int{}}
	env.deps.Evaluator = tracker
	o := startOrchestrator(t, testConfig(), env.deps)

	ids := make([]string, 0, 5)
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		id, err := o.Submit(context.Background(), models.JobKindCheckOnly, JobParams{ItemID: item.ID, IdempotencyKey: key})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		status := waitForJob(t, o, id)
		assert.Equal(t, models.JobStatusSucceeded, status.Job.Status)
		assert.Equal(t, 1, status.Job.Attempts)
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Equal(t, 1, tracker.maxActive)
}

// conflictingStore 前 N 次保存返回版本冲突
type conflictingStore struct {
	*content_store.MemoryStore

	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) Save(ctx context.Context, item *models.ExplainedItem, token int64) (int64, error) {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return 0, errdef.Conflict("content_store.save", "条目 %s 版本冲突", item.ID)
	}
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, item, token)
}

func TestOrchestrator_ConflictIsRetried(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	env.deps.Store = &conflictingStore{MemoryStore: env.store, conflicts: 1}
	o := startOrchestrator(t, testConfig(), env.deps)

	id, err := o.Submit(context.Background(), models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	assert.Equal(t, models.JobStatusSucceeded, status.Job.Status)
	assert.Equal(t, 2, status.Job.Attempts)
}

// blockingEvaluator 一直阻塞到上下文结束
type blockingEvaluator struct {
	started chan struct{}
	once    sync.Once
}

func (e *blockingEvaluator) Evaluate(ctx context.Context, item *models.ExplainedItem) (*models.QualityReport, error) {
	e.once.Do(func() { close(e.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOrchestrator_AttemptTimeoutIsTransient(t *testing.T) {
	item := testutil.NewExplainedItem()
	env := newTestEnv(testutil.NewFakeGenerationClient(testutil.MaxScores()), item)
	env.deps.Evaluator = &blockingEvaluator{started: make(chan struct{})}

	cfg := testConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	cfg.Retry.MaxAttempts = 3
	o := startOrchestrator(t, cfg, env.deps)

	id, err := o.Submit(context.Background(), models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	assert.Equal(t, models.JobStatusFailed, status.Job.Status)
	assert.Equal(t, 3, status.Job.Attempts)
	assert.Equal(t, string(errdef.KindExhausted), status.Job.ErrorKind)
	assert.Contains(t, status.Job.LastError, "orchestrator.timeout")
}

func TestOrchestrator_CheckThenImprove(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem(testutil.WithoutSections(
		models.SectionContext, models.SectionWhyThisMatters, models.SectionModernExamples))
	env := newTestEnv(client, item)
	o := startOrchestrator(t, testConfig(), env.deps)

	threshold := 95.0
	id, err := o.Submit(context.Background(), models.JobKindCheckThenImprove, JobParams{ItemID: item.ID, Threshold: &threshold})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	require.Equal(t, models.JobStatusSucceeded, status.Job.Status)

	var result models.CheckThenImproveResult
	require.NoError(t, status.DecodeResult(&result))
	assert.True(t, result.ImprovementRan)
	assert.Equal(t, 89.29, result.ScoreBefore)
	assert.Equal(t, 100.0, result.ScoreAfter)
	assert.Equal(t, 1, result.Iterations)
	assert.True(t, result.Persisted)
	assert.False(t, result.Regressed)
	assert.Equal(t, 1, result.ImprovementVersion)

	stored, _, err := env.store.Load(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ImprovementVersion)
	assert.Equal(t, 100, stored.QualityScore)
	_, ok := stored.Section(models.SectionContext)
	assert.True(t, ok)
}

func TestOrchestrator_CheckThenImproveIterationCapSpansRetries(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.ZeroScores())
	summaryCalls := 0
	client.FailOn = func(call testutil.FakeCall) error {
		if call.Schema == improvement.SectionSchemaPrefix+models.SectionSummary {
			summaryCalls++
			if summaryCalls == 2 {
				return errdef.Transientf("fake.generate", "上游超时")
			}
		}
		return nil
	}
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	o := startOrchestrator(t, testConfig(), env.deps)

	threshold := 70.0
	maxIterations := 2
	id, err := o.Submit(context.Background(), models.JobKindCheckThenImprove,
		JobParams{ItemID: item.ID, Threshold: &threshold, MaxIterations: &maxIterations})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	require.Equal(t, models.JobStatusSucceeded, status.Job.Status)
	assert.Equal(t, 2, status.Job.Attempts)
	assert.Equal(t, 2, status.Job.IterationsUsed)

	var result models.CheckThenImproveResult
	require.NoError(t, status.DecodeResult(&result))
	assert.Equal(t, 2, result.Iterations, "第二次尝试只使用剩余的一次迭代")
	assert.True(t, result.Persisted)
	assert.Equal(t, 2, result.ImprovementVersion)

	stored, _, err := env.store.Load(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ImprovementVersion)
}

func TestOrchestrator_CheckThenImproveSkipsWhenAboveThreshold(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	o := startOrchestrator(t, testConfig(), env.deps)

	id, err := o.Submit(context.Background(), models.JobKindCheckThenImprove, JobParams{ItemID: item.ID})
	require.NoError(t, err)

	status := waitForJob(t, o, id)
	var result models.CheckThenImproveResult
	require.NoError(t, status.DecodeResult(&result))
	assert.False(t, result.ImprovementRan)
	assert.Equal(t, 0, result.Iterations)
	assert.Empty(t, client.RegeneratedSections())
}

func TestOrchestrator_HeldItemLockRequeuesWithoutConsumingAttempts(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	ctx := context.Background()

	locked, err := env.lock.TryLock(ctx, itemLockKey(item.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	o := startOrchestrator(t, testConfig(), env.deps)
	id, err := o.Submit(ctx, models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	status, err := o.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status.Job.Status)
	assert.Equal(t, 0, status.Job.Attempts)
	assert.Equal(t, 0, client.TotalCalls())

	require.NoError(t, env.lock.Unlock(ctx, itemLockKey(item.ID)))
	status = waitForJob(t, o, id)
	assert.Equal(t, models.JobStatusSucceeded, status.Job.Status)
	assert.Equal(t, 1, status.Job.Attempts)
}

func TestOrchestrator_RecoversUnfinishedJobsOnStart(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	ctx := context.Background()

	params, err := models.ToJSONB(JobParams{ItemID: item.ID})
	require.NoError(t, err)
	interrupted := &models.JobRecord{
		Kind:           models.JobKindCheckOnly,
		ItemID:         item.ID,
		IdempotencyKey: "check_only:" + item.ID,
		Status:         models.JobStatusRunning,
		Attempts:       1,
		MaxAttempts:    5,
		Params:         params,
	}
	require.NoError(t, env.jobs.Create(ctx, interrupted))
	backdateJob(env.jobs, interrupted.ID, time.Hour)

	o := startOrchestrator(t, testConfig(), env.deps)
	status := waitForJob(t, o, interrupted.ID)
	assert.Equal(t, models.JobStatusSucceeded, status.Job.Status)
	assert.Equal(t, 2, status.Job.Attempts)

	var result models.CheckResult
	require.NoError(t, status.DecodeResult(&result))
	assert.Equal(t, 100.0, result.Score)
}

// backdateJob 将任务的最后更新时间调早，模拟执行者已失联
func backdateJob(store *MemoryJobStore, id string, age time.Duration) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.jobs[id].UpdatedAt = time.Now().UTC().Add(-age)
}

func TestOrchestrator_StartLeavesRecentlyUpdatedRunningJobs(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	ctx := context.Background()

	params, err := models.ToJSONB(JobParams{ItemID: item.ID})
	require.NoError(t, err)
	owned := &models.JobRecord{
		Kind:           models.JobKindCheckOnly,
		ItemID:         item.ID,
		IdempotencyKey: "check_only:" + item.ID,
		Status:         models.JobStatusRunning,
		Attempts:       1,
		MaxAttempts:    5,
		Params:         params,
	}
	require.NoError(t, env.jobs.Create(ctx, owned))

	o := startOrchestrator(t, testConfig(), env.deps)
	assert.False(t, o.isQueued(owned.ID), "其他实例仍在更新的任务不被接管")

	time.Sleep(50 * time.Millisecond)
	job, err := env.jobs.Get(ctx, owned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 0, client.TotalCalls())

	backdateJob(env.jobs, owned.ID, time.Hour)
	recovered, err := o.recoverJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	status := waitForJob(t, o, owned.ID)
	assert.Equal(t, models.JobStatusSucceeded, status.Job.Status)
	assert.Equal(t, 2, status.Job.Attempts)
}

func TestOrchestrator_SkipsJobFinishedElsewhereBeforeLock(t *testing.T) {
	client := testutil.NewFakeGenerationClient(testutil.MaxScores())
	item := testutil.NewExplainedItem()
	env := newTestEnv(client, item)
	ctx := context.Background()

	o, err := New(testConfig(), env.deps)
	require.NoError(t, err)
	t.Cleanup(o.Stop)

	params, err := models.ToJSONB(JobParams{ItemID: item.ID})
	require.NoError(t, err)
	job := &models.JobRecord{
		Kind:           models.JobKindCheckOnly,
		ItemID:         item.ID,
		IdempotencyKey: "check_only:" + item.ID,
		Status:         models.JobStatusPending,
		Params:         params,
	}
	require.NoError(t, env.jobs.Create(ctx, job))

	// 另一实例在本实例拿到条目锁之前完成了任务
	o.deps.Jobs = &finishingJobStore{MemoryJobStore: env.jobs, finishOnGet: 2}
	o.process(job.ID)

	stored, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	assert.Equal(t, 0, client.TotalCalls())
	assert.False(t, o.isQueued(job.ID))
}

// finishingJobStore 在第 finishOnGet 次读取前把任务标记为已完成
type finishingJobStore struct {
	*MemoryJobStore
	gets        int
	finishOnGet int
}

func (s *finishingJobStore) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	s.gets++
	if s.gets == s.finishOnGet {
		job, err := s.MemoryJobStore.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		job.Status = models.JobStatusSucceeded
		if err := s.MemoryJobStore.Update(ctx, job); err != nil {
			return nil, err
		}
	}
	return s.MemoryJobStore.Get(ctx, id)
}

func TestOrchestrator_StopResetsRunningJobToPending(t *testing.T) {
	item := testutil.NewExplainedItem()
	env := newTestEnv(testutil.NewFakeGenerationClient(testutil.MaxScores()), item)
	blocking := &blockingEvaluator{started: make(chan struct{})}
	env.deps.Evaluator = blocking

	o, err := New(testConfig(), env.deps)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))

	id, err := o.Submit(context.Background(), models.JobKindCheckOnly, JobParams{ItemID: item.ID})
	require.NoError(t, err)

	select {
	case <-blocking.started:
	case <-time.After(5 * time.Second):
		t.Fatal("任务未开始执行")
	}
	o.Stop()

	job, err := env.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)

	locked, err := env.lock.IsLocked(context.Background(), itemLockKey(item.ID))
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestOrchestrator_GetResultUnknownJob(t *testing.T) {
	env := newTestEnv(testutil.NewFakeGenerationClient(testutil.MaxScores()))
	o, err := New(testConfig(), env.deps)
	require.NoError(t, err)

	_, err = o.GetResult(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.Equal(t, errdef.KindValidation, errdef.KindOf(err))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	env := newTestEnv(testutil.NewFakeGenerationClient(testutil.MaxScores()))

	cfg := testConfig()
	cfg.Workers = 0
	_, err := New(cfg, env.deps)
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))

	deps := env.deps
	deps.Improver = nil
	_, err = New(testConfig(), deps)
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))
}

func TestDefaultIdempotencyKey(t *testing.T) {
	assert.Equal(t, "check_only:item-1", defaultIdempotencyKey(models.JobKindCheckOnly, JobParams{ItemID: "item-1"}))

	below := 70
	a := defaultIdempotencyKey(models.JobKindBatchImprove, JobParams{Filter: &models.ItemFilter{BelowScore: &below}})
	b := defaultIdempotencyKey(models.JobKindBatchImprove, JobParams{Filter: &models.ItemFilter{BelowScore: &below}})
	c := defaultIdempotencyKey(models.JobKindBatchImprove, JobParams{Filter: &models.ItemFilter{NeverChecked: true}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
