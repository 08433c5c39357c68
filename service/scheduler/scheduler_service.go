/**
 * @module SchedulerService
 * @description 质量维护调度器，按日/周/月触发批量检查或批量改进任务
 * @architecture 基于robfig/cron的调度器模式
 * @stateFlow 触发器声明 -> 校验并编译为cron表达式 -> 到点解析相对筛选条件 -> 提交批量任务
 * @rules 错过的触发不补跑；同一触发器上一次的批量任务未结束时复用该任务；触发器非法时启动失败
 * @dependencies github.com/robfig/cron/v3, service/orchestrator
 * @refs service/orchestrator/orchestrator.go, service/config/config.go
 */

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"explanation-service/service/errdef"
	"explanation-service/service/improvement"
	"explanation-service/service/models"
	"explanation-service/service/monitoring"
	"explanation-service/service/orchestrator"
)

// Cadence 触发周期
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// TriggerFilter 触发器筛选条件，相对时间在触发时解析
type TriggerFilter struct {
	NeverChecked      bool `json:"never_checked,omitempty" yaml:"never_checked"`
	CheckedBeforeDays int  `json:"checked_before_days,omitempty" yaml:"checked_before_days"`
	BelowScore        *int `json:"below_score,omitempty" yaml:"below_score"`
	MinScore          *int `json:"min_score,omitempty" yaml:"min_score"`
	MaxScore          *int `json:"max_score,omitempty" yaml:"max_score"`
	Limit             int  `json:"limit,omitempty" yaml:"limit"`
}

// Trigger 调度触发器
type Trigger struct {
	Name          string         `json:"name" yaml:"name"`
	Cadence       Cadence        `json:"cadence" yaml:"cadence"`
	Hour          int            `json:"hour" yaml:"hour"`
	Minute        int            `json:"minute" yaml:"minute"`
	Weekday       int            `json:"weekday,omitempty" yaml:"weekday"`           // 0 为周日，仅 weekly
	DayOfMonth    int            `json:"day_of_month,omitempty" yaml:"day_of_month"` // 仅 monthly
	JobKind       models.JobKind `json:"job_kind" yaml:"job_kind"`
	Filter        TriggerFilter  `json:"filter" yaml:"filter"`
	Threshold     *float64       `json:"threshold,omitempty" yaml:"threshold"`
	MaxIterations *int           `json:"max_iterations,omitempty" yaml:"max_iterations"`
	Disabled      bool           `json:"disabled,omitempty" yaml:"disabled"`
}

// Validate 校验触发器
func (t Trigger) Validate() error {
	op := "scheduler.trigger"
	if t.Name == "" {
		return errdef.Configuration(op, "触发器缺少名称")
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return errdef.Configuration(op, "触发器 %s 时间非法: %02d:%02d", t.Name, t.Hour, t.Minute)
	}

	switch t.Cadence {
	case CadenceDaily:
	case CadenceWeekly:
		if t.Weekday < 0 || t.Weekday > 6 {
			return errdef.Configuration(op, "触发器 %s 星期非法: %d", t.Name, t.Weekday)
		}
	case CadenceMonthly:
		if t.DayOfMonth < 1 || t.DayOfMonth > 28 {
			return errdef.Configuration(op, "触发器 %s 日期必须在1到28之间: %d", t.Name, t.DayOfMonth)
		}
	default:
		return errdef.Configuration(op, "触发器 %s 周期非法: %s", t.Name, t.Cadence)
	}

	if !t.JobKind.IsBatch() {
		return errdef.Configuration(op, "触发器 %s 只能提交批量任务: %s", t.Name, t.JobKind)
	}

	f := t.Filter
	if !f.NeverChecked && f.CheckedBeforeDays == 0 && f.BelowScore == nil && f.MinScore == nil && f.MaxScore == nil {
		return errdef.Configuration(op, "触发器 %s 缺少筛选条件", t.Name)
	}
	if f.CheckedBeforeDays < 0 || f.Limit < 0 {
		return errdef.Configuration(op, "触发器 %s 筛选条件不能为负", t.Name)
	}

	if t.Threshold != nil || t.MaxIterations != nil {
		threshold, maxIterations := 0.0, 1
		if t.Threshold != nil {
			threshold = *t.Threshold
		}
		if t.MaxIterations != nil {
			maxIterations = *t.MaxIterations
		}
		if err := improvement.ValidateBounds(threshold, maxIterations); err != nil {
			return errdef.Configuration(op, "触发器 %s 参数非法: %v", t.Name, err)
		}
	}
	return nil
}

// CronSpec 编译为秒级cron表达式
func (t Trigger) CronSpec() (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	switch t.Cadence {
	case CadenceWeekly:
		return fmt.Sprintf("0 %d %d * * %d", t.Minute, t.Hour, t.Weekday), nil
	case CadenceMonthly:
		return fmt.Sprintf("0 %d %d %d * *", t.Minute, t.Hour, t.DayOfMonth), nil
	default:
		return fmt.Sprintf("0 %d %d * * *", t.Minute, t.Hour), nil
	}
}

// ResolveFilter 以 now 为基准解析相对筛选条件
func (t Trigger) ResolveFilter(now time.Time) models.ItemFilter {
	filter := models.ItemFilter{
		NeverChecked: t.Filter.NeverChecked,
		BelowScore:   t.Filter.BelowScore,
		MinScore:     t.Filter.MinScore,
		MaxScore:     t.Filter.MaxScore,
		Limit:        t.Filter.Limit,
	}
	if t.Filter.CheckedBeforeDays > 0 {
		before := now.UTC().AddDate(0, 0, -t.Filter.CheckedBeforeDays)
		filter.CheckedBefore = &before
	}
	return filter
}

// DefaultTriggers 默认维护触发器
func DefaultTriggers() []Trigger {
	below := 70
	return []Trigger{
		{
			Name:    "daily-unchecked",
			Cadence: CadenceDaily,
			Hour:    2,
			JobKind: models.JobKindBatchCheck,
			Filter:  TriggerFilter{NeverChecked: true},
		},
		{
			Name:    "weekly-improve",
			Cadence: CadenceWeekly,
			Hour:    3,
			Weekday: int(time.Sunday),
			JobKind: models.JobKindBatchImprove,
			Filter:  TriggerFilter{BelowScore: &below},
		},
		{
			Name:       "monthly-recheck",
			Cadence:    CadenceMonthly,
			Hour:       4,
			DayOfMonth: 1,
			JobKind:    models.JobKindBatchCheck,
			Filter:     TriggerFilter{CheckedBeforeDays: 30},
		},
	}
}

// JobSubmitter 任务提交接口
type JobSubmitter interface {
	Submit(ctx context.Context, kind models.JobKind, params orchestrator.JobParams) (string, error)
}

// SchedulerService 调度器服务
type SchedulerService struct {
	submitter JobSubmitter
	cron      *cron.Cron
	now       func() time.Time

	mu       sync.RWMutex
	triggers map[string]Trigger
	entries  map[string]cron.EntryID
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSchedulerService 创建调度器服务
func NewSchedulerService(submitter JobSubmitter, triggers []Trigger, location *time.Location) *SchedulerService {
	if location == nil {
		location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &SchedulerService{
		submitter: submitter,
		cron:      cron.New(cron.WithSeconds(), cron.WithLocation(location)),
		now:       time.Now,
		triggers:  make(map[string]Trigger, len(triggers)),
		entries:   make(map[string]cron.EntryID, len(triggers)),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, trigger := range triggers {
		s.triggers[trigger.Name] = trigger
	}
	return s
}

// Start 校验并注册全部触发器后启动调度器
func (s *SchedulerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.triggers))
	for name := range s.triggers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		trigger := s.triggers[name]
		spec, err := trigger.CronSpec()
		if err != nil {
			s.removeEntries()
			return err
		}
		if trigger.Disabled {
			slog.Info("触发器已禁用", "trigger", name)
			continue
		}

		triggerName := name
		entryID, err := s.cron.AddFunc(spec, func() {
			if _, err := s.Fire(s.ctx, triggerName); err != nil {
				slog.Error("定时触发失败", "trigger", triggerName, "error", err)
			}
		})
		if err != nil {
			s.removeEntries()
			return errdef.Configuration("scheduler.start", "注册触发器 %s 失败: %v", name, err)
		}
		s.entries[name] = entryID
		slog.Info("添加定时触发器", "trigger", name, "cron", spec, "job_kind", trigger.JobKind)
	}

	s.cron.Start()
	slog.Info("调度器启动完成", "triggers", len(s.entries))
	return nil
}

func (s *SchedulerService) removeEntries() {
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Stop 停止调度器，等待正在执行的触发返回
func (s *SchedulerService) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("调度器已停止")
}

// Fire 立即执行触发器，返回批量任务ID
func (s *SchedulerService) Fire(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	trigger, ok := s.triggers[name]
	s.mu.RUnlock()
	if !ok {
		monitoring.SchedulerFirings.WithLabelValues(name, "unknown").Inc()
		return "", errdef.Validation("scheduler.fire", "触发器不存在: %s", name)
	}

	filter := trigger.ResolveFilter(s.now())
	jobID, err := s.submitter.Submit(ctx, trigger.JobKind, orchestrator.JobParams{
		Filter:         &filter,
		Threshold:      trigger.Threshold,
		MaxIterations:  trigger.MaxIterations,
		IdempotencyKey: "trigger:" + trigger.Name,
	})
	if err != nil {
		monitoring.SchedulerFirings.WithLabelValues(name, "error").Inc()
		return "", err
	}

	monitoring.SchedulerFirings.WithLabelValues(name, "submitted").Inc()
	slog.Info("触发器已提交批量任务", "trigger", name, "job_id", jobID, "job_kind", trigger.JobKind)
	return jobID, nil
}

// Triggers 返回按名称排序的触发器
func (s *SchedulerService) Triggers() []Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	triggers := make([]Trigger, 0, len(s.triggers))
	for _, trigger := range s.triggers {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Name < triggers[j].Name })
	return triggers
}

// NextRun 返回触发器下一次执行时间，未注册时返回 false
func (s *SchedulerService) NextRun(name string) (time.Time, bool) {
	s.mu.RLock()
	id, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	return entry.Next, entry.Valid()
}
