/*
 * @module service/models/job_record
 * @description 任务编排簿记模型：任务类型、任务状态、任务参数、筛选条件与任务结果
 * @architecture 数据模型层
 * @stateFlow pending -> running -> (retrying -> running)* -> succeeded | failed
 * @rules 任务终态只能是 succeeded 或 failed，failed 必须带失败原因
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/orchestrator/orchestrator.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobKind 任务类型
type JobKind string

const (
	JobKindCheckOnly        JobKind = "check_only"
	JobKindCheckThenImprove JobKind = "check_then_improve"
	JobKindBatchCheck       JobKind = "batch_check"
	JobKindBatchImprove     JobKind = "batch_improve"
)

// IsBatch 是否为批量任务
func (k JobKind) IsBatch() bool {
	return k == JobKindBatchCheck || k == JobKindBatchImprove
}

// Valid 是否为已知任务类型
func (k JobKind) Valid() bool {
	switch k {
	case JobKindCheckOnly, JobKindCheckThenImprove, JobKindBatchCheck, JobKindBatchImprove:
		return true
	}
	return false
}

// 任务状态
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusRetrying  = "retrying"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// IsTerminalJobStatus 是否为终态
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusSucceeded || status == JobStatusFailed
}

// JobRecord 任务记录
type JobRecord struct {
	ID             string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind           JobKind    `gorm:"type:varchar(30);not null;index" json:"kind"`
	ItemID         string     `gorm:"type:varchar(36);index" json:"item_id,omitempty"`
	IdempotencyKey string     `gorm:"type:varchar(255);not null;index" json:"idempotency_key"`
	Status         string     `gorm:"type:varchar(20);not null;index" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts    int        `gorm:"not null;default:0" json:"max_attempts"`
	IterationsUsed int        `gorm:"not null;default:0" json:"iterations_used"` // 各次尝试累计提交的改进迭代
	LastError      string     `gorm:"type:text" json:"last_error,omitempty"`
	ErrorKind      string     `gorm:"type:varchar(30)" json:"error_kind,omitempty"`
	Params         JSONB      `gorm:"type:jsonb" json:"params"`
	Result         JSONB      `gorm:"type:jsonb" json:"result,omitempty"`
	ParentJobID    string     `gorm:"type:varchar(36);index" json:"parent_job_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (JobRecord) TableName() string {
	return "job_records"
}

// BeforeCreate 创建前钩子
func (j *JobRecord) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	return nil
}

// IsTerminal 是否处于终态
func (j *JobRecord) IsTerminal() bool {
	return IsTerminalJobStatus(j.Status)
}

// ItemFilter 批量任务的条目筛选条件
type ItemFilter struct {
	IDs           []string   `json:"ids,omitempty"`
	NeverChecked  bool       `json:"never_checked,omitempty"`
	CheckedBefore *time.Time `json:"checked_before,omitempty"` // 与 NeverChecked 同时设置时取并集
	MinScore      *int       `json:"min_score,omitempty"`      // 含
	MaxScore      *int       `json:"max_score,omitempty"`      // 含
	BelowScore    *int       `json:"below_score,omitempty"`    // 不含
	Limit         int        `json:"limit,omitempty"`
}

// Matches 判断条目是否满足筛选条件（Limit 由调用方处理）
func (f *ItemFilter) Matches(item *ExplainedItem) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, item.ID) {
		return false
	}

	switch {
	case f.NeverChecked && f.CheckedBefore != nil:
		if !item.NeverChecked() && !item.QualityCheckedAt.Before(*f.CheckedBefore) {
			return false
		}
	case f.NeverChecked:
		if !item.NeverChecked() {
			return false
		}
	case f.CheckedBefore != nil:
		if item.NeverChecked() || !item.QualityCheckedAt.Before(*f.CheckedBefore) {
			return false
		}
	}

	if f.MinScore != nil && item.QualityScore < *f.MinScore {
		return false
	}
	if f.MaxScore != nil && item.QualityScore > *f.MaxScore {
		return false
	}
	if f.BelowScore != nil && item.QualityScore >= *f.BelowScore {
		return false
	}
	return true
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// CheckResult 单条检查结果
type CheckResult struct {
	ItemID           string    `json:"item_id"`
	Score            float64   `json:"score"`
	NeedsImprovement []string  `json:"needs_improvement,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// CheckThenImproveResult 检查并改进结果
type CheckThenImproveResult struct {
	ItemID             string  `json:"item_id"`
	ScoreBefore        float64 `json:"score_before"`
	ScoreAfter         float64 `json:"score_after"`
	ImprovementRan     bool    `json:"improvement_ran"`
	Iterations         int     `json:"iterations"`
	Persisted          bool    `json:"persisted"`
	Delta              float64 `json:"delta"`
	Regressed          bool    `json:"regressed"`
	ImprovementVersion int     `json:"improvement_version"`
}

// BatchResult 批量扇出结果
type BatchResult struct {
	Matched     int      `json:"matched"`
	Enqueued    int      `json:"enqueued"`
	Deduped     int      `json:"deduped"`
	ChildJobIDs []string `json:"child_job_ids"`
}
