/*
 * @module service/models/explained_item
 * @description 解释内容条目模型及质量检查历史模型
 * @architecture 数据模型层
 * @stateFlow 外部创建 -> 质量检查(分数/时间) -> 改进(章节/分数/版本号)
 * @rules quality_score 取值 [0,100]；improvement_version 只增不减；version 为乐观锁令牌
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/content_store/gorm_store.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExplainedItem 解释内容条目
type ExplainedItem struct {
	ID                 string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title              string     `gorm:"type:varchar(255)" json:"title"`
	SourceText         string     `gorm:"type:text" json:"source_text"`
	Sections           JSONB      `gorm:"type:jsonb" json:"sections"`
	QualityScore       int        `gorm:"not null;default:0;index" json:"quality_score"` // 0 表示从未评估
	QualityCheckedAt   *time.Time `gorm:"index" json:"quality_checked_at,omitempty"`
	ImprovementVersion int        `gorm:"not null;default:0" json:"improvement_version"`
	Version            int64      `gorm:"not null;default:0" json:"version"`
	AIModelUsed        string     `gorm:"type:varchar(100)" json:"ai_model_used,omitempty"`
	GenerationPrompt   string     `gorm:"type:text" json:"generation_prompt,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (ExplainedItem) TableName() string {
	return "explained_items"
}

// BeforeCreate 创建前钩子
func (e *ExplainedItem) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Sections == nil {
		e.Sections = JSONB{}
	}
	return nil
}

// Section 获取章节取值
func (e *ExplainedItem) Section(name string) (interface{}, bool) {
	if e.Sections == nil {
		return nil, false
	}
	value, ok := e.Sections[name]
	return value, ok
}

// SetSection 设置章节取值
func (e *ExplainedItem) SetSection(name string, value interface{}) {
	if e.Sections == nil {
		e.Sections = JSONB{}
	}
	e.Sections[name] = value
}

// SetQualityScore 设置质量分数，超出范围时截断
func (e *ExplainedItem) SetQualityScore(score int) {
	switch {
	case score < 0:
		score = 0
	case score > 100:
		score = 100
	}
	e.QualityScore = score
}

// Clone 深拷贝条目，候选版本在此基础上修改
func (e *ExplainedItem) Clone() *ExplainedItem {
	if e == nil {
		return nil
	}
	cloned := *e
	cloned.Sections = e.Sections.Clone()
	if e.QualityCheckedAt != nil {
		checkedAt := *e.QualityCheckedAt
		cloned.QualityCheckedAt = &checkedAt
	}
	return &cloned
}

// NeverChecked 是否从未评估
func (e *ExplainedItem) NeverChecked() bool {
	return e.QualityCheckedAt == nil
}

// QualityCheckRecord 质量检查历史记录
type QualityCheckRecord struct {
	ID                 string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	ItemID             string           `gorm:"type:varchar(36);not null;index" json:"item_id"`
	JobID              string           `gorm:"type:varchar(36);index" json:"job_id"`
	OverallScore       float64          `json:"overall_score"`
	Dimensions         JSONB            `gorm:"type:jsonb" json:"dimensions"`
	NeedsImprovement   JSONBStringArray `gorm:"type:jsonb" json:"needs_improvement"`
	ImprovementVersion int              `json:"improvement_version"`
	CheckedAt          time.Time        `gorm:"index" json:"checked_at"`
}

// TableName 指定表名
func (QualityCheckRecord) TableName() string {
	return "quality_check_records"
}

// BeforeCreate 创建前钩子
func (q *QualityCheckRecord) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// NewQualityCheckRecord 根据评估报告构建检查记录
func NewQualityCheckRecord(item *ExplainedItem, report *QualityReport, jobID string) *QualityCheckRecord {
	dimensions := JSONB{}
	for _, d := range report.Dimensions {
		dimensions[d.Name] = map[string]interface{}{
			"score":    d.Score,
			"max":      d.Max,
			"feedback": d.Feedback,
		}
	}

	return &QualityCheckRecord{
		ItemID:             item.ID,
		JobID:              jobID,
		OverallScore:       report.OverallScore,
		Dimensions:         dimensions,
		NeedsImprovement:   JSONBStringArray(append([]string(nil), report.NeedsImprovement...)),
		ImprovementVersion: item.ImprovementVersion,
		CheckedAt:          report.EvaluatedAt,
	}
}
