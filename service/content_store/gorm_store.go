/*
 * @module service/content_store/gorm_store
 * @description 基于gorm的条目存储，支持PostgreSQL和SQLite
 * @architecture 分层架构 - 数据访问层
 * @stateFlow UPDATE ... WHERE id = ? AND version = ? -> 影响行数为0时区分不存在和冲突
 * @rules 保存时只更新质量流水线拥有的字段；version 每次保存加1
 * @dependencies gorm.io/gorm
 * @refs service/database/connect.go
 */

package content_store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"explanation-service/service/errdef"
	"explanation-service/service/models"

	"gorm.io/gorm"
)

// GormStore gorm条目存储
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建gorm条目存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Load 加载条目
func (s *GormStore) Load(ctx context.Context, id string) (*models.ExplainedItem, int64, error) {
	var item models.ExplainedItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, errdef.Validation("content_store.load", "条目不存在: %s", id)
		}
		return nil, 0, errdef.Transient("content_store.load", fmt.Errorf("查询条目失败: %w", err))
	}
	return &item, item.Version, nil
}

// Save 乐观锁保存条目
func (s *GormStore) Save(ctx context.Context, item *models.ExplainedItem, token int64) (int64, error) {
	if item == nil || item.ID == "" {
		return 0, errdef.Validation("content_store.save", "条目为空或缺少ID")
	}

	sections := item.Sections
	if sections == nil {
		sections = models.JSONB{}
	}
	next := token + 1

	result := s.db.WithContext(ctx).
		Model(&models.ExplainedItem{}).
		Where("id = ? AND version = ? AND improvement_version <= ?", item.ID, token, item.ImprovementVersion).
		Updates(map[string]interface{}{
			"sections":            sections,
			"quality_score":       item.QualityScore,
			"quality_checked_at":  item.QualityCheckedAt,
			"improvement_version": item.ImprovementVersion,
			"ai_model_used":       item.AIModelUsed,
			"generation_prompt":   item.GenerationPrompt,
			"version":             next,
			"updated_at":          time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, errdef.Transient("content_store.save", fmt.Errorf("保存条目失败: %w", result.Error))
	}

	if result.RowsAffected == 0 {
		return 0, s.explainMiss(ctx, item, token)
	}

	item.Version = next
	slog.Debug("条目已保存", "item_id", item.ID, "version", next, "improvement_version", item.ImprovementVersion)
	return next, nil
}

// explainMiss 区分条目不存在、版本冲突和改进版本回退
func (s *GormStore) explainMiss(ctx context.Context, item *models.ExplainedItem, token int64) error {
	var current models.ExplainedItem
	err := s.db.WithContext(ctx).Select("id", "version", "improvement_version").
		Where("id = ?", item.ID).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errdef.Validation("content_store.save", "条目不存在: %s", item.ID)
	}
	if err != nil {
		return errdef.Transient("content_store.save", fmt.Errorf("查询条目失败: %w", err))
	}
	if current.Version != token {
		return errdef.Conflict("content_store.save", "条目 %s 版本冲突: 期望 %d, 当前 %d", item.ID, token, current.Version)
	}
	return errdef.Validation("content_store.save", "条目 %s 改进版本不能回退: %d -> %d",
		item.ID, current.ImprovementVersion, item.ImprovementVersion)
}

// Select 按筛选条件选择条目ID
func (s *GormStore) Select(ctx context.Context, filter models.ItemFilter) ([]string, error) {
	query := s.db.WithContext(ctx).Model(&models.ExplainedItem{})

	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}

	switch {
	case filter.NeverChecked && filter.CheckedBefore != nil:
		query = query.Where("quality_checked_at IS NULL OR quality_checked_at < ?", *filter.CheckedBefore)
	case filter.NeverChecked:
		query = query.Where("quality_checked_at IS NULL")
	case filter.CheckedBefore != nil:
		query = query.Where("quality_checked_at IS NOT NULL AND quality_checked_at < ?", *filter.CheckedBefore)
	}

	if filter.MinScore != nil {
		query = query.Where("quality_score >= ?", *filter.MinScore)
	}
	if filter.MaxScore != nil {
		query = query.Where("quality_score <= ?", *filter.MaxScore)
	}
	if filter.BelowScore != nil {
		query = query.Where("quality_score < ?", *filter.BelowScore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	ids := make([]string, 0)
	if err := query.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, errdef.Transient("content_store.select", fmt.Errorf("筛选条目失败: %w", err))
	}
	return ids, nil
}

// RecordCheck 写入质量检查历史
func (s *GormStore) RecordCheck(ctx context.Context, record *models.QualityCheckRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return errdef.Transient("content_store.record_check", fmt.Errorf("写入检查记录失败: %w", err))
	}
	return nil
}

// Create 新增条目，供命令行导入和测试使用
func (s *GormStore) Create(ctx context.Context, item *models.ExplainedItem) error {
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("创建条目失败: %w", err)
	}
	return nil
}
