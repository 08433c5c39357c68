/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新数据库表结构
 * @architecture 数据访问层 - 迁移管理
 * @stateFlow 应用启动时执行数据库迁移
 * @rules 确保数据库结构与模型定义保持一致
 * @dependencies explanation-service/service/models, gorm.io/gorm
 * @refs service/init.go
 */

package database

import (
	"fmt"
	"log/slog"

	"explanation-service/service/models"

	"gorm.io/gorm"
)

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{
		&models.ExplainedItem{},
		&models.QualityCheckRecord{},
		&models.JobRecord{},
	}
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	slog.Info("开始数据库迁移...")

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	slog.Info("数据库迁移完成")
	return nil
}
