/*
 * @module service/models/test_utils
 * @description 模型测试辅助工具
 * @architecture 测试基础设施 - 专门为模型测试提供工具
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 避免循环导入，专门为模型层测试提供工具
 * @dependencies gorm, sqlite, time
 */

package models

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ModelTestDB 模型测试数据库配置
type ModelTestDB struct {
	DB *gorm.DB
}

// NewModelTestDB 创建模型测试数据库
func NewModelTestDB() *ModelTestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 内存库每个连接独立，限制为1个连接
	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Sprintf("failed to get sql db: %v", err))
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&ExplainedItem{},
		&QualityCheckRecord{},
		&JobRecord{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &ModelTestDB{DB: db}
}

// Close 关闭数据库连接
func (tdb *ModelTestDB) Close() {
	if sqlDB, err := tdb.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// createTestItem 创建测试条目
func createTestItem(db *gorm.DB, title string, score int, checkedAt *time.Time) *ExplainedItem {
	item := &ExplainedItem{
		Title:            title,
		SourceText:       "示例原文",
		QualityScore:     score,
		QualityCheckedAt: checkedAt,
	}
	if err := db.Create(item).Error; err != nil {
		panic(fmt.Sprintf("failed to create test item: %v", err))
	}
	return item
}
