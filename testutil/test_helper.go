/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"explanation-service/service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
// 每个实例使用独立的共享缓存内存库，连接池限制为1个连接，保证多协程看到同一份数据
func NewTestDB() *TestDB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Sprintf("failed to get sql db: %v", err))
	}
	sqlDB.SetMaxOpenConns(1)

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.ExplainedItem{},
		&models.JobRecord{},
		&models.QualityCheckRecord{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"explained_items",
		"job_records",
		"quality_check_records",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// ExplainedItemOption 条目选项函数类型
type ExplainedItemOption func(*models.ExplainedItem)

// WithSections 设置章节
func WithSections(sections models.JSONB) ExplainedItemOption {
	return func(item *models.ExplainedItem) {
		item.Sections = sections
	}
}

// WithoutSections 删除指定章节
func WithoutSections(names ...string) ExplainedItemOption {
	return func(item *models.ExplainedItem) {
		for _, name := range names {
			delete(item.Sections, name)
		}
	}
}

// WithCheckedAt 设置上次检查时间和分数
func WithCheckedAt(checkedAt time.Time, score int) ExplainedItemOption {
	return func(item *models.ExplainedItem) {
		t := checkedAt.UTC()
		item.QualityCheckedAt = &t
		item.QualityScore = score
	}
}

// WithID 设置条目ID
func WithID(id string) ExplainedItemOption {
	return func(item *models.ExplainedItem) {
		item.ID = id
	}
}

// NewExplainedItem 构建条目（不落库）
func NewExplainedItem(opts ...ExplainedItemOption) *models.ExplainedItem {
	item := &models.ExplainedItem{
		ID:         uuid.New().String(),
		Title:      "Bhagavad Gita 2.47",
		SourceText: "You have a right to perform your prescribed duty, but you are not entitled to the fruits of action.",
		Sections:   CompleteSections(),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(item)
	}
	return item
}

// CreateExplainedItem 创建测试条目
func (f *TestDataFactory) CreateExplainedItem(opts ...ExplainedItemOption) *models.ExplainedItem {
	item := NewExplainedItem(opts...)

	if err := f.DB.Create(item).Error; err != nil {
		panic(fmt.Sprintf("failed to create test explained item: %v", err))
	}
	return item
}

// CompleteSections 返回全部必填章节完整且格式正确的章节集合
func CompleteSections() models.JSONB {
	return models.JSONB{
		models.SectionSummary:             "Act without attachment to the results of your actions.",
		models.SectionDetailedMeaning:     "The verse separates the duty to act from any claim over its outcome.",
		models.SectionDetailedExplanation: "Krishna tells Arjuna that action is his responsibility while results belong to a larger order.",
		models.SectionContext:             "Spoken on the battlefield of Kurukshetra as Arjuna hesitates to fight.",
		models.SectionWhyThisMatters:      "It relieves anxiety about outcomes that are outside our control.",
		models.SectionModernExamples: []interface{}{
			map[string]interface{}{"category": "Work", "description": "Doing careful work without obsessing over the performance review."},
			map[string]interface{}{"category": "Study", "description": "Preparing thoroughly for an exam and accepting the grade."},
		},
		models.SectionThemes: []interface{}{"duty", "detachment", "karma yoga"},
	}
}

// HTTPTestHelper HTTP测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 创建JSON请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// AssertJSONResponse 断言JSON响应状态码并解析响应体
func (h *HTTPTestHelper) AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, out interface{}) {
	assert.Equal(t, expectedStatus, w.Code)

	if out != nil {
		err := json.Unmarshal(w.Body.Bytes(), out)
		assert.NoError(t, err)
	}
}
