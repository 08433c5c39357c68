/*
 * @module service/content_store/store
 * @description 条目存储接口：按ID加载、带版本令牌保存、按筛选条件选择条目
 * @architecture 分层架构 - 数据访问层
 * @stateFlow Load(条目, 令牌) -> 修改 -> Save(条目, 令牌) -> 新令牌 | 冲突
 * @rules 令牌不匹配时返回冲突错误，绝不覆盖较新的写入；improvement_version 不得回退
 * @dependencies service/models, service/errdef
 * @refs service/orchestrator/jobs.go
 */

package content_store

import (
	"context"

	"explanation-service/service/models"
)

// ContentStore 条目存储
type ContentStore interface {
	// Load 加载条目及其版本令牌，条目不存在时返回校验错误
	Load(ctx context.Context, id string) (*models.ExplainedItem, int64, error)
	// Save 以令牌为前提写回条目，返回新令牌
	Save(ctx context.Context, item *models.ExplainedItem, token int64) (int64, error)
	// Select 返回满足筛选条件的条目ID，按ID排序
	Select(ctx context.Context, filter models.ItemFilter) ([]string, error)
}

// CheckRecorder 质量检查历史记录，存储实现可选支持
type CheckRecorder interface {
	RecordCheck(ctx context.Context, record *models.QualityCheckRecord) error
}
