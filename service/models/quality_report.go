/*
 * @module service/models/quality_report
 * @description 质量评估报告与改进结果模型（不单独持久化，返回给调用方并部分写回条目）
 * @architecture 数据模型层
 * @stateFlow 评估 -> 报告 -> 改进循环 -> 改进结果
 * @rules 各维度上限之和为100；总分等于各维度分数之和
 * @dependencies time
 * @refs service/quality/evaluator.go, service/improvement/engine.go
 */

package models

import (
	"math"
	"time"
)

// 评估维度名称
const (
	DimensionCompleteness = "completeness"
	DimensionStructure    = "structure"
	DimensionClarity      = "clarity"
	DimensionAccuracy     = "accuracy"
	DimensionRelevance    = "relevance"
)

// DimensionScore 单维度分数
type DimensionScore struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Max      float64 `json:"max"`
	Feedback string  `json:"feedback,omitempty"`
}

// QualityReport 质量评估报告
type QualityReport struct {
	ItemID           string            `json:"item_id"`
	OverallScore     float64           `json:"overall_score"`
	Dimensions       []DimensionScore  `json:"dimensions"`
	NeedsImprovement []string          `json:"needs_improvement"`
	Feedback         map[string]string `json:"feedback"`
	EvaluatedAt      time.Time         `json:"evaluated_at"`
}

// Dimension 按名称获取维度分数
func (r *QualityReport) Dimension(name string) (DimensionScore, bool) {
	for _, d := range r.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return DimensionScore{}, false
}

// ScoreInt 持久化用的整数分数
func (r *QualityReport) ScoreInt() int {
	score := int(math.Round(r.OverallScore))
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// IterationRecord 单次改进迭代记录
type IterationRecord struct {
	Iteration          int      `json:"iteration"`
	ScoreBefore        float64  `json:"score_before"`
	ScoreAfter         float64  `json:"score_after"`
	Sections           []string `json:"sections"`
	ImprovementVersion int      `json:"improvement_version"`
}

// ImprovementOutcome 改进结果
type ImprovementOutcome struct {
	ItemID       string            `json:"item_id"`
	InitialScore float64           `json:"initial_score"`
	FinalScore   float64           `json:"final_score"`
	Iterations   int               `json:"iterations"`
	Persisted    bool              `json:"persisted"`
	Delta        float64           `json:"delta"`
	Regressed    bool              `json:"regressed"` // 至少一次迭代后分数下降
	History      []IterationRecord `json:"history,omitempty"`
	FinalReport  *QualityReport    `json:"final_report,omitempty"`
	FinalItem    *ExplainedItem    `json:"-"`
}
