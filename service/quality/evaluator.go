/*
 * @module service/quality/evaluator
 * @description 解释内容质量评估器：两个规则维度 + 三个委托生成服务的维度，合计0-100分
 * @architecture 分层架构 - 领域服务层
 * @stateFlow 输入校验 -> 规则维度 -> LLM维度(逐个请求) -> 汇总取整 -> 标记待改进章节
 * @rules 不读写存储；生成服务失败时整体失败，不返回部分分数；未知章节返回校验错误
 * @dependencies service/generation, github.com/PuerkitoBio/goquery
 * @refs service/improvement/engine.go, service/orchestrator/jobs.go
 */

package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"explanation-service/service/errdef"
	"explanation-service/service/generation"
	"explanation-service/service/models"
	"explanation-service/service/monitoring"
)

// Config 评估器配置
type Config struct {
	Precision       int     `json:"precision" yaml:"precision"`                 // 总分保留小数位
	MinSectionChars int     `json:"min_section_chars" yaml:"min_section_chars"` // 章节视为存在的最少可见字符数
	MaxSectionChars int     `json:"max_section_chars" yaml:"max_section_chars"`
	FloorRatio      float64 `json:"floor_ratio" yaml:"floor_ratio"` // 维度低于 上限*比例 时关联章节待改进
	Temperature     float64 `json:"temperature" yaml:"temperature"`
}

// DefaultConfig 默认评估器配置
var DefaultConfig = Config{
	Precision:       2,
	MinSectionChars: 10,
	MaxSectionChars: 10000,
	FloorRatio:      0.6,
	Temperature:     0.2,
}

// Evaluator 质量评估接口
type Evaluator interface {
	Evaluate(ctx context.Context, item *models.ExplainedItem) (*models.QualityReport, error)
}

// QualityEvaluator 质量评估器
type QualityEvaluator struct {
	client generation.Client
	cfg    Config
	now    func() time.Time
}

// NewQualityEvaluator 创建质量评估器
func NewQualityEvaluator(client generation.Client, cfg Config) *QualityEvaluator {
	if cfg.Precision < 0 {
		cfg.Precision = DefaultConfig.Precision
	}
	if cfg.MinSectionChars <= 0 {
		cfg.MinSectionChars = DefaultConfig.MinSectionChars
	}
	if cfg.MaxSectionChars <= 0 {
		cfg.MaxSectionChars = DefaultConfig.MaxSectionChars
	}
	if cfg.FloorRatio <= 0 || cfg.FloorRatio > 1 {
		cfg.FloorRatio = DefaultConfig.FloorRatio
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultConfig.Temperature
	}

	return &QualityEvaluator{
		client: client,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate 评估条目质量
func (e *QualityEvaluator) Evaluate(ctx context.Context, item *models.ExplainedItem) (*models.QualityReport, error) {
	if err := validateItem(item); err != nil {
		monitoring.EvaluationErrors.WithLabelValues(string(errdef.KindValidation)).Inc()
		return nil, err
	}

	rules := e.evaluateRules(item)

	report := &models.QualityReport{
		ItemID:      item.ID,
		Feedback:    make(map[string]string, len(Dimensions)),
		EvaluatedAt: e.now(),
	}
	report.Dimensions = append(report.Dimensions,
		models.DimensionScore{
			Name:     models.DimensionCompleteness,
			Score:    rules.completeness,
			Max:      dimensionMax(models.DimensionCompleteness),
			Feedback: completenessFeedback(rules.missing),
		},
		models.DimensionScore{
			Name:     models.DimensionStructure,
			Score:    rules.structure,
			Max:      dimensionMax(models.DimensionStructure),
			Feedback: structureFeedback(rules.issues),
		},
	)

	content := renderContent(item)
	for _, dim := range Dimensions {
		if !dim.LLM {
			continue
		}
		score, err := e.scoreWithLLM(ctx, item, dim, content)
		if err != nil {
			monitoring.EvaluationErrors.WithLabelValues(string(errdef.KindOf(err))).Inc()
			slog.Warn("质量评估失败", "item_id", item.ID, "dimension", dim.Name, "error", err)
			return nil, err
		}
		report.Dimensions = append(report.Dimensions, score)
	}

	total := 0.0
	for _, d := range report.Dimensions {
		report.Feedback[d.Name] = d.Feedback
		total += d.Score
	}
	report.OverallScore = clamp(roundTo(total, e.cfg.Precision), 0, 100)
	report.NeedsImprovement = e.weakSections(report, rules)

	monitoring.EvaluationScore.Observe(report.OverallScore)
	slog.Debug("质量评估完成",
		"item_id", item.ID,
		"overall", report.OverallScore,
		"needs_improvement", report.NeedsImprovement)

	return report, nil
}

// scoreWithLLM 委托生成服务评分单个维度
func (e *QualityEvaluator) scoreWithLLM(ctx context.Context, item *models.ExplainedItem, dim Dimension, content string) (models.DimensionScore, error) {
	upper := int(dim.Max)
	prompt := generation.Prompt{
		System: fmt.Sprintf("You are a strict reviewer of explanatory content. %s\n"+
			"Score this dimension as an integer from 0 to %d and give one or two sentences of actionable feedback.",
			dim.Rubric, upper),
		User:        content,
		Temperature: e.cfg.Temperature,
		MaxTokens:   500,
	}
	schema := &generation.ResponseSchema{
		Name: dim.Name,
		Fields: []generation.Field{
			{Name: "score", Type: generation.FieldInteger, Description: fmt.Sprintf("integer between 0 and %d", upper)},
			{Name: "feedback", Type: generation.FieldString, Description: "actionable feedback"},
		},
	}

	result, err := e.client.Generate(ctx, prompt, schema)
	if err != nil {
		return models.DimensionScore{}, classifyGenerationError("quality.evaluate."+dim.Name, err)
	}

	raw, err := result.Float("score")
	if err != nil {
		return models.DimensionScore{}, err
	}
	feedback, _ := result.String("feedback")

	// 先在浮点域截断到 [0, max] 再取整，避免极大值转换溢出
	score := math.Trunc(clamp(raw, 0, dim.Max))
	if raw != score {
		slog.Debug("LLM评分超出范围，已截断", "item_id", item.ID, "dimension", dim.Name, "raw", raw, "clamped", score)
	}

	return models.DimensionScore{
		Name:     dim.Name,
		Score:    score,
		Max:      dim.Max,
		Feedback: strings.TrimSpace(feedback),
	}, nil
}

// weakSections 按声明顺序列出待改进章节
func (e *QualityEvaluator) weakSections(report *models.QualityReport, rules *ruleResult) []string {
	belowFloor := make(map[string]bool)
	for _, d := range report.Dimensions {
		if d.Score < d.Max*e.cfg.FloorRatio {
			belowFloor[d.Name] = true
		}
	}

	weak := make([]string, 0)
	for _, spec := range models.SectionCatalog {
		finding := rules.findings[spec.Name]
		isWeak := (spec.Required && !finding.present) || finding.broken
		for _, dim := range sectionDimensions[spec.Name] {
			if belowFloor[dim] {
				isWeak = true
			}
		}
		if isWeak {
			weak = append(weak, spec.Name)
		}
	}
	return weak
}

// validateItem 校验输入条目
func validateItem(item *models.ExplainedItem) error {
	if item == nil {
		return errdef.Validation("quality.evaluate", "条目为空")
	}
	if strings.TrimSpace(item.ID) == "" {
		return errdef.Validation("quality.evaluate", "条目缺少ID")
	}

	unknown := make([]string, 0)
	for name := range item.Sections {
		if _, ok := models.LookupSection(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errdef.Validation("quality.evaluate", "条目 %s 含未知章节: %s", item.ID, strings.Join(unknown, ", "))
	}
	return nil
}

// classifyGenerationError 未分类的生成服务错误按瞬时错误处理
func classifyGenerationError(op string, err error) error {
	if errdef.KindOf(err) == errdef.KindUnknown {
		return errdef.Transient(op, err)
	}
	return err
}

// renderContent 将条目渲染为评分用的文本
func renderContent(item *models.ExplainedItem) string {
	var b strings.Builder
	if item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", item.Title)
	}
	if item.SourceText != "" {
		fmt.Fprintf(&b, "Source text:\n%s\n\n", item.SourceText)
	}
	b.WriteString("Explanation:\n")
	for _, spec := range models.SectionCatalog {
		value, ok := item.Section(spec.Name)
		if !ok || value == nil {
			fmt.Fprintf(&b, "\n## %s\n(missing)\n", spec.Label)
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", spec.Label, RenderSectionValue(value))
	}
	return b.String()
}

// RenderSectionValue 将章节取值渲染为文本
func RenderSectionValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	default:
		entries, ok := asList(v)
		if !ok {
			return fmt.Sprintf("%v", v)
		}
		lines := make([]string, 0, len(entries))
		for _, entry := range entries {
			if obj, isObject := entry.(map[string]interface{}); isObject {
				lines = append(lines, fmt.Sprintf("- %v: %v", obj["category"], obj["description"]))
				continue
			}
			lines = append(lines, fmt.Sprintf("- %v", entry))
		}
		return strings.Join(lines, "\n")
	}
}

func completenessFeedback(missing []string) string {
	if len(missing) == 0 {
		return "all required sections present"
	}
	return "missing or too short: " + strings.Join(missing, ", ")
}

func structureFeedback(issues []string) string {
	if len(issues) == 0 {
		return "well-formed"
	}
	return strings.Join(issues, "; ")
}

// roundTo 按精度四舍五入
func roundTo(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
