/*
 * @module service/improvement/engine
 * @description 改进引擎：根据质量报告重生成薄弱章节（无薄弱章节但未达标时重生成全部章节），重新评估，在迭代上限内循环
 * @architecture 分层架构 - 领域服务层
 * @stateFlow 评估 -> (达标则结束) -> 按声明顺序重生成薄弱章节 -> 重新评估 -> 接受候选并提交 -> 下一轮
 * @rules 迭代次数不超过上限；每轮至多一次持久化状态变更；分数下降同样接受但记录差值；重生成失败时中止当前轮，已提交状态不受影响
 * @dependencies service/quality, service/generation
 * @refs service/orchestrator/jobs.go
 */

package improvement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"explanation-service/service/errdef"
	"explanation-service/service/generation"
	"explanation-service/service/models"
	"explanation-service/service/monitoring"
	"explanation-service/service/quality"
)

// SectionSchemaPrefix 章节重生成请求的 schema 名称前缀
const SectionSchemaPrefix = generation.SectionSchemaPrefix

// CommitFunc 接受一轮候选结果后的提交回调，返回错误时引擎中止
type CommitFunc func(ctx context.Context, item *models.ExplainedItem) error

// Config 改进引擎配置
type Config struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// DefaultConfig 默认改进引擎配置
var DefaultConfig = Config{
	Temperature: 0.7,
	MaxTokens:   2000,
}

// Engine 改进引擎
type Engine struct {
	evaluator quality.Evaluator
	client    generation.Client
	cfg       Config
}

// NewEngine 创建改进引擎
func NewEngine(evaluator quality.Evaluator, client generation.Client, cfg Config) *Engine {
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultConfig.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig.MaxTokens
	}
	return &Engine{
		evaluator: evaluator,
		client:    client,
		cfg:       cfg,
	}
}

// ValidateBounds 校验阈值和迭代上限
func ValidateBounds(threshold float64, maxIterations int) error {
	if threshold < 0 || threshold > 100 {
		return errdef.Configuration("improvement.improve", "阈值必须在0到100之间: %v", threshold)
	}
	if maxIterations < 1 {
		return errdef.Configuration("improvement.improve", "最大迭代次数必须大于0: %d", maxIterations)
	}
	return nil
}

// Improve 在迭代上限内改进条目
// 返回的 outcome 在出错时也包含已完成的迭代
func (e *Engine) Improve(ctx context.Context, item *models.ExplainedItem, threshold float64, maxIterations int, commit CommitFunc) (*models.ImprovementOutcome, error) {
	if err := ValidateBounds(threshold, maxIterations); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errdef.Validation("improvement.improve", "条目为空")
	}

	report, err := e.evaluator.Evaluate(ctx, item)
	if err != nil {
		return nil, err
	}
	return e.ImproveWithReport(ctx, item, report, threshold, maxIterations, commit)
}

// ImproveWithReport 以已有的评估报告作为第一轮输入改进条目
func (e *Engine) ImproveWithReport(ctx context.Context, item *models.ExplainedItem, report *models.QualityReport, threshold float64, maxIterations int, commit CommitFunc) (*models.ImprovementOutcome, error) {
	if err := ValidateBounds(threshold, maxIterations); err != nil {
		return nil, err
	}
	if item == nil || report == nil {
		return nil, errdef.Validation("improvement.improve", "条目或评估报告为空")
	}

	outcome := &models.ImprovementOutcome{
		ItemID:       item.ID,
		InitialScore: report.OverallScore,
		FinalScore:   report.OverallScore,
		History:      make([]models.IterationRecord, 0, maxIterations),
		FinalReport:  report,
		FinalItem:    item,
	}

	current := item
	for outcome.Iterations < maxIterations {
		if report.OverallScore >= threshold {
			break
		}
		if err := ctx.Err(); err != nil {
			return outcome, errdef.Transient("improvement.improve", err)
		}

		sections := targetSections(current, report)
		if len(report.NeedsImprovement) == 0 {
			slog.Info("未识别出薄弱章节但仍低于阈值，重生成全部章节",
				"item_id", item.ID, "score", report.OverallScore, "threshold", threshold)
		}

		candidate, candidateReport, err := e.iterate(ctx, current, report, sections)
		if err != nil {
			slog.Warn("改进迭代中止",
				"item_id", item.ID,
				"iteration", outcome.Iterations+1,
				"error", err)
			return outcome, err
		}

		candidate.ImprovementVersion = current.ImprovementVersion + 1
		candidate.SetQualityScore(candidateReport.ScoreInt())
		checkedAt := candidateReport.EvaluatedAt
		candidate.QualityCheckedAt = &checkedAt

		if commit != nil {
			if err := commit(ctx, candidate); err != nil {
				return outcome, err
			}
		}

		record := models.IterationRecord{
			Iteration:          outcome.Iterations + 1,
			ScoreBefore:        report.OverallScore,
			ScoreAfter:         candidateReport.OverallScore,
			Sections:           sections,
			ImprovementVersion: candidate.ImprovementVersion,
		}
		outcome.History = append(outcome.History, record)
		outcome.Iterations++
		outcome.Persisted = true

		if record.ScoreAfter < record.ScoreBefore {
			monitoring.ImprovementRegressions.Inc()
			slog.Warn("改进后分数下降，仍接受为最新版本",
				"item_id", item.ID,
				"iteration", record.Iteration,
				"before", record.ScoreBefore,
				"after", record.ScoreAfter)
		} else {
			slog.Info("改进迭代完成",
				"item_id", item.ID,
				"iteration", record.Iteration,
				"before", record.ScoreBefore,
				"after", record.ScoreAfter,
				"sections", record.Sections)
		}

		current = candidate
		report = candidateReport
	}

	outcome.FinalScore = report.OverallScore
	outcome.FinalReport = report
	outcome.FinalItem = current
	outcome.Delta = outcome.FinalScore - outcome.InitialScore
	outcome.Regressed = outcome.Delta < 0
	monitoring.ImprovementIterations.Observe(float64(outcome.Iterations))
	if outcome.Iterations > 0 {
		monitoring.ImprovementDelta.Observe(outcome.Delta)
	}
	return outcome, nil
}

// targetSections 本轮要重生成的章节
// 报告列出了薄弱章节时只处理它们；否则退回为全部必填章节加上已存在的可选章节，按声明顺序
func targetSections(item *models.ExplainedItem, report *models.QualityReport) []string {
	if len(report.NeedsImprovement) > 0 {
		return append([]string(nil), report.NeedsImprovement...)
	}
	sections := make([]string, 0, len(models.SectionCatalog))
	for _, spec := range models.SectionCatalog {
		if _, present := item.Section(spec.Name); spec.Required || present {
			sections = append(sections, spec.Name)
		}
	}
	return sections
}

// iterate 重生成指定章节并评估候选条目，失败时丢弃候选
func (e *Engine) iterate(ctx context.Context, current *models.ExplainedItem, report *models.QualityReport, sections []string) (*models.ExplainedItem, *models.QualityReport, error) {
	candidate := current.Clone()

	for _, name := range sections {
		spec, ok := models.LookupSection(name)
		if !ok {
			return nil, nil, errdef.Validation("improvement.regenerate", "未知章节: %s", name)
		}

		prompt := e.sectionPrompt(candidate, spec, report)
		result, err := e.client.Generate(ctx, prompt, sectionSchema(spec))
		if err != nil {
			if errdef.KindOf(err) == errdef.KindUnknown {
				err = errdef.Transient("improvement.regenerate."+name, err)
			}
			return nil, nil, err
		}

		value, err := sectionValue(spec, result)
		if err != nil {
			return nil, nil, err
		}
		candidate.SetSection(spec.Name, value)
		if result.Model != "" {
			candidate.AIModelUsed = result.Model
		}
		candidate.GenerationPrompt = prompt.User
	}

	candidateReport, err := e.evaluator.Evaluate(ctx, candidate)
	if err != nil {
		return nil, nil, err
	}
	return candidate, candidateReport, nil
}

// sectionPrompt 构建单个章节的重生成提示词，包含其余章节和评估反馈
func (e *Engine) sectionPrompt(item *models.ExplainedItem, spec models.SectionSpec, report *models.QualityReport) generation.Prompt {
	var b strings.Builder
	if item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", item.Title)
	}
	if item.SourceText != "" {
		fmt.Fprintf(&b, "Source text:\n%s\n\n", item.SourceText)
	}

	b.WriteString("Other sections of the explanation:\n")
	for _, other := range models.SectionCatalog {
		if other.Name == spec.Name {
			continue
		}
		value, ok := item.Section(other.Name)
		if !ok || value == nil {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", other.Label, quality.RenderSectionValue(value))
	}

	if current, ok := item.Section(spec.Name); ok && current != nil {
		fmt.Fprintf(&b, "\nCurrent %s (to be replaced):\n%s\n", spec.Label, quality.RenderSectionValue(current))
	}

	feedback := make([]string, 0)
	for _, dim := range quality.SectionDimensions(spec.Name) {
		if text := report.Feedback[dim]; text != "" {
			feedback = append(feedback, fmt.Sprintf("- %s: %s", dim, text))
		}
	}
	if text := report.Feedback[models.DimensionStructure]; text != "" && strings.Contains(text, spec.Name+":") {
		feedback = append(feedback, "- structure: "+text)
	}
	if len(feedback) > 0 {
		fmt.Fprintf(&b, "\nReviewer feedback:\n%s\n", strings.Join(feedback, "\n"))
	}

	return generation.Prompt{
		System: fmt.Sprintf("You improve one section of an explanation of a text. Rewrite only the %q section. %s",
			spec.Label, sectionGuidance(spec)),
		User:        b.String(),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}
}

func sectionGuidance(spec models.SectionSpec) string {
	switch spec.Kind {
	case models.SectionKindStringList:
		return "Return a list of short, distinct theme names."
	case models.SectionKindExampleList:
		return "Return a list of examples, each with a category and a description of a concrete modern situation."
	default:
		return "Return well-structured text without repeating headers."
	}
}

// sectionSchema 章节重生成的响应结构
func sectionSchema(spec models.SectionSpec) *generation.ResponseSchema {
	field := generation.Field{Name: "content", Type: generation.FieldString, Description: "the rewritten section text"}
	switch spec.Kind {
	case models.SectionKindStringList:
		field.Type = generation.FieldStringList
		field.Description = "list of theme names"
	case models.SectionKindExampleList:
		field.Type = generation.FieldObjectList
		field.Description = "list of {category, description} objects"
	}
	return &generation.ResponseSchema{
		Name:   SectionSchemaPrefix + spec.Name,
		Fields: []generation.Field{field},
	}
}

// sectionValue 从生成结果提取章节取值，空结果按瞬时错误处理
func sectionValue(spec models.SectionSpec, result *generation.Result) (interface{}, error) {
	op := "improvement.regenerate." + spec.Name

	switch spec.Kind {
	case models.SectionKindStringList:
		values, err := result.StringList("content")
		if err != nil {
			return nil, err
		}
		list := make([]interface{}, 0, len(values))
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				list = append(list, v)
			}
		}
		if len(list) == 0 {
			return nil, errdef.Transientf(op, "生成结果为空")
		}
		return list, nil

	case models.SectionKindExampleList:
		objects, err := result.ObjectList("content")
		if err != nil {
			return nil, err
		}
		list := make([]interface{}, 0, len(objects))
		for _, obj := range objects {
			list = append(list, obj)
		}
		if len(list) == 0 {
			return nil, errdef.Transientf(op, "生成结果为空")
		}
		return list, nil

	default:
		text, err := result.String("content")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, errdef.Transientf(op, "生成结果为空")
		}
		return strings.TrimSpace(text), nil
	}
}
