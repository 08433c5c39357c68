/*
 * @module service/orchestrator/jobs
 * @description 各类任务的执行逻辑：单条检查、检查并改进、批量扇出
 * @architecture 分层架构 - 任务调度层
 * @stateFlow 加载条目 -> 评估 -> 带令牌保存 -> (低于阈值时改进，每轮提交) | 筛选条目 -> 逐条提交子任务
 * @rules 所有写入都携带版本令牌，冲突交给重试策略处理
 * @dependencies service/content_store, service/quality, service/improvement
 * @refs service/orchestrator/orchestrator.go
 */

package orchestrator

import (
	"context"
	"log/slog"

	"explanation-service/service/content_store"
	"explanation-service/service/errdef"
	"explanation-service/service/models"
)

func (o *Orchestrator) execute(ctx context.Context, job *models.JobRecord, params JobParams) (interface{}, error) {
	switch job.Kind {
	case models.JobKindCheckOnly:
		return o.checkOnly(ctx, job, params)
	case models.JobKindCheckThenImprove:
		return o.checkThenImprove(ctx, job, params)
	case models.JobKindBatchCheck:
		return o.fanOut(ctx, job, params, models.JobKindCheckOnly)
	case models.JobKindBatchImprove:
		return o.fanOut(ctx, job, params, models.JobKindCheckThenImprove)
	}
	return nil, errdef.Validation("orchestrator.execute", "未知任务类型: %s", job.Kind)
}

// checkOnly 评估条目并保存分数和检查时间
func (o *Orchestrator) checkOnly(ctx context.Context, job *models.JobRecord, params JobParams) (*models.CheckResult, error) {
	item, token, err := o.deps.Store.Load(ctx, params.ItemID)
	if err != nil {
		return nil, err
	}
	report, err := o.deps.Evaluator.Evaluate(ctx, item)
	if err != nil {
		return nil, err
	}
	if _, err := o.persistCheck(ctx, job, item, token, report); err != nil {
		return nil, err
	}

	return &models.CheckResult{
		ItemID:           item.ID,
		Score:            report.OverallScore,
		NeedsImprovement: report.NeedsImprovement,
		CheckedAt:        report.EvaluatedAt,
	}, nil
}

// checkThenImprove 评估条目，低于阈值时运行改进引擎，每轮接受的结果以最新令牌提交
func (o *Orchestrator) checkThenImprove(ctx context.Context, job *models.JobRecord, params JobParams) (*models.CheckThenImproveResult, error) {
	item, token, err := o.deps.Store.Load(ctx, params.ItemID)
	if err != nil {
		return nil, err
	}
	report, err := o.deps.Evaluator.Evaluate(ctx, item)
	if err != nil {
		return nil, err
	}
	token, err = o.persistCheck(ctx, job, item, token, report)
	if err != nil {
		return nil, err
	}

	result := &models.CheckThenImproveResult{
		ItemID:             item.ID,
		ScoreBefore:        report.OverallScore,
		ScoreAfter:         report.OverallScore,
		ImprovementVersion: item.ImprovementVersion,
	}
	threshold := *params.Threshold
	if report.OverallScore >= threshold {
		return result, nil
	}

	// 迭代上限按任务计，重试只使用剩余的次数
	remaining := *params.MaxIterations - job.IterationsUsed
	if remaining <= 0 {
		slog.Info("任务的改进迭代次数已用完",
			"job_id", job.ID,
			"item_id", item.ID,
			"iterations_used", job.IterationsUsed)
		result.ImprovementRan = true
		result.Iterations = job.IterationsUsed
		result.Persisted = true
		return result, nil
	}

	commit := func(ctx context.Context, candidate *models.ExplainedItem) error {
		next, err := o.deps.Store.Save(ctx, candidate, token)
		if err != nil {
			return err
		}
		token = next
		job.IterationsUsed++
		o.persist(job)
		return nil
	}
	outcome, err := o.deps.Improver.ImproveWithReport(ctx, item, report, threshold, remaining, commit)
	if err != nil {
		if outcome != nil && outcome.Iterations > 0 {
			slog.Warn("改进中途失败，已提交的迭代保留",
				"job_id", job.ID,
				"item_id", item.ID,
				"iterations", outcome.Iterations)
		}
		return nil, err
	}

	result.ImprovementRan = true
	result.ScoreAfter = outcome.FinalScore
	result.Iterations = job.IterationsUsed
	result.Persisted = job.IterationsUsed > 0
	result.Delta = outcome.Delta
	result.Regressed = outcome.Regressed
	if outcome.FinalItem != nil {
		result.ImprovementVersion = outcome.FinalItem.ImprovementVersion
	}
	return result, nil
}

// persistCheck 保存评估分数和检查时间，存储支持时记录检查历史
func (o *Orchestrator) persistCheck(ctx context.Context, job *models.JobRecord, item *models.ExplainedItem, token int64, report *models.QualityReport) (int64, error) {
	item.SetQualityScore(report.ScoreInt())
	checkedAt := report.EvaluatedAt
	item.QualityCheckedAt = &checkedAt

	next, err := o.deps.Store.Save(ctx, item, token)
	if err != nil {
		return 0, err
	}

	if recorder, ok := o.deps.Store.(content_store.CheckRecorder); ok {
		if err := recorder.RecordCheck(ctx, models.NewQualityCheckRecord(item, report, job.ID)); err != nil {
			slog.Warn("记录检查历史失败", "job_id", job.ID, "item_id", item.ID, "error", err)
		}
	}
	return next, nil
}

// fanOut 按筛选条件选择条目，为每个条目提交一个子任务
func (o *Orchestrator) fanOut(ctx context.Context, job *models.JobRecord, params JobParams, childKind models.JobKind) (*models.BatchResult, error) {
	if params.Filter == nil {
		return nil, errdef.Validation("orchestrator.fan_out", "批量任务缺少筛选条件")
	}
	ids, err := o.deps.Store.Select(ctx, *params.Filter)
	if err != nil {
		return nil, err
	}

	result := &models.BatchResult{Matched: len(ids), ChildJobIDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, errdef.Transient("orchestrator.fan_out", err)
		}
		childID, created, err := o.submit(ctx, childKind, JobParams{
			ItemID:        id,
			Threshold:     params.Threshold,
			MaxIterations: params.MaxIterations,
			ParentJobID:   job.ID,
		})
		if err != nil {
			return nil, err
		}
		result.ChildJobIDs = append(result.ChildJobIDs, childID)
		if created {
			result.Enqueued++
		} else {
			result.Deduped++
		}
	}

	slog.Info("批量任务已扇出",
		"job_id", job.ID,
		"child_kind", childKind,
		"matched", result.Matched,
		"enqueued", result.Enqueued,
		"deduped", result.Deduped)
	return result, nil
}
