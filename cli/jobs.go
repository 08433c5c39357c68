package cli

import (
	"context"
	"fmt"
	"time"

	"explanation-service/service"
	"explanation-service/service/models"
	"explanation-service/service/orchestrator"

	"github.com/spf13/cobra"
)

var (
	waitTimeout   time.Duration
	threshold     float64
	maxIterations int

	batchKind         string
	neverChecked      bool
	checkedBeforeDays int
	belowScore        int
	minScore          int
	maxScore          int
	limit             int
	itemIDs           []string
)

var checkCmd = &cobra.Command{
	Use:   "check <item-id>",
	Short: "评估单个条目并保存质量分数",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, models.JobKindCheckOnly, orchestrator.JobParams{ItemID: args[0]})
	},
}

var improveCmd = &cobra.Command{
	Use:   "improve <item-id>",
	Short: "评估单个条目，低于阈值时迭代改进",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := orchestrator.JobParams{ItemID: args[0]}
		if cmd.Flags().Changed("threshold") {
			params.Threshold = &threshold
		}
		if cmd.Flags().Changed("max-iterations") {
			params.MaxIterations = &maxIterations
		}
		return runJob(cmd, models.JobKindCheckThenImprove, params)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "按筛选条件批量检查或改进条目",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := models.JobKind(batchKind)
		if !kind.IsBatch() {
			return fmt.Errorf("无效的批量任务类型: %s", batchKind)
		}
		filter := buildFilter(cmd, time.Now())
		params := orchestrator.JobParams{Filter: &filter}
		if cmd.Flags().Changed("threshold") {
			params.Threshold = &threshold
		}
		if cmd.Flags().Changed("max-iterations") {
			params.MaxIterations = &maxIterations
		}
		return runJob(cmd, kind, params)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{checkCmd, improveCmd, batchCmd} {
		cmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Minute, "等待任务结束的最长时间")
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{improveCmd, batchCmd} {
		cmd.Flags().Float64Var(&threshold, "threshold", 0, "质量阈值（0-100），默认取配置")
		cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "最大改进轮数（1-10），默认取配置")
	}

	flags := batchCmd.Flags()
	flags.StringVar(&batchKind, "kind", string(models.JobKindBatchCheck), "batch_check 或 batch_improve")
	flags.BoolVar(&neverChecked, "never-checked", false, "从未评估的条目")
	flags.IntVar(&checkedBeforeDays, "checked-before-days", 0, "最近一次评估早于N天前的条目")
	flags.IntVar(&belowScore, "below-score", 0, "分数低于该值的条目（不含）")
	flags.IntVar(&minScore, "min-score", 0, "分数下限（含）")
	flags.IntVar(&maxScore, "max-score", 0, "分数上限（含）")
	flags.IntVar(&limit, "limit", 0, "最多选取的条目数，0 表示不限")
	flags.StringSliceVar(&itemIDs, "ids", nil, "指定条目ID")
}

// buildFilter 按命令行参数构建筛选条件，未设置的参数不参与筛选
func buildFilter(cmd *cobra.Command, now time.Time) models.ItemFilter {
	flags := cmd.Flags()
	filter := models.ItemFilter{
		IDs:          itemIDs,
		NeverChecked: neverChecked,
		Limit:        limit,
	}
	if flags.Changed("checked-before-days") {
		before := now.UTC().AddDate(0, 0, -checkedBeforeDays)
		filter.CheckedBefore = &before
	}
	if flags.Changed("below-score") {
		v := belowScore
		filter.BelowScore = &v
	}
	if flags.Changed("min-score") {
		v := minScore
		filter.MinScore = &v
	}
	if flags.Changed("max-score") {
		v := maxScore
		filter.MaxScore = &v
	}
	return filter
}

// runJob 提交任务并等待结束，输出任务状态
func runJob(cmd *cobra.Command, kind models.JobKind, params orchestrator.JobParams) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
	defer cancel()

	if err := service.InitServices(ctx, cfg, service.Options{}); err != nil {
		service.Shutdown()
		return fmt.Errorf("服务初始化失败: %w", err)
	}
	defer service.Shutdown()

	jobID, err := service.GlobalOrchestrator.Submit(ctx, kind, params)
	if err != nil {
		return err
	}
	cmd.PrintErrf("已提交任务 %s (%s)，等待结束...\n", jobID, kind)

	return waitAndPrint(ctx, cmd, jobID)
}

func waitAndPrint(ctx context.Context, cmd *cobra.Command, jobID string) error {
	status, err := service.GlobalOrchestrator.WaitForResult(ctx, jobID)
	if status != nil {
		if printErr := printJSON(cmd.OutOrStdout(), status); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}
	if status.Job.Status == models.JobStatusFailed {
		return fmt.Errorf("任务失败: %s", status.Job.LastError)
	}
	return nil
}
