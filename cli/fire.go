package cli

import (
	"context"
	"fmt"
	"time"

	"explanation-service/service"

	"github.com/spf13/cobra"
)

var fireCmd = &cobra.Command{
	Use:   "fire <trigger>",
	Short: "立即执行调度触发器并等待批量任务结束",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
		defer cancel()

		if err := service.InitServices(ctx, cfg, service.Options{}); err != nil {
			service.Shutdown()
			return fmt.Errorf("服务初始化失败: %w", err)
		}
		defer service.Shutdown()

		jobID, err := service.GlobalSchedulerService.Fire(ctx, args[0])
		if err != nil {
			return err
		}
		cmd.PrintErrf("触发器 %s 已提交批量任务 %s，等待结束...\n", args[0], jobID)
		return waitAndPrint(ctx, cmd, jobID)
	},
}

func init() {
	fireCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Minute, "等待任务结束的最长时间")
	rootCmd.AddCommand(fireCmd)
}
