/*
 * @module cli/root
 * @description 命令行入口，加载配置并初始化日志
 * @architecture 命令模式 - 基于cobra的子命令
 * @stateFlow 解析参数 -> 加载配置 -> 初始化日志 -> 执行子命令
 * @rules 配置文件路径优先取 --config，其次取 CONFIG_PATH 环境变量
 * @dependencies github.com/spf13/cobra
 * @refs service/config/config_manager.go, logger/logger.go
 */

package cli

import (
	"encoding/json"
	"io"

	"explanation-service/logger"
	"explanation-service/service/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "explanation-service",
	Short: "释义内容质量评估与改进服务",
	Long: `对释义条目进行质量评估，低于阈值的条目按维度反馈重新生成章节，
并通过任务编排器和定时调度器批量维护条目质量。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（yaml/json）")
}

// Execute 执行命令
func Execute() error {
	return rootCmd.Execute()
}

// printJSON 以缩进JSON输出
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(v)
}
