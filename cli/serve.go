package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"explanation-service/api"
	_ "explanation-service/docs"
	"explanation-service/service"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动HTTP服务、任务编排器和调度器",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.InitServices(ctx, cfg, service.Options{StartScheduler: true}); err != nil {
		service.Shutdown()
		return fmt.Errorf("服务初始化失败: %w", err)
	}
	defer service.Shutdown()

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(cfg.Server.Port), newRouter(cfg.Server.BaseContext))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP服务启动", "port", cfg.Server.Port, "base_context", cfg.Server.BaseContext)
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP服务异常退出: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("收到退出信号，开始停止服务")
		return s.GracefulStop()
	}
}

// newRouter 创建路由，设置 BASE_CONTEXT 时挂载在该路径下
func newRouter(baseContext string) *chi.Mux {
	mux := chi.NewRouter()

	if baseContext != "" {
		mux.Route(baseContext, func(r chi.Router) {
			subMux := r.(*chi.Mux)
			api.InitRoute(subMux)
			r.Handle("/metrics", promhttp.Handler())
			r.Handle("/swagger*", httpSwagger.WrapHandler)
		})
	} else {
		api.InitRoute(mux)
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/swagger*", httpSwagger.WrapHandler)
	}
	return mux
}
