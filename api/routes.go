/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs service/init.go
 */

package api

import (
	"explanation-service/api/controllers"
	"explanation-service/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController(service.GlobalConfig.App.Version, service.Ready)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 任务
	r.Route("/jobs", func(r chi.Router) {
		jobController := controllers.NewJobController(service.GlobalOrchestrator)
		r.Post("/", jobController.SubmitJob)
		r.Get("/{id}", jobController.GetJob)
	})

	// 调度触发器
	r.Route("/triggers", func(r chi.Router) {
		triggerController := controllers.NewTriggerController(service.GlobalSchedulerService)
		r.Get("/", triggerController.ListTriggers)
		r.Post("/{name}/fire", triggerController.FireTrigger)
	})

	// 条目
	r.Route("/items", func(r chi.Router) {
		itemController := controllers.NewItemController(service.GlobalContentStore, service.GlobalEvaluator)
		r.Get("/{id}/quality", itemController.EvaluateItem)
	})
}
