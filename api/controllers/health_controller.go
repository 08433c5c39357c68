/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供服务健康状态检查
 * @architecture MVC架构 - 控制器层
 * @stateFlow HTTP请求处理流程
 * @rules 健康检查只反映进程存活；就绪检查探测数据库与Redis
 * @dependencies net/http
 * @refs service/init.go
 */

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// ReadyFunc 就绪探测
type ReadyFunc func(ctx context.Context) error

// HealthController 健康检查控制器
type HealthController struct {
	version string
	ready   ReadyFunc
}

// NewHealthController 创建健康检查控制器实例
func NewHealthController(version string, ready ReadyFunc) *HealthController {
	return &HealthController{version: version, ready: ready}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string    `json:"status" example:"ok"`
	Timestamp time.Time `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string    `json:"version" example:"1.0.0"`
	Service   string    `json:"service" example:"explanation-service"`
	Error     string    `json:"error,omitempty"`
}

// Health 健康检查
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, c.response("ok"))
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 检查数据库与Redis是否可用
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	if c.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := c.ready(ctx); err != nil {
			response := c.response("unavailable")
			response.Error = err.Error()
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response)
			return
		}
	}
	render.JSON(w, r, c.response("ready"))
}

func (c *HealthController) response(status string) HealthResponse {
	return HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   c.version,
		Service:   "explanation-service",
	}
}
