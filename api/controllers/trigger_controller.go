/*
 * @module api/controllers/trigger_controller
 * @description 调度触发器控制器，提供触发器列表与手动触发
 * @architecture MVC架构 - 控制器层
 * @stateFlow 请求接收 -> 调度器立即触发 -> 返回批量任务ID
 * @rules 手动触发与定时触发共用幂等键，上一次批量任务未结束时返回该任务
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/scheduler/scheduler_service.go
 */

package controllers

import (
	"context"
	"net/http"
	"time"

	"explanation-service/service/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// TriggerService 触发器服务
type TriggerService interface {
	Fire(ctx context.Context, name string) (string, error)
	Triggers() []scheduler.Trigger
	NextRun(name string) (time.Time, bool)
}

// TriggerController 触发器控制器
type TriggerController struct {
	triggers TriggerService
}

// NewTriggerController 创建触发器控制器
func NewTriggerController(triggers TriggerService) *TriggerController {
	return &TriggerController{triggers: triggers}
}

// TriggerInfo 触发器信息
type TriggerInfo struct {
	scheduler.Trigger
	NextRun *time.Time `json:"next_run,omitempty"`
}

// ListTriggers 获取触发器列表
// @Summary 获取触发器列表
// @Description 获取全部调度触发器及下一次执行时间
// @Tags 调度
// @Produce json
// @Success 200 {object} APIResponse{data=[]TriggerInfo}
// @Router /triggers [get]
func (c *TriggerController) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers := c.triggers.Triggers()
	infos := make([]TriggerInfo, 0, len(triggers))
	for _, trigger := range triggers {
		info := TriggerInfo{Trigger: trigger}
		if next, ok := c.triggers.NextRun(trigger.Name); ok {
			info.NextRun = &next
		}
		infos = append(infos, info)
	}
	render.JSON(w, r, SuccessResponse("获取触发器列表成功", infos))
}

// FireTrigger 手动触发
// @Summary 手动触发
// @Description 立即执行指定触发器，返回批量任务ID
// @Tags 调度
// @Produce json
// @Param name path string true "触发器名称"
// @Success 200 {object} APIResponse{data=SubmitJobResponse}
// @Failure 404 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /triggers/{name}/fire [post]
func (c *TriggerController) FireTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeJSON(w, r, http.StatusBadRequest, BadRequestResponse("触发器名称不能为空", nil))
		return
	}

	jobID, err := c.triggers.Fire(r.Context(), name)
	if err != nil {
		writeError(w, r, "触发失败", err)
		return
	}

	render.JSON(w, r, SuccessResponse("触发成功", SubmitJobResponse{JobID: jobID}))
}
