/*
 * @module api/controllers/job_controller
 * @description 任务控制器，提供任务提交与状态查询
 * @architecture MVC架构 - 控制器层
 * @stateFlow 请求接收 -> 参数解析 -> 提交编排器/查询状态 -> 响应返回
 * @rules 同一幂等键的任务未结束时返回已有任务ID；错误按类别映射HTTP状态码
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/orchestrator/orchestrator.go
 */

package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"explanation-service/service/errdef"
	"explanation-service/service/models"
	"explanation-service/service/orchestrator"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// maxWait 查询时最长等待时间
const maxWait = time.Minute

// JobService 任务服务
type JobService interface {
	Submit(ctx context.Context, kind models.JobKind, params orchestrator.JobParams) (string, error)
	GetResult(ctx context.Context, id string) (*orchestrator.JobStatus, error)
	WaitForResult(ctx context.Context, id string) (*orchestrator.JobStatus, error)
}

// JobController 任务控制器
type JobController struct {
	jobs JobService
}

// NewJobController 创建任务控制器
func NewJobController(jobs JobService) *JobController {
	return &JobController{jobs: jobs}
}

// SubmitJobRequest 提交任务请求
type SubmitJobRequest struct {
	Kind           models.JobKind     `json:"kind" example:"check_then_improve"`
	ItemID         string             `json:"item_id,omitempty" example:"3f0c2a9e-5b7d-4a51-9a1e-2c8d4e6f7a90"`
	Threshold      *float64           `json:"threshold,omitempty" example:"90"`
	MaxIterations  *int               `json:"max_iterations,omitempty" example:"3"`
	Filter         *models.ItemFilter `json:"filter,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// SubmitJobResponse 提交任务响应
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

// SubmitJob 提交任务
// @Summary 提交任务
// @Description 提交检查、检查并改进或批量任务，同一幂等键的任务未结束时返回已有任务ID
// @Tags 任务
// @Accept json
// @Produce json
// @Param job body SubmitJobRequest true "任务参数"
// @Success 200 {object} APIResponse{data=SubmitJobResponse}
// @Failure 400 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /jobs [post]
func (c *JobController) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, BadRequestResponse("请求参数解析失败", err))
		return
	}

	jobID, err := c.jobs.Submit(r.Context(), req.Kind, orchestrator.JobParams{
		ItemID:         req.ItemID,
		Threshold:      req.Threshold,
		MaxIterations:  req.MaxIterations,
		Filter:         req.Filter,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, r, "提交任务失败", err)
		return
	}

	render.JSON(w, r, SuccessResponse("提交任务成功", SubmitJobResponse{JobID: jobID}))
}

// GetJob 查询任务状态
// @Summary 查询任务状态
// @Description 查询任务状态与结果，批量任务附带子任务统计；wait 参数可等待任务结束
// @Tags 任务
// @Produce json
// @Param id path string true "任务ID"
// @Param wait query string false "最长等待时间，如 30s，上限 1m"
// @Success 200 {object} APIResponse{data=orchestrator.JobStatus}
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /jobs/{id} [get]
func (c *JobController) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, r, http.StatusBadRequest, BadRequestResponse("任务ID不能为空", nil))
		return
	}

	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeJSON(w, r, http.StatusBadRequest, BadRequestResponse("无效的等待时间", err))
			return
		}
		wait = min(d, maxWait)
	}

	var (
		status *orchestrator.JobStatus
		err    error
	)
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		status, err = c.jobs.WaitForResult(ctx, id)
		// 等待超时时返回当前状态
		if err != nil && status != nil && errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	} else {
		status, err = c.jobs.GetResult(r.Context(), id)
	}
	if err != nil {
		if errdef.KindOf(err) == errdef.KindValidation {
			writeJSON(w, r, http.StatusNotFound, NotFoundResponse("获取任务失败", err))
			return
		}
		writeError(w, r, "获取任务失败", err)
		return
	}

	render.JSON(w, r, SuccessResponse("获取任务成功", status))
}
