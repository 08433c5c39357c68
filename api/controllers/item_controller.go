/*
 * @module api/controllers/item_controller
 * @description 条目控制器，提供不落库的质量预评估
 * @architecture MVC架构 - 控制器层
 * @stateFlow 请求接收 -> 加载条目 -> 评估 -> 响应返回
 * @rules 预评估不修改条目，也不写检查记录
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/quality/evaluator.go, service/content_store/store.go
 */

package controllers

import (
	"net/http"

	"explanation-service/service/content_store"
	"explanation-service/service/errdef"
	"explanation-service/service/quality"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ItemController 条目控制器
type ItemController struct {
	store     content_store.ContentStore
	evaluator quality.Evaluator
}

// NewItemController 创建条目控制器
func NewItemController(store content_store.ContentStore, evaluator quality.Evaluator) *ItemController {
	return &ItemController{store: store, evaluator: evaluator}
}

// EvaluateItem 质量预评估
// @Summary 质量预评估
// @Description 对条目当前内容评估质量，结果不落库
// @Tags 条目
// @Produce json
// @Param id path string true "条目ID"
// @Success 200 {object} APIResponse{data=models.QualityReport}
// @Failure 404 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /items/{id}/quality [get]
func (c *ItemController) EvaluateItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, r, http.StatusBadRequest, BadRequestResponse("条目ID不能为空", nil))
		return
	}

	item, _, err := c.store.Load(r.Context(), id)
	if err != nil {
		if errdef.KindOf(err) == errdef.KindValidation {
			writeJSON(w, r, http.StatusNotFound, NotFoundResponse("获取条目失败", err))
			return
		}
		writeError(w, r, "获取条目失败", err)
		return
	}

	report, err := c.evaluator.Evaluate(r.Context(), item)
	if err != nil {
		writeError(w, r, "质量评估失败", err)
		return
	}

	render.JSON(w, r, SuccessResponse("质量评估成功", report))
}
