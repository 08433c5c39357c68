package controllers

import (
	"net/http"

	"explanation-service/service/errdef"

	"github.com/go-chi/render"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

// SuccessResponse 成功响应
func SuccessResponse(msg string, data interface{}) *APIResponse {
	return &APIResponse{Status: 0, Msg: msg, Data: data}
}

// ErrorResponse 错误响应，err 不为空时附加错误信息
func ErrorResponse(status int, msg string, err error) *APIResponse {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &APIResponse{Status: status, Msg: msg}
}

// BadRequestResponse 请求参数错误
func BadRequestResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusBadRequest, msg, err)
}

// NotFoundResponse 资源不存在
func NotFoundResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusNotFound, msg, err)
}

// InternalErrorResponse 服务内部错误
func InternalErrorResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusInternalServerError, msg, err)
}

// statusForError 按错误类别映射HTTP状态码
func statusForError(err error) int {
	switch errdef.KindOf(err) {
	case errdef.KindValidation:
		return http.StatusBadRequest
	case errdef.KindConflict:
		return http.StatusConflict
	case errdef.KindTransient:
		return http.StatusServiceUnavailable
	case errdef.KindExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON 同时设置HTTP状态码与响应体状态
func writeJSON(w http.ResponseWriter, r *http.Request, status int, response *APIResponse) {
	render.Status(r, status)
	render.JSON(w, r, response)
}

// writeError 按错误类别写出错误响应
func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusForError(err)
	writeJSON(w, r, status, ErrorResponse(status, msg, err))
}
