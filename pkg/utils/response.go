package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"orgtask-backend/pkg/models"

	"go.uber.org/zap"
)

// APIResponse 标准API响应结构
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError 错误信息结构
type APIError struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Details   string   `json:"details,omitempty"`
	Field     string   `json:"field,omitempty"`
	IDs       []string `json:"ids,omitempty"`
	Completed []string `json:"completed,omitempty"`
}

// WriteJSONResponse 写入JSON响应
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeEnvelope(w, statusCode, APIResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	})
}

// WriteSuccessResponse 写入成功响应
func WriteSuccessResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusOK, data)
}

// WriteCreatedResponse 写入创建成功响应
func WriteCreatedResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusCreated, data)
}

// WriteErrorResponseWithCode 写入带错误代码的错误响应
func WriteErrorResponseWithCode(w http.ResponseWriter, statusCode int, code, message, details string) {
	writeEnvelope(w, statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// WriteBadRequestResponse 写入400错误响应
func WriteBadRequestResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusBadRequest, "BAD_REQUEST", message, "")
}

// WriteUnauthorizedResponse 写入401错误响应
func WriteUnauthorizedResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", message, "")
}

// WriteInternalServerErrorResponse 写入500错误响应
func WriteInternalServerErrorResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, "")
}

// StatusForError maps an error kind to its HTTP status. Transient store failures are 503.
func StatusForError(err error) int {
	e, ok := models.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindConflict:
		return http.StatusConflict
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindStore:
		if e.Transient {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// WriteAppError 写入领域错误. Store internals are logged, never returned to the client.
func WriteAppError(w http.ResponseWriter, err error) {
	status := StatusForError(err)

	var e *models.Error
	if !errors.As(err, &e) {
		zap.L().Error("unclassified error", zap.Error(err))
		WriteInternalServerErrorResponse(w, "Internal server error occurred")
		return
	}

	apiErr := &APIError{
		Code:    string(e.Kind),
		Message: e.Message,
		Field:   e.Field,
		IDs:     e.IDs,
	}
	switch e.Kind {
	case models.KindStore:
		zap.L().Error("store error", zap.Error(err))
		apiErr.Message = "storage is unavailable"
	case models.KindPartialCascade:
		zap.L().Error("partial cascade", zap.Error(err), zap.Strings("completed", e.Completed))
		apiErr.Completed = e.Completed
	}

	writeEnvelope(w, status, APIResponse{Success: false, Error: apiErr})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

// ParseJSONBody 解析JSON请求体
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
