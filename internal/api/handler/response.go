// 文件路径: internal/api/handler/response.go
// 模块说明: JSON 响应与错误类别到 HTTP 状态码的映射，错误文案按请求语言翻译。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/creamcroissant/xprovision/internal/api/requestctx"
	"github.com/creamcroissant/xprovision/internal/job"
	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/service"
	"github.com/creamcroissant/xprovision/internal/support/i18n"
)

// Helper to respond with JSON
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response JSON", "error", err)
	}
}

// errorClass 把错误映射到状态码和文案 key。
type errorClass struct {
	target error
	status int
	key    string
}

// Panel errors come first: provisioning failures may also carry a
// validation cause from the adapter.
var errorClasses = []errorClass{
	{panel.ErrUnsupportedProtocol, http.StatusUnprocessableEntity, "error.unsupported_protocol"},
	{panel.ErrInboundNotFound, http.StatusBadGateway, "error.inbound_not_found"},
	{panel.ErrAuth, http.StatusBadGateway, "error.auth"},
	{panel.ErrSessionRejected, http.StatusBadGateway, "error.provisioning_failed"},
	{panel.ErrProvisioningFailed, http.StatusBadGateway, "error.provisioning_failed"},
	{service.ErrValidation, http.StatusUnprocessableEntity, "error.validation"},
	{service.ErrNotFound, http.StatusNotFound, "error.not_found"},
	{job.ErrUnknownJob, http.StatusNotFound, "error.not_found"},
	{service.ErrTooManyAttempts, http.StatusTooManyRequests, "error.unauthorized"},
	{service.ErrUnauthorized, http.StatusUnauthorized, "error.unauthorized"},
	{service.ErrPersistence, http.StatusInternalServerError, "error.persistence"},
}

func classify(err error) (int, string) {
	for _, class := range errorClasses {
		if errors.Is(err, class.target) {
			return class.status, class.key
		}
	}
	return http.StatusInternalServerError, "error.internal"
}

// respondError 写出翻译后的错误。只有校验错误会把原始信息带给调用方。
func respondError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, i18nMgr *i18n.Manager, action string, err error, extra map[string]any) {
	status, key := classify(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		level = slog.LevelError
	}
	if logger != nil {
		logger.Log(ctx, level, "request rejected", "action", action, "status", status, "error", err)
	}

	var args []any
	if key == "error.validation" {
		args = append(args, err.Error())
	}
	msg := key
	if i18nMgr != nil {
		msg = i18nMgr.Translate(requestctx.Language(ctx), key, args...)
	}
	resp := map[string]any{
		"error":  msg,
		"code":   key,
		"action": action,
	}
	for k, v := range extra {
		resp[k] = v
	}
	respondJSON(w, status, resp)
}

// respondBadRequest 用于请求体或路径参数无法解析的情况。
func respondBadRequest(ctx context.Context, w http.ResponseWriter, i18nMgr *i18n.Manager, action string, cause error) {
	msg := cause.Error()
	if i18nMgr != nil {
		msg = i18nMgr.Translate(requestctx.Language(ctx), "error.validation", cause.Error())
	}
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":  msg,
		"code":   "error.validation",
		"action": action,
	})
}
