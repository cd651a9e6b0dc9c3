package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/creamcroissant/xprovision/internal/support/i18n"
)

// JobRunner runs a registered background job by name.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
}

// JobHandler 允许管理员手动触发后台任务。
type JobHandler struct {
	runner JobRunner
	i18n   *i18n.Manager
	logger *slog.Logger
}

// NewJobHandler 创建任务接口处理器。
func NewJobHandler(runner JobRunner, i18nMgr *i18n.Manager, logger *slog.Logger) *JobHandler {
	return &JobHandler{runner: runner, i18n: i18nMgr, logger: logger}
}

// Run POST /jobs/{name}/run
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.runner.RunNow(r.Context(), name); err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "job.run", err, map[string]any{"job": name})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"job": name, "status": "done"}})
}
