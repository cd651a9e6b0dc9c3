// 文件路径: internal/api/handler/subscription.go
// 模块说明: 订阅签发、查询与迁移接口。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/creamcroissant/xprovision/internal/service"
	"github.com/creamcroissant/xprovision/internal/support/i18n"
)

// SubscriptionHandler 提供订阅账本接口。
type SubscriptionHandler struct {
	subscriptions service.SubscriptionService
	migrations    service.MigrationService
	i18n          *i18n.Manager
	logger        *slog.Logger
}

// NewSubscriptionHandler 创建订阅接口处理器。
func NewSubscriptionHandler(subscriptions service.SubscriptionService, migrations service.MigrationService, i18nMgr *i18n.Manager, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, migrations: migrations, i18n: i18nMgr, logger: logger}
}

// Issue POST /subscriptions
func (h *SubscriptionHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req service.IssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "subscription.issue", err)
		return
	}
	record, err := h.subscriptions.Issue(r.Context(), req)
	if err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "subscription.issue", err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"data": newSubscriptionView(record)})
}

// Get GET /subscriptions/{id}
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "subscription.get", err)
		return
	}
	record, err := h.subscriptions.Get(r.Context(), id)
	if err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "subscription.get", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": newSubscriptionView(record)})
}

// ListByUser GET /users/{userID}/subscriptions
func (h *SubscriptionHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "subscription.list", err)
		return
	}
	records, err := h.subscriptions.ListActive(r.Context(), userID)
	if err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "subscription.list", err, nil)
		return
	}
	views := make([]*subscriptionView, 0, len(records))
	for _, rec := range records {
		views = append(views, newSubscriptionView(rec))
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": views, "count": len(views)})
}

// Migrate POST /subscriptions/{id}/migrate
// A failed migration still reports the state it stopped in.
func (h *SubscriptionHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "subscription.migrate", err)
		return
	}
	var input struct {
		UserID         int64 `json:"user_id"`
		TargetServerID int64 `json:"target_server_id"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "subscription.migrate", err)
		return
	}
	result, err := h.migrations.Migrate(r.Context(), service.MigrateRequest{
		UserID:         input.UserID,
		SubscriptionID: id,
		TargetServerID: input.TargetServerID,
	})
	if err != nil {
		var extra map[string]any
		if result != nil {
			extra = map[string]any{"migration": newMigrationView(result)}
		}
		respondError(r.Context(), w, h.logger, h.i18n, "subscription.migrate", err, extra)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": newMigrationView(result)})
}
