// 文件路径: internal/api/handler/server.go
// 模块说明: 服务器注册表的管理接口，以及面板 inbound 查询。
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/creamcroissant/xprovision/internal/service"
	"github.com/creamcroissant/xprovision/internal/support/i18n"
)

// ServerHandler 提供服务器注册表接口。
type ServerHandler struct {
	servers service.ServerService
	i18n    *i18n.Manager
	logger  *slog.Logger
}

// NewServerHandler 创建服务器接口处理器。
func NewServerHandler(servers service.ServerService, i18nMgr *i18n.Manager, logger *slog.Logger) *ServerHandler {
	return &ServerHandler{servers: servers, i18n: i18nMgr, logger: logger}
}

// List GET /servers
func (h *ServerHandler) List(w http.ResponseWriter, r *http.Request) {
	servers, err := h.servers.List(r.Context())
	if err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "server.list", err, nil)
		return
	}
	views := make([]serverView, 0, len(servers))
	for _, s := range servers {
		views = append(views, newServerView(s))
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": views, "count": len(views)})
}

// Get GET /servers/{id}
func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "server.get", err)
		return
	}
	server, err := h.servers.Get(r.Context(), id)
	if err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "server.get", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": newServerView(server)})
}

// Create POST /servers
func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input serverInput
	if err := decodeJSON(w, r, &input); err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "server.create", err)
		return
	}
	server := input.toServer(0)
	if err := h.servers.Save(r.Context(), server); err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "server.create", err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"data": newServerView(server)})
}

// Update PUT /servers/{id}
// An empty panel_password keeps the stored one.
func (h *ServerHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "server.update", err)
		return
	}
	var input serverInput
	if err := decodeJSON(w, r, &input); err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "server.update", err)
		return
	}
	existing, err := h.servers.Get(r.Context(), id)
	if err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "server.update", err, nil)
		return
	}
	server := input.toServer(id)
	server.CreatedAt = existing.CreatedAt
	if strings.TrimSpace(input.PanelPassword) == "" {
		server.PanelPassword = existing.PanelPassword
	}
	if input.Enabled == nil {
		server.Enabled = existing.Enabled
	}
	if err := h.servers.Save(r.Context(), server); err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "server.update", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": newServerView(server)})
}

// SetEnabled PUT /servers/{id}/enabled
func (h *ServerHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "server.enable", err)
		return
	}
	var input struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "server.enable", err)
		return
	}
	if err := h.servers.SetEnabled(r.Context(), id, input.Enabled); err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "server.enable", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id, "enabled": input.Enabled}})
}

// Inbounds GET /servers/{id}/inbounds
func (h *ServerHandler) Inbounds(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "server.inbounds", err)
		return
	}
	inbounds, err := h.servers.Inbounds(r.Context(), id)
	if err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "server.inbounds", err, nil)
		return
	}
	views := newInboundViews(inbounds)
	respondJSON(w, http.StatusOK, map[string]any{"data": views, "count": len(views)})
}
