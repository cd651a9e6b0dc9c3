// 文件路径: internal/api/handler/auth.go
// 模块说明: 管理员令牌签发接口。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/creamcroissant/xprovision/internal/service"
	"github.com/creamcroissant/xprovision/internal/support/i18n"
)

// AuthHandler 处理管理员登录。
type AuthHandler struct {
	auth   service.AuthService
	i18n   *i18n.Manager
	logger *slog.Logger
}

// NewAuthHandler 创建认证接口处理器。
func NewAuthHandler(auth service.AuthService, i18nMgr *i18n.Manager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, i18n: i18nMgr, logger: logger}
}

// Token POST /auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		respondBadRequest(r.Context(), w, h.i18n, "auth.token", err)
		return
	}
	result, err := h.auth.Login(r.Context(), input.Username, input.Password)
	if err != nil {
		respondError(r.Context(), w, h.logger, h.i18n, "auth.token", err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": result})
}
