// 文件路径: internal/api/middleware/auth.go
// 模块说明: 管理 API 的 Bearer 令牌校验。
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/creamcroissant/xprovision/internal/api/requestctx"
	"github.com/creamcroissant/xprovision/internal/service"
)

// AdminGuard ensures requests carry a valid admin token.
func AdminGuard(auth service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				writeUnauthorized(w, "auth service unavailable")
				return
			}
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				writeUnauthorized(w, "missing authorization header")
				return
			}
			claims, err := auth.Verify(r.Context(), token)
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}
			ctx := requestctx.WithAdminClaims(r.Context(), requestctx.AdminClaims{Subject: claims.Subject, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="xprovision"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
