// 文件路径: internal/api/middleware/i18n.go
// 模块说明: 协商响应语言并写入 context。
package middleware

import (
	"net/http"

	"github.com/creamcroissant/xprovision/internal/api/requestctx"
	"github.com/creamcroissant/xprovision/internal/support/i18n"
)

// I18n picks the response language: ?lang= first, then Accept-Language.
func I18n(manager *i18n.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				next.ServeHTTP(w, r)
				return
			}
			lang := r.URL.Query().Get("lang")
			if lang == "" {
				lang = r.Header.Get("Accept-Language")
			}
			tag := manager.Match(lang)
			w.Header().Set("Content-Language", tag.String())
			next.ServeHTTP(w, r.WithContext(requestctx.WithLanguage(r.Context(), tag)))
		})
	}
}
