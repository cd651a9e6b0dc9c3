// 文件路径: internal/bootstrap/server.go
// 模块说明: HTTP 服务器的超时设置。
package bootstrap

import (
	"net/http"
	"time"

	"github.com/creamcroissant/xprovision/internal/config"
)

// NewHTTPServer constructs an http.Server. WriteTimeout leaves room for a
// migration that talks to two panels.
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}
}
