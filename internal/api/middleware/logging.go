// 文件路径: internal/api/middleware/logging.go
// 模块说明: 访问日志。按状态码与耗时分级，带上路由模式和路径参数，便于按服务器/订阅追查。
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// LoggingConfig 访问日志配置。
type LoggingConfig struct {
	Logger *slog.Logger
	// SlowThreshold 以上的成功请求记为 slow request，开通要等远端面板，默认 2s。
	SlowThreshold time.Duration
	SkipPaths     []string
}

// DefaultLoggingConfig 默认跳过探活与指标抓取。
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Logger:        slog.Default(),
		SlowThreshold: 2 * time.Second,
		SkipPaths:     []string{"/healthz", "/metrics"},
	}
}

// StructuredLogger writes one slog record per request.
func StructuredLogger(config LoggingConfig) func(http.Handler) http.Handler {
	defaults := DefaultLoggingConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = defaults.SlowThreshold
	}
	skip := make(map[string]struct{}, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID == "" {
				requestID = "unknown"
			}
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Request-ID", requestID)

			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level, msg := classifyAccess(status, elapsed, config.SlowThreshold)

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", elapsed),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if msg == "slow request" {
				attrs = append(attrs, slog.Duration("slow_threshold", config.SlowThreshold))
			}
			// 路由完成后 chi 才填好路径参数。
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				for i, key := range rctx.URLParams.Keys {
					if key == "*" || i >= len(rctx.URLParams.Values) {
						continue
					}
					attrs = append(attrs, slog.String("param."+key, rctx.URLParams.Values[i]))
				}
			}
			config.Logger.LogAttrs(r.Context(), level, msg, attrs...)
		})
	}
}

// classifyAccess maps a finished request to a log level and message.
// 502 means the remote panel failed; the handler already logged the cause.
func classifyAccess(status int, elapsed, slow time.Duration) (slog.Level, string) {
	switch {
	case status == http.StatusBadGateway:
		return slog.LevelWarn, "upstream panel error"
	case status >= 500:
		return slog.LevelError, "request failed"
	case status >= 400:
		return slog.LevelWarn, "request error"
	case elapsed > slow:
		return slog.LevelWarn, "slow request"
	default:
		return slog.LevelInfo, "request completed"
	}
}
