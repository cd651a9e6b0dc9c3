// 文件路径: internal/api/router.go
// 模块说明: chi 路由装配：公共中间件、健康检查、指标端点与受管理员令牌保护的 /api/v1。
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creamcroissant/xprovision/internal/api/handler"
	"github.com/creamcroissant/xprovision/internal/api/middleware"
	"github.com/creamcroissant/xprovision/internal/config"
	"github.com/creamcroissant/xprovision/internal/service"
	"github.com/creamcroissant/xprovision/internal/support/i18n"
)

// Services 汇总路由依赖的服务。Jobs 可为空，此时不注册任务触发接口。
type Services struct {
	Auth          service.AuthService
	Servers       service.ServerService
	Subscriptions service.SubscriptionService
	Migrations    service.MigrationService
	Jobs          handler.JobRunner
	I18n          *i18n.Manager
}

// NewRouter wires the admin API. reg may be nil when metrics are disabled.
func NewRouter(logger *slog.Logger, services Services, metricsCfg config.MetricsConfig, reg *prometheus.Registry) http.Handler {
	if services.Auth == nil {
		panic("router requires AuthService")
	}
	if services.Servers == nil {
		panic("router requires ServerService")
	}
	if services.Subscriptions == nil {
		panic("router requires SubscriptionService")
	}
	if services.Migrations == nil {
		panic("router requires MigrationService")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.RequestID,
		chiMiddleware.RealIP,
	)

	metricsEnabled := metricsCfg.Enabled && reg != nil
	if metricsEnabled {
		mCfg := middleware.DefaultMetricsConfig()
		if metricsCfg.Namespace != "" {
			mCfg.Namespace = metricsCfg.Namespace
		}
		if len(metricsCfg.Buckets) > 0 {
			mCfg.Buckets = metricsCfg.Buckets
		}
		r.Use(middleware.NewMetrics(reg, mCfg).Middleware)
	}

	r.Use(
		middleware.StructuredLogger(middleware.LoggingConfig{
			Logger:    logger,
			SkipPaths: []string{"/healthz", "/metrics"},
		}),
		chiMiddleware.Recoverer,
		middleware.I18n(services.I18n),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	if metricsEnabled {
		metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		// If token is set, guard the metrics endpoint
		if metricsCfg.Token != "" {
			r.With(middleware.MetricsGuard(metricsCfg.Token)).Handle("/metrics", metricsHandler)
		} else {
			r.Handle("/metrics", metricsHandler)
		}
	}

	r.Route("/api/v1", func(v1 chi.Router) {
		registerV1Routes(v1, logger, services)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		logger.Warn("unmapped route hit", "method", req.Method, "path", req.URL.Path)
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})

	return r
}

func registerV1Routes(v1 chi.Router, logger *slog.Logger, services Services) {
	authHandler := handler.NewAuthHandler(services.Auth, services.I18n, logger)
	serverHandler := handler.NewServerHandler(services.Servers, services.I18n, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(services.Subscriptions, services.Migrations, services.I18n, logger)

	v1.Post("/auth/token", authHandler.Token)

	v1.Group(func(admin chi.Router) {
		admin.Use(middleware.AdminGuard(services.Auth))

		admin.Route("/servers", func(servers chi.Router) {
			servers.Get("/", serverHandler.List)
			servers.Post("/", serverHandler.Create)
			servers.Get("/{id}", serverHandler.Get)
			servers.Put("/{id}", serverHandler.Update)
			servers.Put("/{id}/enabled", serverHandler.SetEnabled)
			servers.Get("/{id}/inbounds", serverHandler.Inbounds)
		})

		admin.Route("/subscriptions", func(subs chi.Router) {
			subs.Post("/", subscriptionHandler.Issue)
			subs.Get("/{id}", subscriptionHandler.Get)
			subs.Post("/{id}/migrate", subscriptionHandler.Migrate)
		})
		admin.Get("/users/{userID}/subscriptions", subscriptionHandler.ListByUser)

		if services.Jobs != nil {
			jobHandler := handler.NewJobHandler(services.Jobs, services.I18n, logger)
			admin.Post("/jobs/{name}/run", jobHandler.Run)
		}
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
