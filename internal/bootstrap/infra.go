// 文件路径: internal/bootstrap/infra.go
// 模块说明: 按配置组装存储、面板适配器、服务、通知队列与调度器。
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/creamcroissant/xprovision/internal/async"
	"github.com/creamcroissant/xprovision/internal/auth/token"
	"github.com/creamcroissant/xprovision/internal/cache"
	"github.com/creamcroissant/xprovision/internal/config"
	"github.com/creamcroissant/xprovision/internal/job"
	"github.com/creamcroissant/xprovision/internal/notifier"
	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/repository/sqlite"
	"github.com/creamcroissant/xprovision/internal/service"
	"github.com/creamcroissant/xprovision/internal/support/hash"
	"github.com/creamcroissant/xprovision/internal/support/i18n"
)

// App bundles the wired components shared by the serve command and the CLI.
type App struct {
	Store         *sqlite.Store
	Cache         cache.Store
	Registry      *panel.Registry
	Sessions      *panel.SessionManager
	Provisioner   service.Provisioner
	Servers       service.ServerService
	Subscriptions service.SubscriptionService
	Migrations    service.MigrationService
	Auth          service.AuthService
	Tokens        *token.Manager
	Queue         *async.NotificationQueue
	Notifier      notifier.Service
	Scheduler     *job.Scheduler
	I18n          *i18n.Manager
	Metrics       *prometheus.Registry
}

// BuildPanels wires the protocol adapters and the session manager.
func BuildPanels(cfg config.PanelConfig, store cache.Store, logger *slog.Logger) (*panel.Registry, *panel.SessionManager, error) {
	httpClient := panel.NewHTTPClient(cfg.RequestTimeout)

	strategies := panel.DefaultSubmitStrategies()
	if len(cfg.VlessSubmitShapes) > 0 {
		var err error
		strategies, err = panel.StrategiesByName(cfg.VlessSubmitShapes)
		if err != nil {
			return nil, nil, err
		}
	}

	registry := panel.NewRegistry(
		panel.NewVlessRealityAdapter(panel.VlessOptions{
			HTTPClient: httpClient,
			Strategies: strategies,
			Logger:     logger,
		}),
		panel.NewShadowsocksAdapter(panel.ShadowsocksOptions{
			HTTPClient:    httpClient,
			LabelAttempts: cfg.LabelAttempts,
			Logger:        logger,
		}),
	)
	sessions := panel.NewSessionManager(store, panel.SessionOptions{TTL: cfg.SessionTTL, Logger: logger})
	return registry, sessions, nil
}

// BuildNotifier picks the webhook notifier when a URL is configured.
func BuildNotifier(cfg config.NotifyConfig, logger *slog.Logger) notifier.Service {
	if cfg.WebhookURL == "" {
		return notifier.NewLoggerService(logger)
	}
	return notifier.NewWebhookService(notifier.WebhookConfig{
		URL:        cfg.WebhookURL,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout,
	}, nil, logger)
}

// Build wires every component on top of an already migrated database.
func Build(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required / 配置不能为空")
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := sqlite.NewStore(db)
	cacheStore := cache.NewStore(cache.Options{
		Prefix:          "xprovision",
		DefaultTTL:      cache.NoExpiration,
		CleanupInterval: time.Minute,
	})

	registry, sessions, err := BuildPanels(cfg.Panel, cacheStore, logger)
	if err != nil {
		return nil, fmt.Errorf("panel adapters: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *service.Metrics
	if cfg.Metrics.Enabled {
		metrics = service.NewMetrics(reg, cfg.Metrics.Namespace)
	}

	queue := async.NewNotificationQueue(cfg.Notify.QueueLimit)
	provisioner := service.NewProvisioner(registry, sessions, service.ProvisionerOptions{Logger: logger, Metrics: metrics})

	signingKey, source, err := ResolveSigningKey(ctx, db, cfg.Auth.SigningKey, time.Now)
	if err != nil {
		return nil, err
	}
	if source != SigningKeyFromConfig {
		logger.Info("using stored signing key", "source", source)
	}
	tokens, err := token.NewManager(token.Options{
		SigningKey: []byte(signingKey),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		TTL:        cfg.Auth.TokenTTL,
		Leeway:     cfg.Auth.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}
	hasher, err := hash.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt hasher: %w", err)
	}

	translations, err := i18n.NewManager(i18n.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("i18n: %w", err)
	}

	subscriptions := service.NewSubscriptionService(service.SubscriptionDeps{
		Servers:       store.Servers(),
		Tariffs:       store.Tariffs(),
		Subscriptions: store.Subscriptions(),
		Provisioner:   provisioner,
		Notifications: queue,
		Logger:        logger,
	})
	migrations := service.NewMigrationService(service.MigrationDeps{
		Servers:       store.Servers(),
		Subscriptions: store.Subscriptions(),
		Provisioner:   provisioner,
		Notifications: queue,
		Metrics:       metrics,
		Logger:        logger,
	})
	admin := service.AdminCredentials{Username: cfg.Auth.AdminUsername, PasswordHash: cfg.Auth.AdminPasswordHash}

	app := &App{
		Store:         store,
		Cache:         cacheStore,
		Registry:      registry,
		Sessions:      sessions,
		Provisioner:   provisioner,
		Servers:       service.NewServerService(store.Servers(), registry, sessions, provisioner),
		Subscriptions: subscriptions,
		Migrations:    migrations,
		Auth:          service.NewAuthService(admin, hasher, tokens, cacheStore),
		Tokens:        tokens,
		Queue:         queue,
		Notifier:      BuildNotifier(cfg.Notify, logger),
		Scheduler:     job.NewScheduler(logger, cfg.Jobs.Timeout),
		I18n:          translations,
		Metrics:       reg,
	}

	if _, err := app.Scheduler.Register(cfg.Jobs.ExpirySweep, job.NewExpirySweepJob(app.Subscriptions, cfg.Jobs.SweepBatch, logger)); err != nil {
		return nil, err
	}
	if _, err := app.Scheduler.Register(cfg.Jobs.NotificationDispatch, job.NewSendNotificationJob(queue, app.Notifier, logger)); err != nil {
		return nil, err
	}
	return app, nil
}
