package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/xprovision/internal/api"
	"github.com/creamcroissant/xprovision/internal/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API and background jobs",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger, app, cfg := rt.logger, rt.app, rt.cfg

	if cfg.Auth.AdminPasswordHash == "" {
		logger.Warn("auth.admin_password_hash is empty; the admin API will reject every login")
	}

	router := api.NewRouter(logger, api.Services{
		Auth:          app.Auth,
		Servers:       app.Servers,
		Subscriptions: app.Subscriptions,
		Migrations:    app.Migrations,
		Jobs:          app.Scheduler,
		I18n:          app.I18n,
	}, cfg.Metrics, app.Metrics)

	server := bootstrap.NewHTTPServer(cfg.HTTP, router)

	app.Scheduler.Start()

	go func() {
		logger.Info("http server starting", "addr", cfg.HTTP.Addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stopCtx := app.Scheduler.Stop()
	<-stopCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// 停机前把队列里剩余的通知投递一次。
	if pending := app.Queue.Pending(); pending > 0 {
		logger.Info("flushing notifications", "pending", pending)
		if err := app.Scheduler.RunNow(shutdownCtx, "notify.dispatch"); err != nil {
			logger.Warn("notification flush failed", "error", err)
		}
	}
	logger.Info("server exited cleanly")
	return nil
}
