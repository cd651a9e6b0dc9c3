package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/creamcroissant/xprovision/internal/bootstrap"
	"github.com/creamcroissant/xprovision/internal/config"
	"github.com/creamcroissant/xprovision/internal/migrations"
	"github.com/creamcroissant/xprovision/internal/support/logging"
)

// runtime is what every command that touches the ledger needs.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	app    *bootstrap.App
}

func (rt *runtime) Close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
}

func newLogger(cfg *config.Config, toStderr bool) *slog.Logger {
	opts := logging.Options{
		Level:     cfg.Log.SlogLevel(),
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	}
	// CLI 命令把表格写到 stdout，日志改走 stderr。
	if toStderr {
		opts.Output = os.Stderr
	}
	return logging.New(opts)
}

// openDB loads config and opens the ledger without migrating it.
func openDB() (*config.Config, *sql.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := bootstrap.OpenSQLite(cfg.DB.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

// openRuntime loads config, migrates the ledger and wires the services.
func openRuntime(ctx context.Context, cliMode bool) (*runtime, error) {
	cfg, db, err := openDB()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, db: db, logger: newLogger(cfg, cliMode)}
	if err := migrations.Up(ctx, db); err != nil {
		rt.Close()
		return nil, err
	}
	app, err := bootstrap.Build(ctx, cfg, db, rt.logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.app = app
	return rt, nil
}

// dbHandle carries the path next to the handle for messages.
type dbHandle struct {
	*sql.DB
	path string
}

func withDB(ctx context.Context, fn func(context.Context, dbHandle) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, dbHandle{DB: db, path: cfg.DB.Path})
}

func withRuntime(ctx context.Context, fn func(context.Context, *runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
