// 文件路径: internal/migrations/runner.go
// 模块说明: goose 迁移入口，账本表结构随二进制一起分发。
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

var setupOnce sync.Once

func setup() {
	setupOnce.Do(func() {
		goose.SetBaseFS(SQLite)
		if err := goose.SetDialect("sqlite3"); err != nil {
			panic(fmt.Sprintf("goose dialect: %v", err))
		}
	})
}

// Up migrates the SQLite schema to the latest version.
func Up(ctx context.Context, db *sql.DB) error {
	setup()
	return goose.UpContext(ctx, db, "sqlite")
}

// Down rolls back a single migration.
func Down(ctx context.Context, db *sql.DB) error {
	setup()
	return goose.DownContext(ctx, db, "sqlite")
}

// Status prints migration status.
func Status(ctx context.Context, db *sql.DB) error {
	setup()
	return goose.StatusContext(ctx, db, "sqlite")
}

// Version reports the currently applied schema version.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	setup()
	return goose.GetDBVersionContext(ctx, db)
}
