// 文件路径: internal/repository/sqlite/subscription.go
// 模块说明: 订阅账本的 SQLite 实现，迁移时在同一事务内完成新旧记录的切换。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/creamcroissant/xprovision/internal/repository"
)

type subscriptionRepo struct {
	db *sql.DB
}

const subscriptionColumns = `id, user_id, tariff_id, server_id, ends_at, connection_uri, active, payment_ref, created_at, updated_at`

func (r *subscriptionRepo) FindByID(ctx context.Context, id int64) (*repository.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, userID int64, activeOnly bool) ([]*repository.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY id DESC`
	return r.list(ctx, query, userID)
}

func (r *subscriptionRepo) ListExpired(ctx context.Context, nowUnix int64, limit int) ([]*repository.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE active = 1 AND ends_at <= ? ORDER BY ends_at ASC LIMIT ?`, nowUnix, limit)
}

func (r *subscriptionRepo) Create(ctx context.Context, sub *repository.Subscription) error {
	if sub == nil {
		return errors.New("subscription is required / 订阅不能为空")
	}
	return insertSubscription(ctx, r.db, sub)
}

func (r *subscriptionRepo) Replace(ctx context.Context, oldID int64, next *repository.Subscription) error {
	if next == nil {
		return errors.New("subscription is required / 订阅不能为空")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `UPDATE subscriptions SET active = 0, updated_at = ? WHERE id = ? AND active = 1`, now, oldID)
	if err != nil {
		return fmt.Errorf("deactivate subscription %d: %w", oldID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("subscription %d: %w", oldID, repository.ErrConflict)
	}
	if err := insertSubscription(ctx, tx, next); err != nil {
		return fmt.Errorf("insert replacement for %d: %w", oldID, err)
	}
	return tx.Commit()
}

func (r *subscriptionRepo) Deactivate(ctx context.Context, id int64, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE subscriptions SET active = 0, updated_at = ? WHERE id = ? AND active = 1`, updatedAt, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrConflict
	}
	return nil
}

func (r *subscriptionRepo) list(ctx context.Context, query string, args ...any) ([]*repository.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*repository.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSubscription(ctx context.Context, db execer, sub *repository.Subscription) error {
	now := time.Now().Unix()
	if sub.CreatedAt == 0 {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	res, err := db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, tariff_id, server_id, ends_at, connection_uri, active, payment_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.TariffID, sub.ServerID, sub.EndsAt, sub.ConnectionURI, boolToInt(sub.Active),
		nullableString(sub.PaymentRef), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sub.ID = id
	return nil
}

func scanSubscription(scanner rowScanner) (*repository.Subscription, error) {
	var (
		sub        repository.Subscription
		active     int
		paymentRef sql.NullString
	)
	if err := scanner.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.TariffID,
		&sub.ServerID,
		&sub.EndsAt,
		&sub.ConnectionURI,
		&active,
		&paymentRef,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Active = active == 1
	sub.PaymentRef = nullableStringPtr(paymentRef)
	return &sub, nil
}
