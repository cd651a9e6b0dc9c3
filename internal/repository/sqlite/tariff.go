package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/creamcroissant/xprovision/internal/repository"
)

type tariffRepo struct {
	db *sql.DB
}

func (r *tariffRepo) FindByID(ctx context.Context, id int64) (*repository.Tariff, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, duration_days, created_at, updated_at FROM tariffs WHERE id = ?`, id)
	tariff, err := scanTariff(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return tariff, nil
}

func (r *tariffRepo) ListAll(ctx context.Context) ([]*repository.Tariff, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, duration_days, created_at, updated_at FROM tariffs ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tariffs []*repository.Tariff
	for rows.Next() {
		tariff, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		tariffs = append(tariffs, tariff)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tariffs, nil
}

func (r *tariffRepo) Upsert(ctx context.Context, tariff *repository.Tariff) error {
	if tariff == nil {
		return errors.New("tariff is required / 套餐不能为空")
	}
	now := time.Now().Unix()
	if tariff.CreatedAt == 0 {
		tariff.CreatedAt = now
	}
	tariff.UpdatedAt = now

	var id any
	if tariff.ID > 0 {
		id = tariff.ID
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tariffs (id, name, duration_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			duration_days = excluded.duration_days,
			updated_at = excluded.updated_at`,
		id, tariff.Name, tariff.DurationDays, tariff.CreatedAt, tariff.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tariff.ID == 0 {
		if lastID, err := res.LastInsertId(); err == nil {
			tariff.ID = lastID
		}
	}
	return nil
}

func scanTariff(scanner rowScanner) (*repository.Tariff, error) {
	var (
		tariff repository.Tariff
		name   sql.NullString
	)
	if err := scanner.Scan(&tariff.ID, &name, &tariff.DurationDays, &tariff.CreatedAt, &tariff.UpdatedAt); err != nil {
		return nil, err
	}
	tariff.Name = name.String
	return &tariff, nil
}
