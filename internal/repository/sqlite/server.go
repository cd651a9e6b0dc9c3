// 文件路径: internal/repository/sqlite/server.go
// 模块说明: 服务器注册表的 SQLite 实现。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/creamcroissant/xprovision/internal/repository"
)

type serverRepo struct {
	db *sql.DB
}

const serverColumns = `id, name, address, port, secret_path, panel_username, panel_password, protocol, inbound_id, enabled, created_at, updated_at`

func (r *serverRepo) FindByID(ctx context.Context, id int64) (*repository.Server, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	server, err := scanServer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return server, nil
}

func (r *serverRepo) ListAll(ctx context.Context) ([]*repository.Server, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []*repository.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return servers, nil
}

// Upsert inserts the server, or replaces every mutable column when the id
// already exists. A zero ID lets SQLite assign one.
func (r *serverRepo) Upsert(ctx context.Context, server *repository.Server) error {
	if server == nil {
		return errors.New("server is required / 服务器不能为空")
	}
	now := time.Now().Unix()
	if server.CreatedAt == 0 {
		server.CreatedAt = now
	}
	server.UpdatedAt = now

	var id any
	if server.ID > 0 {
		id = server.ID
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO servers (id, name, address, port, secret_path, panel_username, panel_password, protocol, inbound_id, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			port = excluded.port,
			secret_path = excluded.secret_path,
			panel_username = excluded.panel_username,
			panel_password = excluded.panel_password,
			protocol = excluded.protocol,
			inbound_id = excluded.inbound_id,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		id, server.Name, server.Address, server.Port, server.SecretPath, server.PanelUsername, server.PanelPassword,
		server.Protocol, server.InboundID, boolToInt(server.Enabled), server.CreatedAt, server.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if server.ID == 0 {
		if lastID, err := res.LastInsertId(); err == nil {
			server.ID = lastID
		}
	}
	return nil
}

func (r *serverRepo) SetEnabled(ctx context.Context, id int64, enabled bool, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE servers SET enabled = ?, updated_at = ? WHERE id = ?`, boolToInt(enabled), updatedAt, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanServer(scanner rowScanner) (*repository.Server, error) {
	var (
		server   repository.Server
		name     sql.NullString
		secret   sql.NullString
		username sql.NullString
		password sql.NullString
		enabled  int
	)
	if err := scanner.Scan(
		&server.ID,
		&name,
		&server.Address,
		&server.Port,
		&secret,
		&username,
		&password,
		&server.Protocol,
		&server.InboundID,
		&enabled,
		&server.CreatedAt,
		&server.UpdatedAt,
	); err != nil {
		return nil, err
	}
	server.Name = name.String
	server.SecretPath = secret.String
	server.PanelUsername = username.String
	server.PanelPassword = password.String
	server.Enabled = enabled == 1
	return &server, nil
}
