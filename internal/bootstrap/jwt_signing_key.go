// 文件路径: internal/bootstrap/jwt_signing_key.go
// 模块说明: 未配置签名密钥时，生成一次并持久化到 settings 表，重启后令牌仍然有效。
package bootstrap

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// SigningKeySource 说明签名密钥的来源。
type SigningKeySource string

const (
	SigningKeyFromConfig    SigningKeySource = "config"
	SigningKeyFromSettings  SigningKeySource = "settings"
	SigningKeyFromGenerated SigningKeySource = "generated"
)

const (
	placeholderSigningKey = "change-me"
	signingKeySetting     = "auth_signing_key"
	signingKeyBytes       = 32
)

const signingKeyHint = "set XPROVISION_AUTH_SIGNING_KEY to override"

// ResolveSigningKey returns the configured key unless it is empty or the
// placeholder; otherwise it reads, or generates and stores, one in settings.
func ResolveSigningKey(ctx context.Context, db *sql.DB, configured string, now func() time.Time) (string, SigningKeySource, error) {
	return resolveSigningKey(ctx, db, configured, now, rand.Reader)
}

func resolveSigningKey(ctx context.Context, db *sql.DB, configured string, now func() time.Time, random io.Reader) (string, SigningKeySource, error) {
	if key := strings.TrimSpace(configured); key != "" && key != placeholderSigningKey {
		return key, SigningKeyFromConfig, nil
	}
	if db == nil {
		return "", "", fmt.Errorf("resolve signing key: database required; %s", signingKeyHint)
	}
	if now == nil {
		now = time.Now
	}

	stored, err := readSetting(ctx, db, signingKeySetting)
	if err != nil {
		return "", "", fmt.Errorf("read signing key: %w; %s", err, signingKeyHint)
	}
	if stored != "" {
		return stored, SigningKeyFromSettings, nil
	}

	raw := make([]byte, signingKeyBytes)
	if _, err := io.ReadFull(random, raw); err != nil {
		return "", "", fmt.Errorf("generate signing key: %w", err)
	}
	generated := hex.EncodeToString(raw)

	// 并发启动时以先写入者为准。
	const insert = `INSERT INTO settings(key, value, category, updated_at) VALUES(?, ?, 'security', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE TRIM(settings.value) = ''`
	if _, err := db.ExecContext(ctx, insert, signingKeySetting, generated, now().Unix()); err != nil {
		return "", "", fmt.Errorf("store signing key: %w; %s", err, signingKeyHint)
	}
	stored, err = readSetting(ctx, db, signingKeySetting)
	if err != nil || stored == "" {
		return "", "", fmt.Errorf("signing key missing after store: %v; %s", err, signingKeyHint)
	}
	if stored == generated {
		return stored, SigningKeyFromGenerated, nil
	}
	return stored, SigningKeyFromSettings, nil
}

func readSetting(ctx context.Context, db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}
