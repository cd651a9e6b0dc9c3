package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config 汇总应用的全部配置。
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"database"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Panel   PanelConfig   `mapstructure:"panel"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

// MetricsConfig 定义 Prometheus 指标配置。
type MetricsConfig struct {
	Enabled   bool      `mapstructure:"enabled"`
	Namespace string    `mapstructure:"namespace"`
	Token     string    `mapstructure:"token"`
	Buckets   []float64 `mapstructure:"buckets"`
}

// HTTPConfig 定义 HTTP 服务配置。
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig 定义日志配置。
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// DBConfig 定义数据库配置。
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig 定义管理 API 的认证配置。
type AuthConfig struct {
	SigningKey        string        `mapstructure:"signing_key"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	Issuer            string        `mapstructure:"issuer"`
	Audience          string        `mapstructure:"audience"`
	Leeway            time.Duration `mapstructure:"leeway"`
	BcryptCost        int           `mapstructure:"bcrypt_cost"`
	AdminUsername     string        `mapstructure:"admin_username"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
}

// PanelConfig 定义远端面板交互参数。
type PanelConfig struct {
	// RequestTimeout 为 0 时由调用方的 context 决定超时。
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// SessionTTL 为 0 时会话一直缓存到被拒绝为止。
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	VlessSubmitShapes []string      `mapstructure:"vless_submit_shapes"`
	LabelAttempts     int           `mapstructure:"label_attempts"`
}

// NotifyConfig 定义出站通知配置。
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	QueueLimit int           `mapstructure:"queue_limit"`
}

// JobsConfig 定义后台任务的 cron 表达式，空字符串表示禁用。
type JobsConfig struct {
	ExpirySweep          string        `mapstructure:"expiry_sweep"`
	NotificationDispatch string        `mapstructure:"notification_dispatch"`
	Timeout              time.Duration `mapstructure:"timeout"`
	SweepBatch           int           `mapstructure:"sweep_batch"`
}

func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate 检查服务启动必需的配置。
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, errors.New("database.path is required / 数据库路径不能为空"))
	}
	if c.Panel.LabelAttempts < 0 {
		errs = append(errs, fmt.Errorf("panel.label_attempts must not be negative, got %d", c.Panel.LabelAttempts))
	}
	for _, shape := range c.Panel.VlessSubmitShapes {
		if shape != "object" && shape != "list" {
			errs = append(errs, fmt.Errorf("panel.vless_submit_shapes: unknown shape %q", shape))
		}
	}
	return errors.Join(errs...)
}
