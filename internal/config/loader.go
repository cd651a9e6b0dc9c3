package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads config.yaml (or the file at path when given), then
// XPROVISION_* environment variables and a legacy .env file.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/xprovision/")
	}

	v.SetEnvPrefix("XPROVISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := loadDotEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "0.0.0.0:8080")
	v.SetDefault("http.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.path", "data/xprovision.db")

	v.SetDefault("auth.signing_key", "change-me")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "xprovision")
	v.SetDefault("auth.audience", "xprovision-admin")
	v.SetDefault("auth.leeway", "30s")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password_hash", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "xprovision")
	v.SetDefault("metrics.token", "")

	v.SetDefault("panel.request_timeout", "0s")
	v.SetDefault("panel.session_ttl", "0s")
	v.SetDefault("panel.vless_submit_shapes", []string{"object", "list"})
	v.SetDefault("panel.label_attempts", 8)

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.queue_limit", 1000)

	v.SetDefault("jobs.expiry_sweep", "@every 10m")
	v.SetDefault("jobs.notification_dispatch", "@every 10s")
	v.SetDefault("jobs.timeout", "2m")
	v.SetDefault("jobs.sweep_batch", 100)
}

func loadDotEnv(v *viper.Viper) error {
	candidates := []string{".", ".."}
	for _, path := range candidates {
		file := filepath.Clean(filepath.Join(path, ".env"))
		if _, err := os.Stat(file); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat .env: %w", err)
		}

		// Separate instance so .env values are not typed against the main config.
		envViper := viper.New()
		envViper.SetConfigFile(file)
		envViper.SetConfigType("env")
		if err := envViper.ReadInConfig(); err != nil {
			return fmt.Errorf("read .env: %w", err)
		}
		bindLegacyEnv(v, envViper)
		return nil
	}
	return nil
}

// bindLegacyEnv maps flat .env keys onto the hierarchical config. A real
// XPROVISION_* variable for the same key wins over the .env value.
func bindLegacyEnv(target *viper.Viper, source *viper.Viper) {
	mappings := map[string]string{
		"HTTP_ADDR":           "http.addr",
		"LOG_LEVEL":           "log.level",
		"LOG_FORMAT":          "log.format",
		"DB_PATH":             "database.path",
		"AUTH_SIGNING_KEY":    "auth.signing_key",
		"ADMIN_USERNAME":      "auth.admin_username",
		"ADMIN_PASSWORD_HASH": "auth.admin_password_hash",
		"METRICS_TOKEN":       "metrics.token",
		"NOTIFY_WEBHOOK_URL":  "notify.webhook_url",
	}
	for oldKey, newKey := range mappings {
		envName := "XPROVISION_" + strings.ToUpper(strings.ReplaceAll(newKey, ".", "_"))
		if _, set := os.LookupEnv(envName); set {
			continue
		}
		if val := source.GetString(oldKey); val != "" {
			target.Set(newKey, val)
		}
	}
}
