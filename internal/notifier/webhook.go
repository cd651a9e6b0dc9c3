package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WebhookConfig 控制 webhook 投递。
type WebhookConfig struct {
	URL             string
	MaxRetries      int
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// WebhookService POSTs each message as JSON, retrying transient failures.
type WebhookService struct {
	cfg    WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhookService 构造 webhook 通知服务。
func NewWebhookService(cfg WebhookConfig, client *http.Client, logger *slog.Logger) *WebhookService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebhookService{cfg: cfg, client: client, logger: logger}
}

// Send delivers msg. 4xx answers are permanent and not retried.
func (s *WebhookService) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	msg.Text = Sanitize(msg.Text)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialInterval
	policy.MaxInterval = s.cfg.MaxInterval
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.MaxRetries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := s.post(ctx, payload)
		if err != nil {
			s.logger.DebugContext(ctx, "webhook delivery attempt failed", "attempt", attempt, "user_id", msg.UserID, "error", err)
		}
		return err
	}
	if err := backoff.Retry(operation, retry); err != nil {
		return fmt.Errorf("deliver notification / 通知投递失败: %w", err)
	}
	return nil
}

func (s *WebhookService) post(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("webhook answered %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
}
