// 文件路径: internal/notifier/notifier.go
// 模块说明: 出站通知负载与投递通道。未配置 webhook 时仅写日志。
package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Kind classifies an outbound message.
type Kind string

const (
	KindIssued   Kind = "subscription_issued"
	KindMigrated Kind = "subscription_migrated"
	KindExpired  Kind = "subscription_expired"
)

// Message is the payload handed to the chat/notification collaborator.
type Message struct {
	UserID         int64  `json:"user_id"`
	SubscriptionID int64  `json:"subscription_id"`
	Kind           Kind   `json:"kind"`
	Text           string `json:"text"`
	URI            string `json:"uri,omitempty"`
}

// Service 投递一条通知。
type Service interface {
	Send(ctx context.Context, msg Message) error
}

// ErrInvalidMessage 表示消息缺少收件用户。
var ErrInvalidMessage = errors.New("notifier: invalid message / 通知消息无效")

var textPolicy = bluemonday.StrictPolicy()

// Sanitize strips markup from free text before it leaves the process.
func Sanitize(text string) string {
	return strings.TrimSpace(textPolicy.Sanitize(text))
}

func validate(msg Message) error {
	if msg.UserID <= 0 {
		return ErrInvalidMessage
	}
	return nil
}

// LoggerService 将通知写入日志，用于未配置 webhook 的部署与测试。
type LoggerService struct {
	logger *slog.Logger
}

// NewLoggerService 创建仅记录日志的通知服务。
func NewLoggerService(logger *slog.Logger) *LoggerService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LoggerService{logger: logger}
}

// Send 记录通知；URI 属于凭据，不写入日志。
func (s *LoggerService) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "notification",
		"user_id", msg.UserID,
		"subscription_id", msg.SubscriptionID,
		"kind", msg.Kind,
		"text", Sanitize(msg.Text),
	)
	return nil
}
