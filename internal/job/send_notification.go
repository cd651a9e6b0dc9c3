// 文件路径: internal/job/send_notification.go
// 模块说明: 取出通知队列并投递；失败的消息按原顺序回填，下轮重试。
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/creamcroissant/xprovision/internal/async"
	"github.com/creamcroissant/xprovision/internal/notifier"
)

// SendNotificationJob 处理出站通知队列。
type SendNotificationJob struct {
	Queue    *async.NotificationQueue
	Notifier notifier.Service
	Logger   *slog.Logger
}

// NewSendNotificationJob 构造通知投递任务。
func NewSendNotificationJob(queue *async.NotificationQueue, svc notifier.Service, logger *slog.Logger) *SendNotificationJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendNotificationJob{Queue: queue, Notifier: svc, Logger: logger}
}

// Name 返回任务标识。
func (j *SendNotificationJob) Name() string { return "notify.dispatch" }

// Run 投递通知。遇到第一个失败即停止，其余消息连同失败者一起回填。
func (j *SendNotificationJob) Run(ctx context.Context) error {
	if j == nil || j.Queue == nil || j.Notifier == nil {
		return fmt.Errorf("notification job dependencies not configured / 通知任务依赖未配置")
	}
	msgs := j.Queue.Drain()
	if len(msgs) == 0 {
		return nil
	}
	for i, msg := range msgs {
		if err := j.Notifier.Send(ctx, msg); err != nil {
			if errors.Is(err, notifier.ErrInvalidMessage) {
				j.Logger.Warn("notification dropped", "user_id", msg.UserID, "kind", msg.Kind, "reason", err)
				continue
			}
			j.Queue.Requeue(msgs[i:]...)
			return err
		}
	}
	j.Logger.Debug("notifications sent", "count", len(msgs))
	return nil
}
