// 文件路径: internal/async/notification_queue.go
// 模块说明: 出站通知的内存缓冲，由调度任务批量取出投递，失败时回填到队首。
package async

import (
	"sync"

	"github.com/creamcroissant/xprovision/internal/notifier"
)

// NotificationQueue buffers outbound messages for background dispatch.
type NotificationQueue struct {
	mu       sync.Mutex
	messages []notifier.Message
	limit    int
}

// NewNotificationQueue returns an empty queue. A positive limit caps the
// buffer; the oldest messages are dropped first when it is exceeded.
func NewNotificationQueue(limit int) *NotificationQueue {
	return &NotificationQueue{messages: make([]notifier.Message, 0), limit: limit}
}

// Enqueue appends a pending message.
func (q *NotificationQueue) Enqueue(msg notifier.Message) {
	if q == nil || msg.UserID <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	if q.limit > 0 && len(q.messages) > q.limit {
		q.messages = q.messages[len(q.messages)-q.limit:]
	}
}

// Drain returns all pending messages and clears the buffer.
func (q *NotificationQueue) Drain() []notifier.Message {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.messages
	q.messages = make([]notifier.Message, 0)
	return drained
}

// Requeue puts undelivered messages back in front, keeping their order.
func (q *NotificationQueue) Requeue(msgs ...notifier.Message) {
	if q == nil || len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(append(make([]notifier.Message, 0, len(msgs)+len(q.messages)), msgs...), q.messages...)
}

// Pending reports buffered messages.
func (q *NotificationQueue) Pending() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
