package job

import (
	"context"
	"log/slog"

	"github.com/creamcroissant/xprovision/internal/service"
)

// ExpirySweepJob deactivates subscriptions past their end date.
type ExpirySweepJob struct {
	Subscriptions service.SubscriptionService
	BatchSize     int
	Logger        *slog.Logger
}

// NewExpirySweepJob 构造到期清理任务。
func NewExpirySweepJob(subs service.SubscriptionService, batchSize int, logger *slog.Logger) *ExpirySweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweepJob{Subscriptions: subs, BatchSize: batchSize, Logger: logger}
}

func (j *ExpirySweepJob) Name() string { return "subscription.expiry_sweep" }

func (j *ExpirySweepJob) Run(ctx context.Context) error {
	count, err := j.Subscriptions.ExpireDue(ctx, j.BatchSize)
	if count > 0 {
		j.Logger.Info("subscriptions expired", "count", count)
	}
	return err
}
