// 文件路径: internal/service/subscription.go
// 模块说明: 订阅账本服务：开通新订阅、查询有效订阅、到期清理。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/creamcroissant/xprovision/internal/notifier"
	"github.com/creamcroissant/xprovision/internal/repository"
)

// IssueRequest asks for a new subscription on a server.
type IssueRequest struct {
	UserID     int64   `json:"user_id"`
	TariffID   int64   `json:"tariff_id"`
	ServerID   int64   `json:"server_id"`
	PaymentRef *string `json:"payment_ref,omitempty"`
}

// SubscriptionService manages ledger rows around provisioning.
type SubscriptionService interface {
	Issue(ctx context.Context, req IssueRequest) (*repository.Subscription, error)
	Get(ctx context.Context, id int64) (*repository.Subscription, error)
	ListActive(ctx context.Context, userID int64) ([]*repository.Subscription, error)
	// ExpireDue deactivates records past their end and removes their remote
	// clients on a best-effort basis. It returns how many were deactivated.
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// SubscriptionDeps 订阅服务依赖。
type SubscriptionDeps struct {
	Servers       repository.ServerRepository
	Tariffs       repository.TariffRepository
	Subscriptions repository.SubscriptionRepository
	Provisioner   Provisioner
	Notifications Enqueuer
	Logger        *slog.Logger
	Now           func() time.Time
}

type subscriptionService struct {
	servers       repository.ServerRepository
	tariffs       repository.TariffRepository
	subscriptions repository.SubscriptionRepository
	provisioner   Provisioner
	notifications Enqueuer
	logger        *slog.Logger
	now           func() time.Time
}

// NewSubscriptionService 组装订阅服务。
func NewSubscriptionService(deps SubscriptionDeps) SubscriptionService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &subscriptionService{
		servers:       deps.Servers,
		tariffs:       deps.Tariffs,
		subscriptions: deps.Subscriptions,
		provisioner:   deps.Provisioner,
		notifications: deps.Notifications,
		logger:        logger,
		now:           now,
	}
}

func (s *subscriptionService) Issue(ctx context.Context, req IssueRequest) (*repository.Subscription, error) {
	if req.UserID <= 0 || req.TariffID <= 0 || req.ServerID <= 0 {
		return nil, fmt.Errorf("%w: user, tariff and server are required", ErrValidation)
	}
	server, err := s.servers.FindByID(ctx, req.ServerID)
	if err != nil {
		return nil, lookupError("server", err)
	}
	if !server.Enabled {
		return nil, fmt.Errorf("%w: server %d is disabled", ErrValidation, server.ID)
	}
	tariff, err := s.tariffs.FindByID(ctx, req.TariffID)
	if err != nil {
		return nil, lookupError("tariff", err)
	}
	if tariff.DurationDays <= 0 {
		return nil, fmt.Errorf("%w: tariff %d has no duration", ErrValidation, tariff.ID)
	}
	if err := s.claimLineage(ctx, req.UserID, tariff.ID); err != nil {
		return nil, err
	}

	created, err := s.provisioner.Provision(ctx, server, tariff.DurationDays, req.UserID)
	if err != nil {
		return nil, err
	}
	record := &repository.Subscription{
		UserID:        req.UserID,
		TariffID:      tariff.ID,
		ServerID:      server.ID,
		EndsAt:        created.ExpiresAt.Unix(),
		ConnectionURI: created.URI,
		Active:        true,
		PaymentRef:    req.PaymentRef,
	}
	if err := s.subscriptions.Create(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "ledger insert failed after remote creation", "server_id", server.ID, "user_id", req.UserID, "label", created.Label, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if s.notifications != nil {
		s.notifications.Enqueue(notifier.Message{
			UserID:         record.UserID,
			SubscriptionID: record.ID,
			Kind:           notifier.KindIssued,
			Text:           fmt.Sprintf("Your %s access on %s is ready for %d day(s).", tariff.Name, server.Name, tariff.DurationDays),
			URI:            record.ConnectionURI,
		})
	}
	return record, nil
}

// claimLineage keeps one active record per (user, tariff). A live record
// rejects the request; one that ended but was not swept yet is retired here.
func (s *subscriptionService) claimLineage(ctx context.Context, userID, tariffID int64) error {
	active, err := s.subscriptions.ListByUser(ctx, userID, true)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	now := s.now().Unix()
	for _, record := range active {
		if record.TariffID != tariffID {
			continue
		}
		if record.EndsAt > now {
			return fmt.Errorf("%w: user %d already holds active subscription %d for tariff %d", ErrValidation, userID, record.ID, tariffID)
		}
		if err := s.subscriptions.Deactivate(ctx, record.ID, now); err != nil && !errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		s.revokeQuietly(ctx, record)
	}
	return nil
}

func (s *subscriptionService) Get(ctx context.Context, id int64) (*repository.Subscription, error) {
	record, err := s.subscriptions.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError("subscription", err)
	}
	return record, nil
}

func (s *subscriptionService) ListActive(ctx context.Context, userID int64) ([]*repository.Subscription, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	records, err := s.subscriptions.ListByUser(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return records, nil
}

func (s *subscriptionService) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.subscriptions.ListExpired(ctx, now.Unix(), limit)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	expired := 0
	for _, record := range due {
		if err := s.subscriptions.Deactivate(ctx, record.ID, now.Unix()); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				// Migrated or expired concurrently.
				continue
			}
			return expired, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		expired++
		s.revokeQuietly(ctx, record)
		if s.notifications != nil {
			s.notifications.Enqueue(notifier.Message{
				UserID:         record.UserID,
				SubscriptionID: record.ID,
				Kind:           notifier.KindExpired,
				Text:           "Your access has expired.",
			})
		}
	}
	return expired, nil
}

func (s *subscriptionService) revokeQuietly(ctx context.Context, record *repository.Subscription) {
	server, err := s.servers.FindByID(ctx, record.ServerID)
	if err == nil {
		_, err = s.provisioner.Revoke(ctx, server, record.ConnectionURI)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "expired credential not removed", "subscription_id", record.ID, "server_id", record.ServerID, "error", err)
	}
}
