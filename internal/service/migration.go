// 文件路径: internal/service/migration.go
// 模块说明: 迁移编排：VALIDATE → COMPUTE_REMAINING → CREATE_NEW → DELETE_OLD(尽力而为) → COMMIT。
// CREATE_NEW 成功之前不修改任何账本记录。
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

// MigrationState names a step of a migration.
type MigrationState string

const (
	StateValidate         MigrationState = "VALIDATE"
	StateComputeRemaining MigrationState = "COMPUTE_REMAINING"
	StateCreateNew        MigrationState = "CREATE_NEW"
	StateDeleteOld        MigrationState = "DELETE_OLD"
	StateCommit           MigrationState = "COMMIT"
	StateCommitted        MigrationState = "COMMITTED"
	StateAborted          MigrationState = "ABORTED"
)

const secondsPerDay = 24 * 60 * 60

// MigrateRequest moves SubscriptionID to TargetServerID. UserID, when set,
// must own the subscription.
type MigrateRequest struct {
	UserID         int64 `json:"user_id"`
	SubscriptionID int64 `json:"subscription_id"`
	TargetServerID int64 `json:"target_server_id"`
}

// MigrationResult reports how far a migration got.
type MigrationResult struct {
	State         MigrationState
	FailedAt      MigrationState
	Old           *repository.Subscription
	New           *repository.Subscription
	RemainingDays int
	// OldRemoved is false when the old client was already absent or its
	// deletion failed; DeleteErr carries the latter.
	OldRemoved bool
	DeleteErr  error
}

// MigrationService moves an active credential between servers.
type MigrationService interface {
	Migrate(ctx context.Context, req MigrateRequest) (*MigrationResult, error)
}

// Enqueuer accepts outbound notifications.
type Enqueuer interface {
	Enqueue(msg notifier.Message)
}

// MigrationDeps 迁移服务依赖。
type MigrationDeps struct {
	Servers       repository.ServerRepository
	Subscriptions repository.SubscriptionRepository
	Provisioner   Provisioner
	Notifications Enqueuer
	Metrics       *Metrics
	Logger        *slog.Logger
	Now           func() time.Time
}

type migrationService struct {
	servers       repository.ServerRepository
	subscriptions repository.SubscriptionRepository
	provisioner   Provisioner
	notifications Enqueuer
	metrics       *Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewMigrationService 组装迁移编排器。
func NewMigrationService(deps MigrationDeps) MigrationService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &migrationService{
		servers:       deps.Servers,
		subscriptions: deps.Subscriptions,
		provisioner:   deps.Provisioner,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		logger:        logger,
		now:           now,
	}
}

// RemainingDays is the whole days left before endsAt, rounded up and never
// below one.
func RemainingDays(endsAt int64, now time.Time) int {
	left := endsAt - now.Unix()
	if left <= 0 {
		return 1
	}
	days := (left + secondsPerDay - 1) / secondsPerDay
	if days < 1 {
		return 1
	}
	return int(days)
}

func (s *migrationService) Migrate(ctx context.Context, req MigrateRequest) (*MigrationResult, error) {
	if s == nil || s.servers == nil || s.subscriptions == nil || s.provisioner == nil {
		return nil, fmt.Errorf("migration service not fully configured / 迁移服务未完整配置")
	}
	result := &MigrationResult{State: StateValidate}
	logger := s.logger.With("subscription_id", req.SubscriptionID, "target_server_id", req.TargetServerID)

	old, target, err := s.validate(ctx, req)
	if err != nil {
		return s.abort(ctx, logger, result, err)
	}
	result.Old = old
	logger = logger.With("user_id", old.UserID)

	result.State = StateComputeRemaining
	now := s.now()
	result.RemainingDays = RemainingDays(old.EndsAt, now)

	result.State = StateCreateNew
	created, err := s.provisioner.ProvisionLike(ctx, target, result.RemainingDays, old.UserID, old.ConnectionURI)
	if err != nil {
		return s.abort(ctx, logger, result, err)
	}

	result.State = StateDeleteOld
	result.OldRemoved, result.DeleteErr = s.deleteOld(ctx, old)
	if result.DeleteErr != nil {
		logger.WarnContext(ctx, "old credential not removed, continuing", "server_id", old.ServerID, "state", StateDeleteOld, "error", result.DeleteErr)
	}

	result.State = StateCommit
	next := &repository.Subscription{
		UserID:        old.UserID,
		TariffID:      old.TariffID,
		ServerID:      target.ID,
		EndsAt:        created.ExpiresAt.Unix(),
		ConnectionURI: created.URI,
		Active:        true,
		PaymentRef:    old.PaymentRef,
	}
	if err := s.subscriptions.Replace(ctx, old.ID, next); err != nil {
		// No rollback of the remote client: it stays orphaned on the target.
		logger.ErrorContext(ctx, "commit failed after remote creation", "server_id", target.ID, "label", created.Label, "state", StateCommit, "error", err)
		return s.abort(ctx, logger, result, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	result.New = next
	result.State = StateCommitted
	s.metrics.migrated(StateCommitted)
	logger.InfoContext(ctx, "migration committed", "new_subscription_id", next.ID, "server_id", target.ID, "remaining_days", result.RemainingDays, "old_removed", result.OldRemoved)

	if s.notifications != nil {
		s.notifications.Enqueue(notifier.Message{
			UserID:         next.UserID,
			SubscriptionID: next.ID,
			Kind:           notifier.KindMigrated,
			Text:           fmt.Sprintf("Your access moved to %s and is valid for %d more day(s).", target.Name, result.RemainingDays),
			URI:            next.ConnectionURI,
		})
	}
	return result, nil
}

func (s *migrationService) validate(ctx context.Context, req MigrateRequest) (*repository.Subscription, *repository.Server, error) {
	if req.SubscriptionID <= 0 || req.TargetServerID <= 0 {
		return nil, nil, fmt.Errorf("%w: subscription and target server are required", ErrValidation)
	}
	old, err := s.subscriptions.FindByID(ctx, req.SubscriptionID)
	if err != nil {
		return nil, nil, lookupError("subscription", err)
	}
	if req.UserID != 0 && old.UserID != req.UserID {
		return nil, nil, fmt.Errorf("%w: subscription %d does not belong to user %d", ErrValidation, old.ID, req.UserID)
	}
	if !old.Active {
		return nil, nil, fmt.Errorf("%w: subscription %d is not active", ErrValidation, old.ID)
	}
	if old.ConnectionURI == "" {
		return nil, nil, fmt.Errorf("%w: subscription %d has no credential", ErrValidation, old.ID)
	}
	target, err := s.servers.FindByID(ctx, req.TargetServerID)
	if err != nil {
		return nil, nil, lookupError("target server", err)
	}
	if !target.Enabled {
		return nil, nil, fmt.Errorf("%w: server %d is disabled", ErrValidation, target.ID)
	}
	return old, target, nil
}

func (s *migrationService) deleteOld(ctx context.Context, old *repository.Subscription) (bool, error) {
	server, err := s.servers.FindByID(ctx, old.ServerID)
	if err != nil {
		return false, fmt.Errorf("load old server: %w", err)
	}
	return s.provisioner.Revoke(ctx, server, old.ConnectionURI)
}

func (s *migrationService) abort(ctx context.Context, logger *slog.Logger, result *MigrationResult, err error) (*MigrationResult, error) {
	result.FailedAt = result.State
	result.State = StateAborted
	s.metrics.migrated(StateAborted)
	level := slog.LevelError
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		level = slog.LevelInfo
	}
	logger.Log(ctx, level, "migration aborted", "state", result.FailedAt, "error", err)
	return result, err
}

func lookupError(what string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%w: load %s: %w", ErrPersistence, what, err)
}
