// 文件路径: internal/repository/interfaces.go
// 模块说明: 各聚合根对应的仓储接口。
package repository

import "context"

// Store 暴露每个聚合根对应的仓储接口。
type Store interface {
	Servers() ServerRepository
	Tariffs() TariffRepository
	Subscriptions() SubscriptionRepository
}

// ServerRepository 管理服务器注册表。
type ServerRepository interface {
	FindByID(ctx context.Context, id int64) (*Server, error)
	ListAll(ctx context.Context) ([]*Server, error)
	Upsert(ctx context.Context, server *Server) error
	SetEnabled(ctx context.Context, id int64, enabled bool, updatedAt int64) error
}

// TariffRepository 管理套餐时长。
type TariffRepository interface {
	FindByID(ctx context.Context, id int64) (*Tariff, error)
	ListAll(ctx context.Context) ([]*Tariff, error)
	Upsert(ctx context.Context, tariff *Tariff) error
}

// SubscriptionRepository 管理订阅账本。
type SubscriptionRepository interface {
	FindByID(ctx context.Context, id int64) (*Subscription, error)
	ListByUser(ctx context.Context, userID int64, activeOnly bool) ([]*Subscription, error)
	Create(ctx context.Context, sub *Subscription) error
	// Replace deactivates oldID and inserts next as the active row in one
	// transaction. ErrConflict is returned when oldID is no longer active.
	Replace(ctx context.Context, oldID int64, next *Subscription) error
	Deactivate(ctx context.Context, id int64, updatedAt int64) error
	ListExpired(ctx context.Context, nowUnix int64, limit int) ([]*Subscription, error)
}
