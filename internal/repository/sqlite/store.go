// 文件路径: internal/repository/sqlite/store.go
// 模块说明: 组装基于 SQLite 的仓储实现。
package sqlite

import (
	"database/sql"

	"github.com/creamcroissant/xprovision/internal/repository"
)

// Store wires SQLite-backed repository implementations.
type Store struct {
	db            *sql.DB
	servers       repository.ServerRepository
	tariffs       repository.TariffRepository
	subscriptions repository.SubscriptionRepository
}

// NewStore constructs a SQLite-backed repository store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:            db,
		servers:       &serverRepo{db: db},
		tariffs:       &tariffRepo{db: db},
		subscriptions: &subscriptionRepo{db: db},
	}
}

func (s *Store) Servers() repository.ServerRepository {
	return s.servers
}

func (s *Store) Tariffs() repository.TariffRepository {
	return s.tariffs
}

func (s *Store) Subscriptions() repository.SubscriptionRepository {
	return s.subscriptions
}
