// 文件路径: internal/repository/types.go
// 模块说明: 服务器注册表、套餐与订阅账本的数据结构。
package repository

// Server mirrors one row of the server registry.
// Address/Port/SecretPath locate the panel; InboundID names the listener
// that receives provisioned clients.
type Server struct {
	ID            int64
	Name          string
	Address       string
	Port          int
	SecretPath    string
	PanelUsername string
	PanelPassword string
	Protocol      string
	InboundID     int64
	Enabled       bool
	CreatedAt     int64
	UpdatedAt     int64
}

// Tariff is the subset of the tariff registry the engine consumes.
type Tariff struct {
	ID           int64
	Name         string
	DurationDays int
	CreatedAt    int64
	UpdatedAt    int64
}

// Subscription is one ledger row. ConnectionURI is stored verbatim as
// returned at creation time.
type Subscription struct {
	ID            int64
	UserID        int64
	TariffID      int64
	ServerID      int64
	EndsAt        int64
	ConnectionURI string
	Active        bool
	PaymentRef    *string
	CreatedAt     int64
	UpdatedAt     int64
}
