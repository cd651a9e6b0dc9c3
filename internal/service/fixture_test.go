package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/creamcroissant/xprovision/internal/async"
	"github.com/creamcroissant/xprovision/internal/cache"
	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/repository"
)

type fixture struct {
	now      time.Time
	servers  *memServers
	tariffs  *memTariffs
	subs     *memSubscriptions
	vless    *fakeAdapter
	ss       *fakeAdapter
	queue    *async.NotificationQueue
	sessions *panel.SessionManager
	metrics  *Metrics
	prov     Provisioner
	migrator MigrationService
	ledger   SubscriptionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		servers: &memServers{rows: map[int64]*repository.Server{
			1: {ID: 1, Name: "edge-1", Address: "edge1.example.net", Port: 2053, Protocol: string(panel.ProtocolVlessReality), InboundID: 5, Enabled: true},
			2: {ID: 2, Name: "edge-2", Address: "edge2.example.net", Port: 2053, Protocol: string(panel.ProtocolShadowsocks2022), InboundID: 3, Enabled: true},
			3: {ID: 3, Name: "edge-3", Address: "edge3.example.net", Port: 2053, Protocol: string(panel.ProtocolVlessReality), InboundID: 5, Enabled: false},
		}},
		tariffs: &memTariffs{rows: map[int64]*repository.Tariff{
			10: {ID: 10, Name: "month", DurationDays: 30},
			11: {ID: 11, Name: "broken", DurationDays: 0},
		}},
		subs:  newMemSubscriptions(),
		vless: &fakeAdapter{protocol: panel.ProtocolVlessReality, scheme: "vless"},
		ss:    &fakeAdapter{protocol: panel.ProtocolShadowsocks2022, scheme: "ss"},
		queue: async.NewNotificationQueue(0),
	}
	f.metrics = NewMetrics(prometheus.NewRegistry(), "test")
	clock := func() time.Time { return f.now }
	f.sessions = panel.NewSessionManager(cache.NewStore(cache.Options{DefaultTTL: cache.NoExpiration}), panel.SessionOptions{})
	f.prov = NewProvisioner(panel.NewRegistry(f.vless, f.ss), f.sessions, ProvisionerOptions{Metrics: f.metrics, Now: clock})
	f.migrator = NewMigrationService(MigrationDeps{
		Servers:       f.servers,
		Subscriptions: f.subs,
		Provisioner:   f.prov,
		Notifications: f.queue,
		Metrics:       f.metrics,
		Now:           clock,
	})
	f.ledger = NewSubscriptionService(SubscriptionDeps{
		Servers:       f.servers,
		Tariffs:       f.tariffs,
		Subscriptions: f.subs,
		Provisioner:   f.prov,
		Notifications: f.queue,
		Now:           clock,
	})
	return f
}

// seed stores an active subscription on server 1 ending after left.
func (f *fixture) seed(t *testing.T, left time.Duration, uri string) *repository.Subscription {
	t.Helper()
	ref := "pay-1"
	sub := &repository.Subscription{
		UserID:        7,
		TariffID:      10,
		ServerID:      1,
		EndsAt:        f.now.Add(left).Unix(),
		ConnectionURI: uri,
		Active:        true,
		PaymentRef:    &ref,
	}
	f.subs.insert(sub)
	return sub
}
