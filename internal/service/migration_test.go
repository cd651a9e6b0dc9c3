package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/xprovision/internal/cache"
	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/repository"
)

const oldVlessURI = "vless://11111111-2222-4333-8444-555555555555@edge1.example.net:443#u7_aaaa1111"

func TestRemainingDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		left time.Duration
		want int
	}{
		{"thirty hours rounds up", 30 * time.Hour, 2},
		{"exact days stay", 48 * time.Hour, 2},
		{"one second is a day", time.Second, 1},
		{"expired floors at one", -72 * time.Hour, 1},
		{"ends now", 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RemainingDays(now.Add(tc.left).Unix(), now))
		})
	}
}

func TestMigrateCommitsOnTargetWithOldScheme(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, 30*time.Hour, oldVlessURI)

	result, err := f.migrator.Migrate(context.Background(), MigrateRequest{UserID: 7, SubscriptionID: old.ID, TargetServerID: 2})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, 2, result.RemainingDays)
	assert.True(t, result.OldRemoved)

	// Server 2 declares shadowsocks, but the user holds a vless credential.
	created := f.vless.Created()
	require.Len(t, created, 1)
	assert.Equal(t, int64(2), created[0].ServerID)
	assert.Equal(t, f.now.Add(48*time.Hour), created[0].Expiry)
	assert.Empty(t, f.ss.Created())
	assert.Equal(t, []string{"u7_aaaa1111"}, f.vless.Deleted())

	active, err := f.subs.ListByUser(context.Background(), 7, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	next := active[0]
	assert.Equal(t, result.New.ID, next.ID)
	assert.Equal(t, int64(2), next.ServerID)
	assert.Equal(t, old.TariffID, next.TariffID)
	assert.Equal(t, "pay-1", *next.PaymentRef)
	assert.Equal(t, f.now.Unix()+2*secondsPerDay, next.EndsAt)
	assert.Contains(t, next.ConnectionURI, "vless://")
	assert.Contains(t, next.ConnectionURI, "@edge2.example.net:443#u7_")

	previous, err := f.subs.FindByID(context.Background(), old.ID)
	require.NoError(t, err)
	assert.False(t, previous.Active)

	assert.Equal(t, 1, f.queue.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.migrations.WithLabelValues(string(StateCommitted))))
}

func TestMigrateExpiredRecordGetsOneDay(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, -5*time.Hour, oldVlessURI)

	result, err := f.migrator.Migrate(context.Background(), MigrateRequest{SubscriptionID: old.ID, TargetServerID: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemainingDays)
	assert.Equal(t, f.now.Unix()+secondsPerDay, result.New.EndsAt)
}

func TestMigrateCreateFailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, 30*time.Hour, oldVlessURI)
	f.vless.createErr = errors.Join(panel.ErrProvisioningFailed, errors.New("object: refused"), errors.New("list: refused"))

	result, err := f.migrator.Migrate(context.Background(), MigrateRequest{SubscriptionID: old.ID, TargetServerID: 2})
	require.ErrorIs(t, err, panel.ErrProvisioningFailed)
	assert.Equal(t, StateAborted, result.State)
	assert.Equal(t, StateCreateNew, result.FailedAt)

	all, err := f.subs.ListByUser(context.Background(), 7, false)
	require.NoError(t, err)
	require.Len(t, all, 1, "no new record may be inserted")
	assert.True(t, all[0].Active)
	assert.Empty(t, f.vless.Deleted(), "old credential must stay on its panel")
	assert.Zero(t, f.queue.Pending())
}

func TestMigrateDeleteFailureStillCommits(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, 30*time.Hour, oldVlessURI)
	f.vless.deleteErr = errors.New("dial tcp edge1.example.net:2053: connect: connection refused")

	result, err := f.migrator.Migrate(context.Background(), MigrateRequest{SubscriptionID: old.ID, TargetServerID: 2})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)
	assert.Error(t, result.DeleteErr)
	assert.False(t, result.OldRemoved)

	active, err := f.subs.ListByUser(context.Background(), 7, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].ServerID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.deleteFailures.WithLabelValues(string(panel.ProtocolVlessReality))))
}

func TestMigrateValidation(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(f *fixture, old *repository.Subscription) MigrateRequest
		want    error
	}{
		{
			name: "inactive source",
			prepare: func(f *fixture, old *repository.Subscription) MigrateRequest {
				f.subs.rows[old.ID].Active = false
				return MigrateRequest{SubscriptionID: old.ID, TargetServerID: 2}
			},
			want: ErrValidation,
		},
		{
			name: "disabled target",
			prepare: func(_ *fixture, old *repository.Subscription) MigrateRequest {
				return MigrateRequest{SubscriptionID: old.ID, TargetServerID: 3}
			},
			want: ErrValidation,
		},
		{
			name: "foreign subscription",
			prepare: func(_ *fixture, old *repository.Subscription) MigrateRequest {
				return MigrateRequest{UserID: 8, SubscriptionID: old.ID, TargetServerID: 2}
			},
			want: ErrValidation,
		},
		{
			name: "missing fields",
			prepare: func(_ *fixture, _ *repository.Subscription) MigrateRequest {
				return MigrateRequest{}
			},
			want: ErrValidation,
		},
		{
			name: "unknown subscription",
			prepare: func(_ *fixture, _ *repository.Subscription) MigrateRequest {
				return MigrateRequest{SubscriptionID: 999, TargetServerID: 2}
			},
			want: ErrNotFound,
		},
		{
			name: "unknown target",
			prepare: func(_ *fixture, old *repository.Subscription) MigrateRequest {
				return MigrateRequest{SubscriptionID: old.ID, TargetServerID: 42}
			},
			want: ErrNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			old := f.seed(t, 30*time.Hour, oldVlessURI)

			result, err := f.migrator.Migrate(context.Background(), tc.prepare(f, old))
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, StateAborted, result.State)
			assert.Equal(t, StateValidate, result.FailedAt)
			assert.Empty(t, f.vless.Created())
			assert.Empty(t, f.ss.Created())
			assert.Len(t, f.subs.rows, 1)
		})
	}
}

func TestMigrateCommitFailureIsPersistenceError(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, 30*time.Hour, oldVlessURI)
	f.subs.replaceErr = repository.ErrConflict

	result, err := f.migrator.Migrate(context.Background(), MigrateRequest{SubscriptionID: old.ID, TargetServerID: 2})
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, StateCommit, result.FailedAt)
	assert.Len(t, f.vless.Created(), 1)
}

func TestMigrateUnknownSchemeFallsBackToTargetProtocol(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, 30*time.Hour, "trojan://secret@edge1.example.net:443#u7_aaaa1111")

	result, err := f.migrator.Migrate(context.Background(), MigrateRequest{SubscriptionID: old.ID, TargetServerID: 2})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)
	assert.Len(t, f.ss.Created(), 1)
	assert.ErrorIs(t, result.DeleteErr, panel.ErrUnsupportedProtocol)
}

func TestMigrateStoresPanelExpiry(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, 30*time.Hour, oldVlessURI)

	// The panel round trip takes time: each clock read is 90s later.
	start := f.now
	ticks := 0
	clock := func() time.Time {
		ticks++
		return start.Add(time.Duration(ticks) * 90 * time.Second)
	}
	sessions := panel.NewSessionManager(cache.NewStore(cache.Options{DefaultTTL: cache.NoExpiration}), panel.SessionOptions{})
	prov := NewProvisioner(panel.NewRegistry(f.vless, f.ss), sessions, ProvisionerOptions{Now: clock})
	migrator := NewMigrationService(MigrationDeps{
		Servers:       f.servers,
		Subscriptions: f.subs,
		Provisioner:   prov,
		Now:           clock,
	})

	result, err := migrator.Migrate(context.Background(), MigrateRequest{SubscriptionID: old.ID, TargetServerID: 1})
	require.NoError(t, err)
	created := f.vless.Created()
	require.Len(t, created, 1)
	assert.Equal(t, created[0].Expiry.Unix(), result.New.EndsAt)
}
