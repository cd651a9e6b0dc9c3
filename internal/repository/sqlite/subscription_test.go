package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/creamcroissant/xprovision/internal/migrations"
	"github.com/creamcroissant/xprovision/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))
	return NewStore(db)
}

func TestSubscriptionReplaceFlipsActiveRecord(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	subs := store.Subscriptions()

	ref := "pay-42"
	old := &repository.Subscription{
		UserID:        7,
		TariffID:      3,
		ServerID:      1,
		EndsAt:        time.Now().Add(48 * time.Hour).Unix(),
		ConnectionURI: "vless://old@host:443",
		Active:        true,
		PaymentRef:    &ref,
	}
	require.NoError(t, subs.Create(ctx, old))
	require.NotZero(t, old.ID)

	next := &repository.Subscription{
		UserID:        7,
		TariffID:      3,
		ServerID:      2,
		EndsAt:        old.EndsAt,
		ConnectionURI: "vless://new@other:443",
		Active:        true,
		PaymentRef:    old.PaymentRef,
	}
	require.NoError(t, subs.Replace(ctx, old.ID, next))
	require.NotZero(t, next.ID)

	active, err := subs.ListByUser(ctx, 7, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, next.ID, active[0].ID)
	assert.Equal(t, int64(2), active[0].ServerID)
	require.NotNil(t, active[0].PaymentRef)
	assert.Equal(t, "pay-42", *active[0].PaymentRef)

	prev, err := subs.FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, prev.Active)
}

func TestSubscriptionReplaceRejectsInactiveSource(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	subs := store.Subscriptions()

	old := &repository.Subscription{UserID: 1, TariffID: 1, ServerID: 1, EndsAt: 10, ConnectionURI: "ss://x@h:1", Active: false}
	require.NoError(t, subs.Create(ctx, old))

	err := subs.Replace(ctx, old.ID, &repository.Subscription{UserID: 1, TariffID: 1, ServerID: 2, EndsAt: 10, ConnectionURI: "ss://y@h:1", Active: true})
	require.ErrorIs(t, err, repository.ErrConflict)

	all, err := subs.ListByUser(ctx, 1, false)
	require.NoError(t, err)
	assert.Len(t, all, 1, "no replacement row may be inserted when the flip fails")
}

func TestSubscriptionListExpired(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	subs := store.Subscriptions()
	now := time.Now().Unix()

	expired := &repository.Subscription{UserID: 1, TariffID: 1, ServerID: 1, EndsAt: now - 60, ConnectionURI: "ss://a@h:1", Active: true}
	live := &repository.Subscription{UserID: 2, TariffID: 1, ServerID: 1, EndsAt: now + 3600, ConnectionURI: "ss://b@h:1", Active: true}
	require.NoError(t, subs.Create(ctx, expired))
	require.NoError(t, subs.Create(ctx, live))

	got, err := subs.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)

	require.NoError(t, subs.Deactivate(ctx, expired.ID, now))
	require.ErrorIs(t, subs.Deactivate(ctx, expired.ID, now), repository.ErrConflict)
}

func TestServerUpsertAndFind(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	server := &repository.Server{
		Name:          "fra-1",
		Address:       "fra.example.net",
		Port:          2053,
		SecretPath:    "s3cr3t",
		PanelUsername: "admin",
		PanelPassword: "pw",
		Protocol:      "vless-reality",
		InboundID:     4,
		Enabled:       true,
	}
	require.NoError(t, store.Servers().Upsert(ctx, server))
	require.NotZero(t, server.ID)

	server.Enabled = false
	server.InboundID = 5
	require.NoError(t, store.Servers().Upsert(ctx, server))

	got, err := store.Servers().FindByID(ctx, server.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, int64(5), got.InboundID)
	assert.Equal(t, "s3cr3t", got.SecretPath)

	_, err = store.Servers().FindByID(ctx, 999)
	require.ErrorIs(t, err, repository.ErrNotFound)
}
