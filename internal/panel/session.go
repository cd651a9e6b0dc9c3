// 文件路径: internal/panel/session.go
// 模块说明: 每台服务器一个已登录会话；同一服务器的首次登录通过槽位串行化，避免重复登录。
package panel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/creamcroissant/xprovision/internal/cache"
	"github.com/creamcroissant/xprovision/internal/repository"
)

// Session is a cached authentication artifact for one server and protocol.
type Session interface {
	ServerID() int64
	Protocol() Protocol
}

// SessionOptions tunes the manager.
type SessionOptions struct {
	// TTL bounds how long a session is reused; zero keeps it until evicted.
	TTL    time.Duration
	Logger *slog.Logger
}

// SessionManager owns the per-server session cache. Reuse is unconditional
// once cached; callers evict on downstream rejection (see Do).
type SessionManager struct {
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	slots map[int64]chan struct{}
}

// NewSessionManager builds a manager backed by store.
func NewSessionManager(store cache.Store, opts SessionOptions) *SessionManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	if store == nil {
		store = cache.NewStore(cache.Options{DefaultTTL: cache.NoExpiration})
	}
	return &SessionManager{
		store:  store.Namespace("panel-session"),
		ttl:    ttl,
		logger: logger,
		slots:  make(map[int64]chan struct{}),
	}
}

// Get returns the cached session for server, logging in through adapter on
// a miss. Concurrent first uses of one server wait for a single login.
func (m *SessionManager) Get(ctx context.Context, adapter Adapter, server *repository.Server) (Session, error) {
	if server == nil {
		return nil, fmt.Errorf("%w: server is required", ErrAuth)
	}
	key := sessionKey(server.ID, adapter.Protocol())
	if session, ok := m.lookup(ctx, key); ok {
		return session, nil
	}

	slot := m.slot(server.ID)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-slot }()

	if session, ok := m.lookup(ctx, key); ok {
		return session, nil
	}
	session, err := adapter.Login(ctx, server)
	if err != nil {
		m.logger.WarnContext(ctx, "panel login failed", "server_id", server.ID, "protocol", adapter.Protocol(), "error", err)
		return nil, err
	}
	if err := m.store.Set(ctx, key, session, m.ttl); err != nil {
		return nil, fmt.Errorf("cache session: %w", err)
	}
	m.logger.InfoContext(ctx, "panel session established", "server_id", server.ID, "protocol", adapter.Protocol())
	return session, nil
}

// Invalidate drops the session cached for server and protocol.
func (m *SessionManager) Invalidate(ctx context.Context, serverID int64, protocol Protocol) {
	m.store.Delete(ctx, sessionKey(serverID, protocol))
}

// InvalidateServer drops every session cached for serverID.
func (m *SessionManager) InvalidateServer(ctx context.Context, serverID int64) {
	prefix := fmt.Sprintf("%d/", serverID)
	for _, key := range m.store.Keys(ctx) {
		if strings.HasPrefix(key, prefix) {
			m.store.Delete(ctx, key)
		}
	}
}

// Do runs fn with a session. If the panel rejects the session, it is evicted
// and fn is retried once on a fresh login.
func (m *SessionManager) Do(ctx context.Context, adapter Adapter, server *repository.Server, fn func(Session) error) error {
	session, err := m.Get(ctx, adapter, server)
	if err != nil {
		return err
	}
	err = fn(session)
	if !errors.Is(err, ErrSessionRejected) {
		return err
	}

	m.logger.InfoContext(ctx, "panel session rejected, re-authenticating", "server_id", server.ID, "protocol", adapter.Protocol())
	m.Invalidate(ctx, server.ID, adapter.Protocol())
	session, err = m.Get(ctx, adapter, server)
	if err != nil {
		return err
	}
	err = fn(session)
	if errors.Is(err, ErrSessionRejected) {
		m.Invalidate(ctx, server.ID, adapter.Protocol())
	}
	return err
}

func (m *SessionManager) lookup(ctx context.Context, key string) (Session, bool) {
	raw, ok := m.store.Get(ctx, key)
	if !ok {
		return nil, false
	}
	session, ok := raw.(Session)
	return session, ok
}

func (m *SessionManager) slot(serverID int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[serverID]
	if !ok {
		slot = make(chan struct{}, 1)
		m.slots[serverID] = slot
	}
	return slot
}

func sessionKey(serverID int64, protocol Protocol) string {
	return fmt.Sprintf("%d/%s", serverID, protocol)
}
