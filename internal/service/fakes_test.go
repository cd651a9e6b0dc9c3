package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/repository"
)

type memServers struct {
	mu   sync.Mutex
	rows map[int64]*repository.Server
}

func (m *memServers) FindByID(_ context.Context, id int64) (*repository.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *memServers) ListAll(_ context.Context) ([]*repository.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*repository.Server, 0, len(m.rows))
	for _, row := range m.rows {
		clone := *row
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memServers) Upsert(_ context.Context, server *repository.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if server.ID == 0 {
		server.ID = int64(len(m.rows) + 1)
	}
	clone := *server
	m.rows[server.ID] = &clone
	return nil
}

func (m *memServers) SetEnabled(_ context.Context, id int64, enabled bool, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	row.Enabled = enabled
	return nil
}

type memTariffs struct {
	rows map[int64]*repository.Tariff
}

func (m *memTariffs) FindByID(_ context.Context, id int64) (*repository.Tariff, error) {
	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *memTariffs) ListAll(_ context.Context) ([]*repository.Tariff, error) {
	out := make([]*repository.Tariff, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func (m *memTariffs) Upsert(_ context.Context, tariff *repository.Tariff) error {
	m.rows[tariff.ID] = tariff
	return nil
}

type memSubscriptions struct {
	mu         sync.Mutex
	rows       map[int64]*repository.Subscription
	nextID     int64
	replaceErr error
	createErr  error
}

func newMemSubscriptions() *memSubscriptions {
	return &memSubscriptions{rows: make(map[int64]*repository.Subscription)}
}

func (m *memSubscriptions) FindByID(_ context.Context, id int64) (*repository.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *memSubscriptions) ListByUser(_ context.Context, userID int64, activeOnly bool) ([]*repository.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Subscription
	for _, row := range m.rows {
		if row.UserID == userID && (!activeOnly || row.Active) {
			clone := *row
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memSubscriptions) Create(_ context.Context, sub *repository.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.insert(sub)
	return nil
}

func (m *memSubscriptions) Replace(_ context.Context, oldID int64, next *repository.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	old, ok := m.rows[oldID]
	if !ok || !old.Active {
		return repository.ErrConflict
	}
	old.Active = false
	m.insert(next)
	return nil
}

func (m *memSubscriptions) Deactivate(_ context.Context, id int64, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || !row.Active {
		return repository.ErrConflict
	}
	row.Active = false
	return nil
}

func (m *memSubscriptions) ListExpired(_ context.Context, nowUnix int64, _ int) ([]*repository.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Subscription
	for _, row := range m.rows {
		if row.Active && row.EndsAt <= nowUnix {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memSubscriptions) insert(sub *repository.Subscription) {
	m.nextID++
	sub.ID = m.nextID
	clone := *sub
	m.rows[sub.ID] = &clone
}

type fakeSession struct {
	serverID int64
	protocol panel.Protocol
	host     string
}

func (s *fakeSession) ServerID() int64          { return s.serverID }
func (s *fakeSession) Protocol() panel.Protocol { return s.protocol }

// fakeAdapter records calls and builds URIs of the form
// scheme://id@host:port#label.
type fakeAdapter struct {
	protocol panel.Protocol
	scheme   string
	remark   string

	mu        sync.Mutex
	createErr error
	deleteErr error
	created   []createCall
	deleted   []string
}

type createCall struct {
	ServerID int64
	Host     string
	Identity panel.ClientIdentity
	Expiry   time.Time
}

func (a *fakeAdapter) Protocol() panel.Protocol { return a.protocol }
func (a *fakeAdapter) Scheme() string           { return a.scheme }

func (a *fakeAdapter) Login(_ context.Context, server *repository.Server) (panel.Session, error) {
	return &fakeSession{serverID: server.ID, protocol: a.protocol, host: server.Address}, nil
}

func (a *fakeAdapter) ListInbounds(_ context.Context, _ panel.Session) ([]panel.Inbound, error) {
	return []panel.Inbound{{ID: 1, Remark: a.remark, Port: 443, Protocol: string(a.protocol)}}, nil
}

func (a *fakeAdapter) GetInbound(_ context.Context, _ panel.Session, inboundID int64) (*panel.Inbound, error) {
	return &panel.Inbound{ID: inboundID, Port: 443}, nil
}

func (a *fakeAdapter) CreateClient(_ context.Context, session panel.Session, inboundID int64, identity panel.ClientIdentity, expiry time.Time) (*panel.RemoteClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return nil, a.createErr
	}
	call := createCall{ServerID: session.ServerID(), Identity: identity, Expiry: expiry}
	if fs, ok := session.(*fakeSession); ok {
		call.Host = fs.host
	}
	a.created = append(a.created, call)
	return &panel.RemoteClient{
		Inbound:  &panel.Inbound{ID: inboundID, Port: 443},
		Identity: identity,
		Strategy: "fake",
		Expiry:   expiry,
	}, nil
}

func (a *fakeAdapter) DeleteClient(_ context.Context, _ panel.Session, _ int64, ref string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleteErr != nil {
		return false, a.deleteErr
	}
	a.deleted = append(a.deleted, ref)
	return true, nil
}

func (a *fakeAdapter) BuildURI(host string, client *panel.RemoteClient) (string, error) {
	return fmt.Sprintf("%s://%s@%s:%d#%s", a.scheme, client.Identity.ID, host, client.Inbound.Port, client.Identity.Label), nil
}

func (a *fakeAdapter) ClientRef(uri string) (string, error) {
	_, label, ok := strings.Cut(uri, "#")
	if !ok {
		return "", fmt.Errorf("no label in %q", uri)
	}
	return label, nil
}

func (a *fakeAdapter) Created() []createCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]createCall(nil), a.created...)
}

func (a *fakeAdapter) Deleted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.deleted...)
}
