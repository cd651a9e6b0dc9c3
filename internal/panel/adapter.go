// 文件路径: internal/panel/adapter.go
// 模块说明: 协议适配器接口与按协议/URI scheme 选择适配器的注册表。
package panel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/creamcroissant/xprovision/internal/repository"
)

// Protocol is the tag a server declares in the registry.
type Protocol string

const (
	ProtocolVlessReality    Protocol = "vless-reality"
	ProtocolShadowsocks2022 Protocol = "shadowsocks-2022"
)

// Inbound is the adapter-neutral view of a panel listener.
type Inbound struct {
	ID             int64
	Remark         string
	Port           int
	Protocol       string
	Settings       string
	StreamSettings string
}

// RemoteClient is what an adapter created on the panel. Identity may differ
// from the requested one when the label had to be re-rolled.
type RemoteClient struct {
	Inbound  *Inbound
	Identity ClientIdentity
	// Secret is the connection password for password-based protocols.
	Secret   string
	Method   string
	Strategy string
	Expiry   time.Time
}

// Adapter is one protocol implementation over a panel.
type Adapter interface {
	Protocol() Protocol
	// Scheme is the URI scheme of connection strings this adapter builds.
	Scheme() string
	Login(ctx context.Context, server *repository.Server) (Session, error)
	ListInbounds(ctx context.Context, session Session) ([]Inbound, error)
	GetInbound(ctx context.Context, session Session, inboundID int64) (*Inbound, error)
	CreateClient(ctx context.Context, session Session, inboundID int64, identity ClientIdentity, expiry time.Time) (*RemoteClient, error)
	// DeleteClient reports false when nothing matched ref.
	DeleteClient(ctx context.Context, session Session, inboundID int64, ref string) (bool, error)
	BuildURI(host string, client *RemoteClient) (string, error)
	// ClientRef recovers the deletion reference from a stored URI.
	ClientRef(uri string) (string, error)
}

// Registry selects adapters. It is the only place protocol tags and URI
// schemes are branched on.
type Registry struct {
	byProtocol map[Protocol]Adapter
	byScheme   map[string]Adapter
}

// NewRegistry indexes the given adapters by protocol and scheme.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		byProtocol: make(map[Protocol]Adapter, len(adapters)),
		byScheme:   make(map[string]Adapter, len(adapters)),
	}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		r.byProtocol[adapter.Protocol()] = adapter
		r.byScheme[adapter.Scheme()] = adapter
	}
	return r
}

// ForProtocol returns the adapter for a registry protocol tag.
func (r *Registry) ForProtocol(protocol string) (Adapter, error) {
	adapter, ok := r.byProtocol[Protocol(strings.ToLower(strings.TrimSpace(protocol)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
	return adapter, nil
}

// ForURI returns the adapter whose scheme matches a stored connection URI.
func (r *Registry) ForURI(uri string) (Adapter, error) {
	scheme, _, ok := strings.Cut(strings.TrimSpace(uri), "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%w: uri has no scheme", ErrUnsupportedProtocol)
	}
	adapter, ok := r.byScheme[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedProtocol, scheme)
	}
	return adapter, nil
}

// BaseURL is the panel root for a server: https://address:port/secret.
func BaseURL(server *repository.Server) string {
	u := url.URL{
		Scheme: "https",
		Host:   fmt.Sprintf("%s:%d", server.Address, server.Port),
	}
	if secret := strings.Trim(server.SecretPath, "/"); secret != "" {
		u.Path = "/" + secret
	}
	return u.String()
}
