// 文件路径: internal/service/provisioner.go
// 模块说明: 凭据开通：按服务器协议（或旧 URI 的 scheme）选择适配器，生成身份，创建远端客户端并返回连接 URI。
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/repository"
)

// Provisioned is a freshly created remote credential.
type Provisioned struct {
	URI       string
	Protocol  panel.Protocol
	Label     string
	Strategy  string
	ExpiresAt time.Time
}

// Provisioner creates and removes remote credentials.
type Provisioner interface {
	// Provision creates a client with the adapter matching server.Protocol.
	Provision(ctx context.Context, server *repository.Server, durationDays int, userID int64) (*Provisioned, error)
	// ProvisionLike uses the adapter implied by an existing URI's scheme.
	ProvisionLike(ctx context.Context, server *repository.Server, durationDays int, userID int64, uri string) (*Provisioned, error)
	// Revoke removes the client behind uri from server.
	Revoke(ctx context.Context, server *repository.Server, uri string) (bool, error)
	ListInbounds(ctx context.Context, server *repository.Server) ([]panel.Inbound, error)
}

// ProvisionerOptions carries the optional collaborators.
type ProvisionerOptions struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

type provisioner struct {
	registry *panel.Registry
	sessions *panel.SessionManager
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewProvisioner 组装开通服务。
func NewProvisioner(registry *panel.Registry, sessions *panel.SessionManager, opts ProvisionerOptions) Provisioner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &provisioner{
		registry: registry,
		sessions: sessions,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      now,
	}
}

func (p *provisioner) Provision(ctx context.Context, server *repository.Server, durationDays int, userID int64) (*Provisioned, error) {
	if server == nil {
		return nil, fmt.Errorf("%w: server is required", ErrValidation)
	}
	adapter, err := p.registry.ForProtocol(server.Protocol)
	if err != nil {
		return nil, err
	}
	return p.create(ctx, adapter, server, durationDays, userID)
}

func (p *provisioner) ProvisionLike(ctx context.Context, server *repository.Server, durationDays int, userID int64, uri string) (*Provisioned, error) {
	if server == nil {
		return nil, fmt.Errorf("%w: server is required", ErrValidation)
	}
	adapter, err := p.registry.ForURI(uri)
	if err != nil {
		p.logger.WarnContext(ctx, "unrecognised credential scheme, using server protocol", "server_id", server.ID, "protocol", server.Protocol, "error", err)
		adapter, err = p.registry.ForProtocol(server.Protocol)
		if err != nil {
			return nil, err
		}
	}
	return p.create(ctx, adapter, server, durationDays, userID)
}

func (p *provisioner) create(ctx context.Context, adapter panel.Adapter, server *repository.Server, durationDays int, userID int64) (*Provisioned, error) {
	if durationDays <= 0 {
		return nil, fmt.Errorf("%w: duration must be at least one day", ErrValidation)
	}
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	expiry := p.now().Add(time.Duration(durationDays) * 24 * time.Hour)
	identity := panel.NewIdentity(userID)

	var remote *panel.RemoteClient
	err := p.sessions.Do(ctx, adapter, server, func(session panel.Session) error {
		var callErr error
		remote, callErr = adapter.CreateClient(ctx, session, server.InboundID, identity, expiry)
		return callErr
	})
	if err == nil {
		var uri string
		uri, err = adapter.BuildURI(server.Address, remote)
		if err != nil {
			// The client exists remotely but is unusable without its URI.
			err = fmt.Errorf("%w: build uri for %s: %w", panel.ErrProvisioningFailed, remote.Identity.Label, err)
		} else {
			p.metrics.provisioned(adapter.Protocol(), nil)
			p.logger.InfoContext(ctx, "credential provisioned",
				"server_id", server.ID,
				"user_id", userID,
				"protocol", adapter.Protocol(),
				"label", remote.Identity.Label,
				"strategy", remote.Strategy,
			)
			return &Provisioned{
				URI:       uri,
				Protocol:  adapter.Protocol(),
				Label:     remote.Identity.Label,
				Strategy:  remote.Strategy,
				ExpiresAt: expiry,
			}, nil
		}
	}
	p.metrics.provisioned(adapter.Protocol(), err)
	p.logger.ErrorContext(ctx, "provisioning failed", "server_id", server.ID, "user_id", userID, "protocol", adapter.Protocol(), "error", err)
	return nil, err
}

func (p *provisioner) Revoke(ctx context.Context, server *repository.Server, uri string) (bool, error) {
	if server == nil {
		return false, fmt.Errorf("%w: server is required", ErrValidation)
	}
	adapter, err := p.registry.ForURI(uri)
	if err != nil {
		return false, err
	}
	ref, err := adapter.ClientRef(uri)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var removed bool
	err = p.sessions.Do(ctx, adapter, server, func(session panel.Session) error {
		var callErr error
		removed, callErr = adapter.DeleteClient(ctx, session, server.InboundID, ref)
		return callErr
	})
	if err != nil {
		p.metrics.deleteFailed(adapter.Protocol())
		return false, err
	}
	return removed, nil
}

func (p *provisioner) ListInbounds(ctx context.Context, server *repository.Server) ([]panel.Inbound, error) {
	if server == nil {
		return nil, fmt.Errorf("%w: server is required", ErrValidation)
	}
	adapter, err := p.registry.ForProtocol(server.Protocol)
	if err != nil {
		return nil, err
	}
	var inbounds []panel.Inbound
	err = p.sessions.Do(ctx, adapter, server, func(session panel.Session) error {
		var callErr error
		inbounds, callErr = adapter.ListInbounds(ctx, session)
		return callErr
	})
	return inbounds, err
}
