// 文件路径: internal/service/server.go
// 模块说明: 服务器注册表查询，以及通过面板会话列出 inbound。
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/repository"
)

// ServerService exposes the server registry to the API and CLI.
type ServerService interface {
	List(ctx context.Context) ([]*repository.Server, error)
	Get(ctx context.Context, id int64) (*repository.Server, error)
	Save(ctx context.Context, server *repository.Server) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Inbounds(ctx context.Context, id int64) ([]panel.Inbound, error)
}

type serverService struct {
	servers     repository.ServerRepository
	provisioner Provisioner
	registry    *panel.Registry
	sessions    *panel.SessionManager
}

// NewServerService 组装基于 repository 的依赖。sessions 用于在服务器资料变更后丢弃旧会话。
func NewServerService(servers repository.ServerRepository, registry *panel.Registry, sessions *panel.SessionManager, provisioner Provisioner) ServerService {
	return &serverService{servers: servers, registry: registry, sessions: sessions, provisioner: provisioner}
}

func (s *serverService) List(ctx context.Context) ([]*repository.Server, error) {
	servers, err := s.servers.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return servers, nil
}

func (s *serverService) Get(ctx context.Context, id int64) (*repository.Server, error) {
	server, err := s.servers.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError("server", err)
	}
	return server, nil
}

// Save validates and upserts a registry row.
func (s *serverService) Save(ctx context.Context, server *repository.Server) error {
	if server == nil || server.Address == "" || server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("%w: address and a valid port are required", ErrValidation)
	}
	server.Name = sanitizeLabel(server.Name)
	if server.Name == "" {
		server.Name = server.Address
	}
	if server.InboundID <= 0 {
		return fmt.Errorf("%w: inbound id is required", ErrValidation)
	}
	if _, err := s.registry.ForProtocol(server.Protocol); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.servers.Upsert(ctx, server); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	// Cached sessions hold the old base URL and credentials.
	if s.sessions != nil {
		s.sessions.InvalidateServer(ctx, server.ID)
	}
	return nil
}

func (s *serverService) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := s.servers.SetEnabled(ctx, id, enabled, time.Now().Unix()); err != nil {
		return lookupError("server", err)
	}
	return nil
}

func (s *serverService) Inbounds(ctx context.Context, id int64) ([]panel.Inbound, error) {
	server, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	inbounds, err := s.provisioner.ListInbounds(ctx, server)
	if err != nil {
		return nil, err
	}
	for i := range inbounds {
		inbounds[i].Remark = sanitizeLabel(inbounds[i].Remark)
	}
	return inbounds, nil
}
