package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/repository"
)

func TestProvisionSelectsAdapterByServerProtocol(t *testing.T) {
	f := newFixture(t)
	server, err := f.servers.FindByID(context.Background(), 1)
	require.NoError(t, err)

	got, err := f.prov.Provision(context.Background(), server, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, panel.ProtocolVlessReality, got.Protocol)
	assert.Regexp(t, `^vless://[0-9a-f-]{36}@edge1\.example\.net:443#u7_[0-9a-f]{8}$`, got.URI)
	assert.Equal(t, f.now.Add(72 * time.Hour), got.ExpiresAt)
	assert.Empty(t, f.ss.Created())
}

func TestProvisionRejectsUnknownProtocol(t *testing.T) {
	f := newFixture(t)
	server, err := f.servers.FindByID(context.Background(), 1)
	require.NoError(t, err)
	server.Protocol = "wireguard"

	_, err = f.prov.Provision(context.Background(), server, 3, 7)
	require.ErrorIs(t, err, panel.ErrUnsupportedProtocol)

	server.Protocol = string(panel.ProtocolVlessReality)
	_, err = f.prov.Provision(context.Background(), server, 0, 7)
	require.ErrorIs(t, err, ErrValidation)
}

func TestRevokeUsesLabelFromURI(t *testing.T) {
	f := newFixture(t)
	server, err := f.servers.FindByID(context.Background(), 2)
	require.NoError(t, err)

	removed, err := f.prov.Revoke(context.Background(), server, "ss://bWV0aG9kOnB3@edge2.example.net:443#u7_bbbb2222")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"u7_bbbb2222"}, f.ss.Deleted())
}

func TestServerServiceInbounds(t *testing.T) {
	f := newFixture(t)
	svc := NewServerService(f.servers, panel.NewRegistry(f.vless, f.ss), f.sessions, f.prov)

	inbounds, err := svc.Inbounds(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, inbounds, 1)
	assert.Equal(t, string(panel.ProtocolShadowsocks2022), inbounds[0].Protocol)

	_, err = svc.Inbounds(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.SetEnabled(context.Background(), 404, true), ErrNotFound)
	assert.ErrorIs(t, svc.Save(context.Background(), &repository.Server{Address: "x.example", Port: 443, InboundID: 1, Protocol: "trojan"}), ErrValidation)
}

func TestServerServiceStripsMarkup(t *testing.T) {
	f := newFixture(t)
	f.ss.remark = "<b>SS</b>  <script>x</script>frankfurt"
	svc := NewServerService(f.servers, panel.NewRegistry(f.vless, f.ss), f.sessions, f.prov)

	inbounds, err := svc.Inbounds(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, inbounds, 1)
	assert.NotContains(t, inbounds[0].Remark, "<")
	assert.Contains(t, inbounds[0].Remark, "frankfurt")

	server := &repository.Server{Name: "<i>edge</i> &amp; co", Address: "x.example", Port: 443, InboundID: 1, Protocol: string(panel.ProtocolVlessReality)}
	require.NoError(t, svc.Save(context.Background(), server))
	assert.Equal(t, "edge & co", server.Name)

	unnamed := &repository.Server{Address: "y.example", Port: 443, InboundID: 1, Protocol: string(panel.ProtocolVlessReality)}
	require.NoError(t, svc.Save(context.Background(), unnamed))
	assert.Equal(t, "y.example", unnamed.Name)
}

func TestServerSaveDropsCachedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewServerService(f.servers, panel.NewRegistry(f.vless, f.ss), f.sessions, f.prov)

	server, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	_, err = f.prov.Provision(ctx, server, 30, 7)
	require.NoError(t, err)

	moved := *server
	moved.Address = "edge1-new.example.net"
	require.NoError(t, svc.Save(ctx, &moved))

	stored, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	created, err := f.prov.Provision(ctx, stored, 30, 8)
	require.NoError(t, err)
	assert.Contains(t, created.URI, "@edge1-new.example.net:")

	calls := f.vless.Created()
	require.Len(t, calls, 2)
	assert.Equal(t, "edge1.example.net", calls[0].Host)
	assert.Equal(t, "edge1-new.example.net", calls[1].Host, "second create must use a session for the new address")
}
