// 文件路径: internal/panel/vless.go
// 模块说明: VLESS + Reality 适配器，基于持久 xui.Client；添加客户端时按配置顺序尝试不同的提交形态。
package panel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/creamcroissant/xprovision/internal/panel/xui"
	"github.com/creamcroissant/xprovision/internal/repository"
)

const (
	// RealityFlow is the flow every VLESS client is created with.
	RealityFlow = "xtls-rprx-vision"

	realityFingerprint = "chrome"
	realitySpiderX     = "/"
)

// SubmitStrategy is one request shape for the add-client call.
type SubmitStrategy struct {
	Name   string
	Submit func(ctx context.Context, client *xui.Client, inboundID int64, entry xui.ClientEntry) error
}

var (
	// SubmitObject sends the client as a bare object.
	SubmitObject = SubmitStrategy{
		Name: "object",
		Submit: func(ctx context.Context, client *xui.Client, inboundID int64, entry xui.ClientEntry) error {
			return client.AddClients(ctx, inboundID, entry)
		},
	}
	// SubmitList sends the client as a one-element list.
	SubmitList = SubmitStrategy{
		Name: "list",
		Submit: func(ctx context.Context, client *xui.Client, inboundID int64, entry xui.ClientEntry) error {
			return client.AddClients(ctx, inboundID, []xui.ClientEntry{entry})
		},
	}
)

// DefaultSubmitStrategies is the order used when none is configured.
func DefaultSubmitStrategies() []SubmitStrategy {
	return []SubmitStrategy{SubmitObject, SubmitList}
}

// StrategiesByName resolves configured shape names, keeping their order.
func StrategiesByName(names []string) ([]SubmitStrategy, error) {
	if len(names) == 0 {
		return DefaultSubmitStrategies(), nil
	}
	known := map[string]SubmitStrategy{SubmitObject.Name: SubmitObject, SubmitList.Name: SubmitList}
	out := make([]SubmitStrategy, 0, len(names))
	for _, name := range names {
		strategy, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown vless submit shape %q", name)
		}
		out = append(out, strategy)
	}
	return out, nil
}

// VlessSession wraps the authenticated panel client.
type VlessSession struct {
	serverID int64
	Client   *xui.Client
}

func (s *VlessSession) ServerID() int64    { return s.serverID }
func (s *VlessSession) Protocol() Protocol { return ProtocolVlessReality }

// VlessOptions configures the VLESS adapter.
type VlessOptions struct {
	HTTPClient *http.Client
	Strategies []SubmitStrategy
	Logger     *slog.Logger
}

// VlessRealityAdapter provisions VLESS clients on Reality inbounds.
type VlessRealityAdapter struct {
	http       *http.Client
	strategies []SubmitStrategy
	logger     *slog.Logger
}

// NewVlessRealityAdapter builds the adapter.
func NewVlessRealityAdapter(opts VlessOptions) *VlessRealityAdapter {
	hc := opts.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(0)
	}
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = DefaultSubmitStrategies()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &VlessRealityAdapter{http: hc, strategies: strategies, logger: logger}
}

func (a *VlessRealityAdapter) Protocol() Protocol { return ProtocolVlessReality }

func (a *VlessRealityAdapter) Scheme() string { return "vless" }

func (a *VlessRealityAdapter) Login(ctx context.Context, server *repository.Server) (Session, error) {
	client, err := xui.NewClient(BaseURL(server), server.PanelUsername, server.PanelPassword, xui.WithHTTPClient(a.http))
	if err != nil {
		return nil, fmt.Errorf("%w: server %d: %w", ErrAuth, server.ID, err)
	}
	if err := client.Login(ctx); err != nil {
		return nil, fmt.Errorf("%w: server %d: %w", ErrAuth, server.ID, err)
	}
	return &VlessSession{serverID: server.ID, Client: client}, nil
}

func (a *VlessRealityAdapter) ListInbounds(ctx context.Context, session Session) ([]Inbound, error) {
	sess, err := asVlessSession(session)
	if err != nil {
		return nil, err
	}
	inbounds, err := sess.Client.Inbounds(ctx)
	if err != nil {
		return nil, classifyXUIError(err)
	}
	out := make([]Inbound, 0, len(inbounds))
	for _, in := range inbounds {
		out = append(out, fromXUIInbound(in))
	}
	return out, nil
}

func (a *VlessRealityAdapter) GetInbound(ctx context.Context, session Session, inboundID int64) (*Inbound, error) {
	inbounds, err := a.ListInbounds(ctx, session)
	if err != nil {
		return nil, err
	}
	for i := range inbounds {
		if inbounds[i].ID == inboundID {
			return &inbounds[i], nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrInboundNotFound, inboundID)
}

func (a *VlessRealityAdapter) CreateClient(ctx context.Context, session Session, inboundID int64, identity ClientIdentity, expiry time.Time) (*RemoteClient, error) {
	sess, err := asVlessSession(session)
	if err != nil {
		return nil, err
	}
	inbound, err := a.GetInbound(ctx, session, inboundID)
	if err != nil {
		return nil, err
	}
	// Fail before touching the panel if the URI could not be built afterwards.
	if _, err := parseReality(inbound.StreamSettings); err != nil {
		return nil, fmt.Errorf("%w: inbound %d: %w", ErrProvisioningFailed, inboundID, err)
	}

	entry := xui.ClientEntry{
		ID:         identity.ID,
		Flow:       RealityFlow,
		Email:      identity.Label,
		ExpiryTime: expiry.UnixMilli(),
		Enable:     true,
	}
	var failures []error
	for _, strategy := range a.strategies {
		err := strategy.Submit(ctx, sess.Client, inboundID, entry)
		if err == nil {
			a.logger.DebugContext(ctx, "vless client created", "server_id", sess.serverID, "inbound_id", inboundID, "label", identity.Label, "strategy", strategy.Name)
			return &RemoteClient{
				Inbound:  inbound,
				Identity: identity,
				Strategy: strategy.Name,
				Expiry:   expiry,
			}, nil
		}
		if errors.Is(err, xui.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrSessionRejected, err)
		}
		a.logger.DebugContext(ctx, "add-client shape refused", "inbound_id", inboundID, "strategy", strategy.Name, "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", strategy.Name, err))
	}
	return nil, fmt.Errorf("%w: inbound %d: %w", ErrProvisioningFailed, inboundID, errors.Join(failures...))
}

func (a *VlessRealityAdapter) DeleteClient(ctx context.Context, session Session, inboundID int64, ref string) (bool, error) {
	sess, err := asVlessSession(session)
	if err != nil {
		return false, err
	}
	if ref == "" {
		return false, fmt.Errorf("%w: empty client id", ErrProvisioningFailed)
	}
	if err := sess.Client.DeleteClient(ctx, inboundID, ref); err != nil {
		return false, classifyXUIError(err)
	}
	return true, nil
}

func (a *VlessRealityAdapter) BuildURI(host string, client *RemoteClient) (string, error) {
	if client == nil || client.Inbound == nil {
		return "", errors.New("vless: remote client has no inbound")
	}
	reality, err := parseReality(client.Inbound.StreamSettings)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("type", "tcp")
	q.Set("security", "reality")
	q.Set("pbk", reality.PublicKey)
	q.Set("fp", realityFingerprint)
	q.Set("sni", reality.ServerName)
	q.Set("sid", reality.ShortID)
	q.Set("spx", realitySpiderX)
	q.Set("flow", RealityFlow)

	u := url.URL{
		Scheme:   "vless",
		User:     url.User(client.Identity.ID),
		Host:     net.JoinHostPort(host, strconv.Itoa(client.Inbound.Port)),
		RawQuery: q.Encode(),
		Fragment: client.Identity.Label,
	}
	return u.String(), nil
}

// ClientRef returns the client UUID from the URI userinfo.
func (a *VlessRealityAdapter) ClientRef(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse vless uri: %w", err)
	}
	if u.User == nil || u.User.Username() == "" {
		return "", errors.New("vless uri carries no client id")
	}
	return u.User.Username(), nil
}

type realityParams struct {
	PublicKey  string
	ServerName string
	ShortID    string
}

func parseReality(streamSettings string) (realityParams, error) {
	if !gjson.Valid(streamSettings) {
		return realityParams{}, errors.New("stream settings are not valid json")
	}
	doc := gjson.Parse(streamSettings)
	if sec := doc.Get("security").String(); sec != "" && sec != "reality" {
		return realityParams{}, fmt.Errorf("inbound security is %q, not reality", sec)
	}
	params := realityParams{
		PublicKey:  doc.Get("realitySettings.settings.publicKey").String(),
		ServerName: doc.Get("realitySettings.serverNames.0").String(),
		ShortID:    doc.Get("realitySettings.shortIds.0").String(),
	}
	switch {
	case params.PublicKey == "":
		return params, errors.New("reality public key missing")
	case params.ServerName == "":
		return params, errors.New("reality server name missing")
	case !doc.Get("realitySettings.shortIds.0").Exists():
		return params, errors.New("reality short id missing")
	}
	return params, nil
}

func asVlessSession(session Session) (*VlessSession, error) {
	sess, ok := session.(*VlessSession)
	if !ok || sess == nil || sess.Client == nil {
		return nil, fmt.Errorf("%w: not a vless session", ErrAuth)
	}
	return sess, nil
}

func classifyXUIError(err error) error {
	if errors.Is(err, xui.ErrUnauthorized) {
		return fmt.Errorf("%w: %w", ErrSessionRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
}

func fromXUIInbound(in xui.Inbound) Inbound {
	return Inbound{
		ID:             in.ID,
		Remark:         in.Remark,
		Port:           in.Port,
		Protocol:       in.Protocol,
		Settings:       in.Settings,
		StreamSettings: in.StreamSettings,
	}
}
