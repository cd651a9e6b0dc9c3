// 文件路径: internal/panel/shadowsocks.go
// 模块说明: Shadowsocks-2022 适配器。每次调用都用原始 HTTP 请求携带会话 cookie，
// 添加客户端时读取 inbound 当前客户端集合并整体提交。
package panel

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/creamcroissant/xprovision/internal/panel/xui"
	"github.com/creamcroissant/xprovision/internal/repository"
)

// ReplaceSetStrategy names the only submission shape this adapter uses.
const ReplaceSetStrategy = "replace-set"

const defaultLabelAttempts = 8

// ShadowsocksSession is the raw cookie captured at login.
type ShadowsocksSession struct {
	serverID   int64
	BaseURL    string
	CookieName string
	Token      string
}

func (s *ShadowsocksSession) ServerID() int64    { return s.serverID }
func (s *ShadowsocksSession) Protocol() Protocol { return ProtocolShadowsocks2022 }

// ShadowsocksOptions configures the Shadowsocks adapter.
type ShadowsocksOptions struct {
	HTTPClient *http.Client
	// LabelAttempts bounds label re-rolls on collision.
	LabelAttempts int
	// Suffix draws a new label suffix; RandomSuffix when nil.
	Suffix func() string
	Logger *slog.Logger
}

// ShadowsocksAdapter provisions clients on Shadowsocks-2022 inbounds.
type ShadowsocksAdapter struct {
	http          *http.Client
	labelAttempts int
	suffix        func() string
	logger        *slog.Logger
}

// NewShadowsocksAdapter builds the adapter.
func NewShadowsocksAdapter(opts ShadowsocksOptions) *ShadowsocksAdapter {
	hc := opts.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(0)
	}
	attempts := opts.LabelAttempts
	if attempts <= 0 {
		attempts = defaultLabelAttempts
	}
	suffix := opts.Suffix
	if suffix == nil {
		suffix = RandomSuffix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ShadowsocksAdapter{http: hc, labelAttempts: attempts, suffix: suffix, logger: logger}
}

func (a *ShadowsocksAdapter) Protocol() Protocol { return ProtocolShadowsocks2022 }

func (a *ShadowsocksAdapter) Scheme() string { return "ss" }

func (a *ShadowsocksAdapter) Login(ctx context.Context, server *repository.Server) (Session, error) {
	base := BaseURL(server)
	form := url.Values{}
	form.Set("username", server.PanelUsername)
	form.Set("password", server.PanelPassword)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build login request: %w", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: server %d: %w", ErrAuth, server.ID, err)
	}
	defer resp.Body.Close()

	envelope, err := xui.DecodeEnvelope(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: server %d: %w", ErrAuth, server.ID, err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("%w: server %d: %s", ErrAuth, server.ID, envelope.Msg)
	}
	cookie, ok := xui.SessionCookie(resp.Cookies())
	if !ok {
		return nil, fmt.Errorf("%w: server %d: no session cookie issued", ErrAuth, server.ID)
	}
	return &ShadowsocksSession{
		serverID:   server.ID,
		BaseURL:    base,
		CookieName: cookie.Name,
		Token:      cookie.Value,
	}, nil
}

func (a *ShadowsocksAdapter) ListInbounds(ctx context.Context, session Session) ([]Inbound, error) {
	sess, err := asShadowsocksSession(session)
	if err != nil {
		return nil, err
	}
	envelope, err := a.call(ctx, sess, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	var inbounds []xui.Inbound
	if len(envelope.Obj) > 0 && string(envelope.Obj) != "null" {
		if err := json.Unmarshal(envelope.Obj, &inbounds); err != nil {
			return nil, fmt.Errorf("%w: decode inbounds: %w", ErrProvisioningFailed, err)
		}
	}
	out := make([]Inbound, 0, len(inbounds))
	for _, in := range inbounds {
		out = append(out, fromXUIInbound(in))
	}
	return out, nil
}

func (a *ShadowsocksAdapter) GetInbound(ctx context.Context, session Session, inboundID int64) (*Inbound, error) {
	sess, err := asShadowsocksSession(session)
	if err != nil {
		return nil, err
	}
	envelope, err := a.call(ctx, sess, http.MethodGet, "/panel/api/inbounds/get/"+strconv.FormatInt(inboundID, 10), nil)
	if err != nil {
		return nil, err
	}
	if len(envelope.Obj) == 0 || string(envelope.Obj) == "null" {
		return nil, fmt.Errorf("%w: id %d", ErrInboundNotFound, inboundID)
	}
	var in xui.Inbound
	if err := json.Unmarshal(envelope.Obj, &in); err != nil {
		return nil, fmt.Errorf("%w: decode inbound: %w", ErrProvisioningFailed, err)
	}
	inbound := fromXUIInbound(in)
	return &inbound, nil
}

func (a *ShadowsocksAdapter) CreateClient(ctx context.Context, session Session, inboundID int64, identity ClientIdentity, expiry time.Time) (*RemoteClient, error) {
	sess, err := asShadowsocksSession(session)
	if err != nil {
		return nil, err
	}
	inbound, err := a.GetInbound(ctx, session, inboundID)
	if err != nil {
		return nil, err
	}
	settings := inbound.Settings
	if !gjson.Valid(settings) {
		return nil, fmt.Errorf("%w: inbound %d settings are not valid json", ErrProvisioningFailed, inboundID)
	}
	method := gjson.Get(settings, "method").String()
	if method == "" {
		return nil, fmt.Errorf("%w: inbound %d has no shadowsocks method", ErrProvisioningFailed, inboundID)
	}

	identity, err = a.freeLabel(identity, existingLabels(settings))
	if err != nil {
		return nil, fmt.Errorf("%w: inbound %d: %w", ErrProvisioningFailed, inboundID, err)
	}
	clientKey, err := generateClientKey(method)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	password := composePassword(gjson.Get(settings, "password").String(), clientKey)

	entry, err := json.Marshal(xui.ClientEntry{
		Password:   password,
		Method:     method,
		Email:      identity.Label,
		ExpiryTime: expiry.UnixMilli(),
		Enable:     true,
		SubID:      identity.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode client: %w", err)
	}
	clients, err := appendClient(settings, entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	body := xui.ClientRequest{ID: inboundID, Settings: clients}
	if _, err := a.call(ctx, sess, http.MethodPost, "/panel/api/inbounds/addClient", body); err != nil {
		return nil, err
	}
	a.logger.DebugContext(ctx, "shadowsocks client created", "server_id", sess.serverID, "inbound_id", inboundID, "label", identity.Label)
	return &RemoteClient{
		Inbound:  inbound,
		Identity: identity,
		Secret:   password,
		Method:   method,
		Strategy: ReplaceSetStrategy,
		Expiry:   expiry,
	}, nil
}

// DeleteClient removes the first client whose label starts with ref.
func (a *ShadowsocksAdapter) DeleteClient(ctx context.Context, session Session, inboundID int64, ref string) (bool, error) {
	sess, err := asShadowsocksSession(session)
	if err != nil {
		return false, err
	}
	if ref == "" {
		return false, fmt.Errorf("%w: empty label prefix", ErrProvisioningFailed)
	}
	inbound, err := a.GetInbound(ctx, session, inboundID)
	if err != nil {
		return false, err
	}
	var label string
	for _, email := range gjson.Get(inbound.Settings, "clients.#.email").Array() {
		if strings.HasPrefix(email.String(), ref) {
			label = email.String()
			break
		}
	}
	if label == "" {
		return false, nil
	}
	path := "/panel/api/inbounds/" + strconv.FormatInt(inboundID, 10) + "/delClient/" + url.PathEscape(label)
	if _, err := a.call(ctx, sess, http.MethodPost, path, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (a *ShadowsocksAdapter) BuildURI(host string, client *RemoteClient) (string, error) {
	if client == nil || client.Inbound == nil {
		return "", errors.New("shadowsocks: remote client has no inbound")
	}
	if client.Method == "" || client.Secret == "" {
		return "", errors.New("shadowsocks: method and password are required")
	}
	// SIP002: userinfo is base64url without padding.
	userinfo := base64.RawURLEncoding.EncodeToString([]byte(client.Method + ":" + client.Secret))
	hostPort := net.JoinHostPort(host, strconv.Itoa(client.Inbound.Port))
	return fmt.Sprintf("ss://%s@%s#%s", userinfo, hostPort, url.QueryEscape(client.Identity.Label)), nil
}

// ClientRef returns the label carried in the URI fragment.
func (a *ShadowsocksAdapter) ClientRef(uri string) (string, error) {
	idx := strings.LastIndex(uri, "#")
	if idx < 0 || idx == len(uri)-1 {
		return "", errors.New("shadowsocks uri carries no label")
	}
	label, err := url.QueryUnescape(uri[idx+1:])
	if err != nil {
		return "", fmt.Errorf("decode shadowsocks label: %w", err)
	}
	return label, nil
}

func (a *ShadowsocksAdapter) freeLabel(identity ClientIdentity, taken map[string]struct{}) (ClientIdentity, error) {
	for attempt := 0; attempt < a.labelAttempts; attempt++ {
		if _, clash := taken[identity.Label]; !clash {
			return identity, nil
		}
		a.logger.Debug("client label taken, re-rolling", "label", identity.Label)
		identity = identity.WithSuffix(a.suffix())
	}
	return identity, fmt.Errorf("no free label for prefix %q after %d attempts", identity.Prefix, a.labelAttempts)
}

func (a *ShadowsocksAdapter) call(ctx context.Context, sess *ShadowsocksSession, method, path string, payload any) (*xui.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, sess.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: sess.CookieName, Value: sess.Token})

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}
	defer resp.Body.Close()

	envelope, err := xui.DecodeEnvelope(resp)
	if err != nil {
		return nil, classifyXUIError(err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("%w: %s", ErrProvisioningFailed, envelope.Msg)
	}
	return envelope, nil
}

// composePassword derives the per-client connection password.
func composePassword(base, clientKey string) string {
	// Compatibility: some panel builds store an already combined
	// "server:user" value as the inbound password. Such values are reused
	// verbatim and every client on the inbound shares them. Only observed on
	// older releases; not verified against current ones.
	if strings.Contains(base, ":") {
		return base
	}
	if base == "" {
		return clientKey
	}
	return base + ":" + clientKey
}

// generateClientKey draws a key sized for the cipher: 16 bytes for
// aes-128 methods, 32 otherwise.
func generateClientKey(method string) (string, error) {
	size := 32
	if strings.Contains(strings.ToLower(method), "aes-128") {
		size = 16
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func existingLabels(settings string) map[string]struct{} {
	labels := make(map[string]struct{})
	for _, email := range gjson.Get(settings, "clients.#.email").Array() {
		labels[email.String()] = struct{}{}
	}
	return labels
}

// appendClient returns a settings document whose clients member is the
// inbound's current set plus entry.
func appendClient(settings string, entry []byte) (string, error) {
	list := "[]"
	if current := gjson.Get(settings, "clients"); current.IsArray() {
		list = current.Raw
	}
	doc, err := sjson.SetRaw(`{"clients":`+list+`}`, "clients.-1", string(entry))
	if err != nil {
		return "", fmt.Errorf("append client: %w", err)
	}
	return doc, nil
}

func asShadowsocksSession(session Session) (*ShadowsocksSession, error) {
	sess, ok := session.(*ShadowsocksSession)
	if !ok || sess == nil {
		return nil, fmt.Errorf("%w: not a shadowsocks session", ErrAuth)
	}
	return sess, nil
}
