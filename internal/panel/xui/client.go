// Package xui is a small client for the 3x-ui panel API.
package xui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
)

// Session cookie names issued by the panel: current releases use "3x-ui",
// older ones "session".
const (
	CookieName       = "3x-ui"
	LegacyCookieName = "session"
)

var (
	// ErrUnauthorized is returned when the panel rejects the session.
	ErrUnauthorized = errors.New("xui: unauthorized")
	// ErrLoginFailed is returned when the login call is refused.
	ErrLoginFailed = errors.New("xui: login failed")
)

// APIError carries a non-success panel response.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("xui: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("xui: %s (status %d)", e.Msg, e.Status)
}

// Client is a persistent, cookie-authenticated handle on one panel.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. The jar is attached by NewClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			clone := *hc
			c.http = &clone
		}
	}
}

// NewClient builds an unauthenticated client; call Login before use.
func NewClient(baseURL, username, password string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c.http.Jar = jar
	return c, nil
}

// BaseURL returns the panel root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login authenticates and keeps the session cookie in the jar.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var envelope Response
	if err := decodeEnvelope(resp, &envelope); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if !envelope.Success {
		return fmt.Errorf("%w: %s", ErrLoginFailed, envelope.Msg)
	}
	if !hasSessionCookie(resp.Cookies()) {
		return fmt.Errorf("%w: no session cookie issued", ErrLoginFailed)
	}
	return nil
}

// Inbounds lists every inbound configured on the panel.
func (c *Client) Inbounds(ctx context.Context) ([]Inbound, error) {
	var inbounds []Inbound
	if err := c.do(ctx, http.MethodGet, "/panel/api/inbounds/list", nil, &inbounds); err != nil {
		return nil, err
	}
	return inbounds, nil
}

// AddClients posts a settings document whose "clients" member is the given
// value. Depending on the panel release it must be a single client object or
// a list of clients.
func (c *Client) AddClients(ctx context.Context, inboundID int64, clients any) error {
	settings, err := json.Marshal(map[string]any{"clients": clients})
	if err != nil {
		return fmt.Errorf("encode clients: %w", err)
	}
	body := ClientRequest{ID: inboundID, Settings: string(settings)}
	return c.do(ctx, http.MethodPost, "/panel/api/inbounds/addClient", body, nil)
}

// DeleteClient removes the client whose id (UUID) matches clientID.
func (c *Client) DeleteClient(ctx context.Context, inboundID int64, clientID string) error {
	path := "/panel/api/inbounds/" + strconv.FormatInt(inboundID, 10) + "/delClient/" + url.PathEscape(clientID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var envelope Response
	if err := decodeEnvelope(resp, &envelope); err != nil {
		return err
	}
	if !envelope.Success {
		return &APIError{Status: resp.StatusCode, Msg: envelope.Msg}
	}
	if out != nil && len(envelope.Obj) > 0 && string(envelope.Obj) != "null" {
		if err := json.Unmarshal(envelope.Obj, out); err != nil {
			return fmt.Errorf("decode obj: %w", err)
		}
	}
	return nil
}

// decodeEnvelope maps transport-level failures and decodes the JSON body.
func decodeEnvelope(resp *http.Response, envelope *Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, envelope); err != nil {
		// An expired session is answered with the HTML login page.
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("<")) {
			return ErrUnauthorized
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func hasSessionCookie(cookies []*http.Cookie) bool {
	_, ok := SessionCookie(cookies)
	return ok
}

// SessionCookie picks the panel session cookie out of a response.
func SessionCookie(cookies []*http.Cookie) (*http.Cookie, bool) {
	for _, name := range []string{CookieName, LegacyCookieName} {
		for _, cookie := range cookies {
			if cookie.Name == name && cookie.Value != "" {
				return cookie, true
			}
		}
	}
	return nil, false
}

// DecodeEnvelope is exported for callers issuing raw requests against the
// same API (the Shadowsocks adapter keeps its own cookie handling).
func DecodeEnvelope(resp *http.Response) (*Response, error) {
	var envelope Response
	if err := decodeEnvelope(resp, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}
