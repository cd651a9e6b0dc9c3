// 文件路径: internal/auth/token/manager.go
// 模块说明: 管理 API 的 JWT 签发与校验。
package token

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role the admin API accepts.
const RoleAdmin = "admin"

// Manager 负责签发和校验 JWT。
type Manager struct {
	method   jwt.SigningMethod
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	now      func() time.Time
}

// Options 配置 Token 管理器。
type Options struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	TTL        time.Duration
	Leeway     time.Duration
	SigningAlg string
}

// Claims 包含 JWT 标准声明及角色。
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

var (
	// ErrInvalidToken 表示解析或校验失败。
	ErrInvalidToken = errors.New("invalid token / 无效的 token")
	// ErrExpiredToken 表示令牌超出允许的过期宽限。
	ErrExpiredToken = errors.New("token expired / token 已过期")
)

// NewManager 组装 JWT 管理器；未指定 SigningAlg 时默认使用 HS256。
func NewManager(opts Options) (*Manager, error) {
	if len(opts.SigningKey) == 0 {
		return nil, fmt.Errorf("signing key is required / 签名密钥不能为空")
	}
	method := jwt.GetSigningMethod(strings.ToUpper(strings.TrimSpace(opts.SigningAlg)))
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		method:   method,
		secret:   append([]byte(nil), opts.SigningKey...),
		issuer:   strings.TrimSpace(opts.Issuer),
		audience: strings.TrimSpace(opts.Audience),
		ttl:      ttl,
		leeway:   max(opts.Leeway, 0),
		now:      time.Now,
	}, nil
}

// Issue 为 subject 签发带角色的令牌。
func (m *Manager) Issue(subject, role string) (string, *Claims, error) {
	if m == nil {
		return "", nil, fmt.Errorf("token manager not initialized / token 管理器未初始化")
	}
	if strings.TrimSpace(subject) == "" {
		return "", nil, fmt.Errorf("token subject is required / token subject 不能为空")
	}
	now := m.now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Role: role,
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse 校验 JWT 字符串并返回解析后的声明。
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	if m == nil {
		return nil, fmt.Errorf("token manager not initialized / token 管理器未初始化")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithLeeway(m.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if m.audience != "" && !slices.Contains(claims.Audience, m.audience) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
