// 文件路径: internal/service/auth.go
// 模块说明: 管理 API 的登录与令牌校验，管理员账号来自配置。
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creamcroissant/xprovision/internal/auth/token"
	"github.com/creamcroissant/xprovision/internal/cache"
	"github.com/creamcroissant/xprovision/internal/support/hash"
)

// ErrUnauthorized indicates bad credentials or an unusable token.
var ErrUnauthorized = errors.New("service: unauthorized / 未授权")

// ErrTooManyAttempts indicates the login throttle tripped.
var ErrTooManyAttempts = errors.New("service: too many login attempts / 登录尝试过多")

const (
	maxLoginFailures  = 5
	loginFailurePause = 5 * time.Minute
)

// AdminCredentials 是配置里的管理员账号。
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

// LoginResult 为签发的令牌。
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthService issues and verifies admin tokens.
type AuthService interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	Verify(ctx context.Context, rawToken string) (*token.Claims, error)
}

type authService struct {
	admin    AdminCredentials
	hasher   hash.Hasher
	tokens   *token.Manager
	failures cache.Store
}

// NewAuthService 组装管理员认证服务。failures 可为空，此时不做登录限流。
func NewAuthService(admin AdminCredentials, hasher hash.Hasher, tokens *token.Manager, failures cache.Store) AuthService {
	if failures != nil {
		failures = failures.Namespace("login-failures")
	}
	return &authService{admin: admin, hasher: hasher, tokens: tokens, failures: failures}
}

func (s *authService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if s.admin.Username == "" || s.admin.PasswordHash == "" {
		return nil, fmt.Errorf("%w: admin account not configured / 未配置管理员账号", ErrUnauthorized)
	}
	if s.failureCount(ctx, username) >= maxLoginFailures {
		return nil, ErrTooManyAttempts
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.admin.Username)) == 1
	if err := s.hasher.Compare(s.admin.PasswordHash, password); err != nil || !userOK {
		s.recordFailure(ctx, username)
		if err != nil && !errors.Is(err, hash.ErrPasswordMismatch) {
			return nil, err
		}
		return nil, ErrUnauthorized
	}
	if s.failures != nil {
		s.failures.Delete(ctx, username)
	}
	signed, claims, err := s.tokens.Issue(s.admin.Username, token.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (s *authService) Verify(_ context.Context, rawToken string) (*token.Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if claims.Role != token.RoleAdmin {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (s *authService) failureCount(ctx context.Context, username string) int {
	if s.failures == nil {
		return 0
	}
	if v, ok := s.failures.Get(ctx, username); ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}

func (s *authService) recordFailure(ctx context.Context, username string) {
	if s.failures == nil {
		return
	}
	_ = s.failures.Set(ctx, username, s.failureCount(ctx, username)+1, loginFailurePause)
}
