// 文件路径: internal/cache/store.go
// 模块说明: 基于 go-cache 的进程内缓存，面板会话缓存构建于其上。
package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NoExpiration keeps an entry until it is deleted explicitly.
const NoExpiration time.Duration = -1

// Store 定义进程内缓存接口，支持命名空间。
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (any, bool)
	Delete(ctx context.Context, key string)
	// Keys lists live keys inside the namespace, without the prefix.
	Keys(ctx context.Context) []string
	Namespace(prefix string) Store
}

// Options 配置内存缓存行为。
type Options struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Prefix          string
}

// NewStore 创建基于 go-cache 的缓存实现。DefaultTTL 为 NoExpiration 时条目常驻。
func NewStore(opts Options) Store {
	defaultTTL := opts.DefaultTTL
	if defaultTTL == 0 {
		defaultTTL = 5 * time.Minute
	}
	cleanup := opts.CleanupInterval
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	backend := gocache.New(defaultTTL, cleanup)

	return &goCacheStore{
		backend:    backend,
		defaultTTL: defaultTTL,
		prefix:     normalizePrefix(opts.Prefix),
	}
}

type goCacheStore struct {
	backend    *gocache.Cache
	defaultTTL time.Duration
	prefix     string
}

func (s *goCacheStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.backend.Set(s.prefixed(key), value, s.normalizeTTL(ttl))
	return nil
}

func (s *goCacheStore) Get(_ context.Context, key string) (any, bool) {
	return s.backend.Get(s.prefixed(key))
}

func (s *goCacheStore) Delete(_ context.Context, key string) {
	s.backend.Delete(s.prefixed(key))
}

func (s *goCacheStore) Keys(_ context.Context) []string {
	items := s.backend.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		if s.prefix == "" {
			keys = append(keys, key)
			continue
		}
		if rest, ok := strings.CutPrefix(key, s.prefix+":"); ok {
			keys = append(keys, rest)
		}
	}
	return keys
}

func (s *goCacheStore) Namespace(prefix string) Store {
	return &goCacheStore{
		backend:    s.backend,
		defaultTTL: s.defaultTTL,
		prefix:     joinPrefixes(s.prefix, prefix),
	}
}

func (s *goCacheStore) prefixed(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return s.prefix
	}
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *goCacheStore) normalizeTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == NoExpiration:
		return gocache.NoExpiration
	case ttl <= 0:
		return s.defaultTTL
	}
	return ttl
}

func normalizePrefix(prefix string) string {
	return strings.Trim(prefix, ": ")
}

func joinPrefixes(parts ...string) string {
	var normalized []string
	for _, part := range parts {
		trimmed := normalizePrefix(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return strings.Join(normalized, ":")
}
