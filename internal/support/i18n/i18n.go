// 文件路径: internal/support/i18n/i18n.go
// 模块说明: 面向终端用户的错误文案目录，语言包在构建期嵌入，按 Accept-Language 匹配。
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var embeddedLocales embed.FS

// Manager 管理翻译内容。
type Manager struct {
	defaultLang  language.Tag
	translations map[language.Tag]map[string]string
	tags         []language.Tag
	matcher      language.Matcher
	logger       *slog.Logger
	mu           sync.RWMutex
}

// Option 用于配置 Manager。
type Option func(*Manager)

// WithLogger 设置 Manager 使用的日志实例。
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDefaultLang 设置默认语言。
func WithDefaultLang(lang string) Option {
	return func(m *Manager) {
		if tag, err := language.Parse(lang); err == nil {
			m.defaultLang = tag
		}
	}
}

// NewManager 创建 i18n Manager 并加载内嵌语言包。
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		defaultLang:  language.AmericanEnglish,
		translations: make(map[language.Tag]map[string]string),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadEmbeddedTranslations(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadEmbeddedTranslations() error {
	entries, err := embeddedLocales.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// The default language goes first: the matcher falls back to index 0.
	tags := []language.Tag{m.defaultLang}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		tag, err := language.Parse(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return fmt.Errorf("locale file %s: %w", entry.Name(), err)
		}
		data, err := embeddedLocales.ReadFile("locales/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", entry.Name(), err)
		}
		var content map[string]string
		if err := json.Unmarshal(data, &content); err != nil {
			return fmt.Errorf("unmarshal locale file %s: %w", entry.Name(), err)
		}
		m.translations[tag] = content
		if tag != m.defaultLang {
			tags = append(tags, tag)
		}
	}
	m.tags = tags
	m.matcher = language.NewMatcher(tags)
	return nil
}

// Match 把 Accept-Language 头解析为已支持的语言。
func (m *Manager) Match(acceptLanguage string) language.Tag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return m.defaultLang
	}
	_, index, confidence := m.matcher.Match(tags...)
	if confidence == language.No {
		return m.defaultLang
	}
	return m.tags[index]
}

// Translate 按语言与键名返回翻译内容，找不到时回退默认语言，再回退为 key。
func (m *Manager) Translate(lang language.Tag, key string, args ...any) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, candidate := range []language.Tag{lang, m.defaultLang} {
		if trans, ok := m.translations[candidate]; ok {
			if val, ok := trans[key]; ok {
				if len(args) > 0 {
					return fmt.Sprintf(val, args...)
				}
				return val
			}
		}
	}
	return key
}
