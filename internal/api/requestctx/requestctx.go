// 文件路径: internal/api/requestctx/requestctx.go
// 模块说明: 请求级上下文数据：管理员身份与协商后的语言。
package requestctx

import (
	"context"

	"golang.org/x/text/language"
)

// AdminClaims captures admin guard metadata.
type AdminClaims struct {
	Subject string
	Role    string
}

type contextKey string

const (
	adminContextKey    contextKey = "xprovision-admin"
	languageContextKey contextKey = "xprovision-lang"
)

// WithLanguage 将协商出的语言附加到 context 中供下游使用。
func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, languageContextKey, tag)
}

// Language 从 context 中获取语言，未设置时返回 en-US。
func Language(ctx context.Context) language.Tag {
	if ctx == nil {
		return language.AmericanEnglish
	}
	if tag, ok := ctx.Value(languageContextKey).(language.Tag); ok {
		return tag
	}
	return language.AmericanEnglish
}

// WithAdminClaims attaches admin data to context.
func WithAdminClaims(ctx context.Context, claims AdminClaims) context.Context {
	return context.WithValue(ctx, adminContextKey, claims)
}

// AdminFromContext fetches admin claims or zero value.
func AdminFromContext(ctx context.Context) AdminClaims {
	if ctx == nil {
		return AdminClaims{}
	}
	claims, _ := ctx.Value(adminContextKey).(AdminClaims)
	return claims
}
