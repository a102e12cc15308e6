package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"

	"callpanion-core/internal/domain"
)

// Authenticator 从请求中解析调用方用户 ID
type Authenticator interface {
	UserIDFromRequest(r *http.Request) (string, error)
}

// Guard 来源校验 + 限流
type Guard interface {
	Enforce(ctx context.Context, endpoint, identifier, origin string) error
}

// enforce guard 为空时不限流（测试及内部部署）
func enforce(g Guard, r *http.Request, endpoint, identifier string) error {
	if g == nil {
		return nil
	}
	if identifier == "" {
		identifier = clientIP(r)
	}
	return g.Enforce(r.Context(), endpoint, identifier, r.Header.Get("Origin"))
}

// webhookAuthorized 常量时间比较共享密钥；未配置密钥时拒绝所有请求
func webhookAuthorized(r *http.Request, secret string) error {
	got := r.Header.Get("X-Webhook-Secret")
	if secret == "" || got == "" {
		return domain.Unauthenticated("missing webhook secret")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return domain.Unauthenticated("invalid webhook secret")
	}
	return nil
}
