package guard

import (
	"strings"

	"callpanion-core/internal/domain"
)

// OriginGuard 浏览器来源白名单
type OriginGuard struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginGuard 空列表或包含 "*" 时放行所有来源
func NewOriginGuard(origins []string) *OriginGuard {
	g := &OriginGuard{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		if o == "*" {
			g.allowAll = true
			continue
		}
		g.allowed[o] = struct{}{}
	}
	if len(g.allowed) == 0 {
		g.allowAll = true
	}
	return g
}

// Allowed 没有 Origin 头的请求（服务端调用、回调）不受限制
func (g *OriginGuard) Allowed(origin string) bool {
	if g == nil || g.allowAll {
		return true
	}
	o := normalizeOrigin(origin)
	if o == "" {
		return true
	}
	_, ok := g.allowed[o]
	return ok
}

func (g *OriginGuard) Check(origin string) error {
	if g.Allowed(origin) {
		return nil
	}
	return domain.ForbiddenOrigin(origin)
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
