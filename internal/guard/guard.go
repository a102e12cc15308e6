package guard

import (
	"context"
	"errors"
	"time"

	"callpanion-core/internal/config"
	"callpanion-core/internal/domain"
	"callpanion-core/internal/metrics"

	"go.uber.org/zap"
)

// Guard 组合来源检查与限流，所有变更类接口在进入业务逻辑前调用 Enforce
type Guard struct {
	origins *OriginGuard
	limiter *RateLimiter
	quotas  map[string]config.Quota
	auditor Auditor
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(origins *OriginGuard, limiter *RateLimiter, quotas map[string]config.Quota, auditor Auditor, m *metrics.Metrics, logger *zap.Logger) *Guard {
	if auditor == nil {
		auditor = NopAuditor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		origins: origins,
		limiter: limiter,
		quotas:  quotas,
		auditor: auditor,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Enforce 先检查来源再计数；identifier 为用户 ID，未登录时为客户端 IP。
// 计数后端不可用时放行并记录告警。
func (g *Guard) Enforce(ctx context.Context, endpoint, identifier, origin string) error {
	entry := AuditEntry{
		Endpoint:   endpoint,
		Identifier: identifier,
		Origin:     origin,
		CheckedAt:  g.now().UTC(),
	}

	if err := g.origins.Check(origin); err != nil {
		g.logger.Warn("Origin rejected",
			zap.String("endpoint", endpoint),
			zap.String("origin", origin),
			zap.String("identifier", identifier),
		)
		g.metrics.OriginRejected(endpoint)
		entry.Reason = string(domain.KindForbiddenOrigin)
		g.audit(ctx, entry)
		return err
	}

	quota, ok := g.quotas[endpoint]
	if !ok || g.limiter == nil {
		entry.Allowed = true
		g.audit(ctx, entry)
		return nil
	}

	decision, err := g.limiter.Check(ctx, identifier, endpoint, quota.MaxRequests, quota.Window)
	if err != nil && !errors.Is(err, domain.ErrRateLimited) {
		g.logger.Warn("Rate limiter unavailable, allowing request",
			zap.String("endpoint", endpoint),
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		entry.Allowed = true
		entry.Reason = "limiter_unavailable"
		g.audit(ctx, entry)
		return nil
	}

	entry.Allowed = decision.Allowed
	entry.Count = decision.Count
	entry.Limit = decision.Limit
	if !decision.Allowed {
		entry.Reason = string(domain.KindRateLimited)
		g.logger.Info("Rate limit exceeded",
			zap.String("endpoint", endpoint),
			zap.String("identifier", identifier),
			zap.Int("limit", decision.Limit),
			zap.Duration("retry_after", decision.RetryAfter),
		)
		g.metrics.RateLimited(endpoint)
	}
	g.audit(ctx, entry)
	return err
}

func (g *Guard) audit(ctx context.Context, entry AuditEntry) {
	if err := g.auditor.Record(ctx, entry); err != nil {
		g.logger.Warn("Failed to write guard audit entry",
			zap.String("endpoint", entry.Endpoint),
			zap.Error(err),
		)
	}
}
