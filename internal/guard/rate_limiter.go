package guard

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"callpanion-core/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Decision 一次限流检查的结果
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// RateLimiter 基于 Redis 有序集合的滑动窗口计数。
// 计数放在共享的 Redis 中，多实例部署下配额依然全局有效。
type RateLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, prefix: "ratelimit", now: time.Now}
}

// WithClock 测试用
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

func (l *RateLimiter) key(endpoint, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, endpoint, identifier)
}

// Check 记录一次请求并判断是否超出 (maxRequests, window)。
// 超限时本次请求不计入窗口，返回 Allowed=false 和 RateLimited 错误。
func (l *RateLimiter) Check(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (*Decision, error) {
	if maxRequests <= 0 || window <= 0 {
		return &Decision{Allowed: true}, nil
	}

	key := l.key(endpoint, identifier)
	now := l.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(nowMs-window.Milliseconds(), 10))
		p.ZAdd(ctx, key, &redis.Z{Score: float64(nowMs), Member: member})
		card = p.ZCard(ctx, key)
		oldest = p.ZRangeWithScores(ctx, key, 0, 0)
		p.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit pipeline %s: %w", key, err)
	}

	d := &Decision{Allowed: true, Count: card.Val(), Limit: maxRequests}
	if d.Count <= int64(maxRequests) {
		return d, nil
	}

	// 被拒绝的请求不占用配额
	if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
		return nil, fmt.Errorf("rate limit rollback %s: %w", key, err)
	}
	d.Allowed = false
	d.Count--
	d.RetryAfter = retryAfter(now, oldest.Val(), window)
	return d, domain.RateLimited(d.RetryAfter)
}

// retryAfter ceil(window - age(oldest))，限定在 [1s, window]
func retryAfter(now time.Time, oldest []redis.Z, window time.Duration) time.Duration {
	wait := window
	if len(oldest) > 0 {
		oldestAt := time.UnixMilli(int64(oldest[0].Score))
		wait = window - now.Sub(oldestAt)
	}
	secs := time.Duration(math.Ceil(wait.Seconds())) * time.Second
	if secs < time.Second {
		secs = time.Second
	}
	if secs > window {
		secs = window
	}
	return secs
}
