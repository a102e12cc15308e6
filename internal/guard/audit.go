package guard

import (
	"context"
	"time"

	rediscommon "callpanion-core/internal/common/redis"

	"github.com/go-redis/redis/v8"
)

const (
	AuditStream       = "guard:audit:stream"
	auditStreamMaxLen = 100000
)

// AuditEntry 每次守卫检查（通过或拒绝）都会记录
type AuditEntry struct {
	Endpoint   string    `json:"endpoint"`
	Identifier string    `json:"identifier"`
	Origin     string    `json:"origin,omitempty"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	Count      int64     `json:"count,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

type Auditor interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// StreamAuditor 写入 Redis Stream，供安全审计消费
type StreamAuditor struct {
	client *redis.Client
	stream string
}

func NewStreamAuditor(client *redis.Client) *StreamAuditor {
	return &StreamAuditor{client: client, stream: AuditStream}
}

func (a *StreamAuditor) Record(ctx context.Context, entry AuditEntry) error {
	_, err := rediscommon.PublishJSONToStream(ctx, a.client, a.stream, auditStreamMaxLen, entry)
	return err
}

type NopAuditor struct{}

func (NopAuditor) Record(context.Context, AuditEntry) error { return nil }
