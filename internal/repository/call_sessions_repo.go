package repository

import (
	"context"

	"callpanion-core/internal/domain"
)

// TransitionFunc 在行锁内根据当前会话计算下一状态
type TransitionFunc func(cur domain.CallSession) domain.TransitionResult

// CallSessionRepository 呼叫会话与通话记录（call_sessions / call_logs）
type CallSessionRepository interface {
	// Get 会话不存在时返回 domain.ErrNotFound
	Get(ctx context.Context, sessionID string) (*domain.CallSession, error)

	// Transition 单个短事务：锁定会话行 -> apply -> 更新会话 -> upsert 通话记录。
	// apply 拒绝（Applied=false）时不写任何数据。
	Transition(ctx context.Context, sessionID string, apply TransitionFunc) (*domain.TransitionResult, error)
}
