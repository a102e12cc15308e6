package repository

import (
	"context"
	"errors"
	"time"

	"callpanion-core/internal/domain"
)

// ErrPairingConflict 插入时唯一约束冲突（配对码或 token 重复），调用方应重新生成后重试
var ErrPairingConflict = errors.New("pairing code or token already exists")

// PairingRepository 设备配对（device_pairings）
// 过期记录不删除，所有查询都带 expires_at > now 条件
type PairingRepository interface {
	// CodeInUse 配对码是否被未过期、未认领的记录占用（不分家庭）
	CodeInUse(ctx context.Context, code string, now time.Time) (bool, error)

	// Create 插入新配对请求；唯一约束冲突返回 ErrPairingConflict
	Create(ctx context.Context, p *domain.PairingRequest) error

	// GetActiveByCode 未过期、未认领的配对请求；不存在返回 domain.ErrNotFound
	GetActiveByCode(ctx context.Context, code string, now time.Time) (*domain.PairingRequest, error)

	// Claim 单条条件 UPDATE 完成认领，并发下只有一个调用方能成功
	// 0 行更新时区分 domain.ErrNotFound（无未过期记录）与 domain.ErrAlreadyClaimed
	Claim(ctx context.Context, token, householdID, userID string, metadata map[string]any, now time.Time) (*domain.ClaimOutcome, error)
}
