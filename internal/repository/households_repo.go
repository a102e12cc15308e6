package repository

import (
	"context"

	"callpanion-core/internal/domain"
)

// HouseholdRepository 家庭、成员与亲属（只读）
type HouseholdRepository interface {
	// GetRelative 亲属不存在时返回 domain.ErrNotFound
	GetRelative(ctx context.Context, relativeID string) (*domain.Relative, error)

	// IsHouseholdAdmin 用户是否为该家庭的 admin
	IsHouseholdAdmin(ctx context.Context, householdID, userID string) (bool, error)

	// IsHouseholdMember 用户是否属于该家庭（admin 或 member）
	IsHouseholdMember(ctx context.Context, householdID, userID string) (bool, error)

	// ListMemberUserIDs 家庭全部成员（通知扇出用）
	ListMemberUserIDs(ctx context.Context, householdID string) ([]string, error)
}
