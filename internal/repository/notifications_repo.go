package repository

import (
	"context"

	"callpanion-core/internal/domain"
)

// NotificationRepository 家庭通知记录（family_notifications，只追加）
type NotificationRepository interface {
	Insert(ctx context.Context, n *domain.FamilyNotification) error
}
