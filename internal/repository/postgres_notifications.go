package repository

import (
	"context"
	"database/sql"
	"fmt"

	"callpanion-core/internal/domain"

	"github.com/lib/pq"
)

// PostgresNotificationRepository 家庭通知 Repository 实现
type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// 确保实现了接口
var _ NotificationRepository = (*PostgresNotificationRepository)(nil)

func (r *PostgresNotificationRepository) Insert(ctx context.Context, n *domain.FamilyNotification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	if n.HouseholdID == "" {
		return fmt.Errorf("household_id is required")
	}

	query := `
		INSERT INTO family_notifications (
			id, household_id, relative_id, rule_id, title, message,
			notification_type, priority, sent_to_user_ids, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::uuid[], $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.HouseholdID,
		nullString(n.RelativeID),
		nullString(n.RuleID),
		n.Title,
		n.Message,
		n.NotificationType,
		n.Priority,
		pq.Array(n.SentToUserIDs),
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert family notification: %w", err)
	}
	return nil
}
