package domain

import "time"

// 通知类型
const (
	NotificationTypeAlert      = "alert"
	NotificationTypeCallStatus = "call_status"
)

// FamilyNotification 告警触发后落库的通知记录（family_notifications 表，只追加）
type FamilyNotification struct {
	ID               string    `db:"id"`
	HouseholdID      string    `db:"household_id"`
	RelativeID       *string   `db:"relative_id"`
	RuleID           *string   `db:"rule_id"`
	Title            string    `db:"title"`
	Message          string    `db:"message"`
	NotificationType string    `db:"notification_type"`
	Priority         string    `db:"priority"`
	SentToUserIDs    []string  `db:"sent_to_user_ids"`
	CreatedAt        time.Time `db:"created_at"`
}
