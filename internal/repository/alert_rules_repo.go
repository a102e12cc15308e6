package repository

import (
	"context"

	"callpanion-core/internal/domain"
)

// AlertRuleRepository 告警规则（alert_rules）
type AlertRuleRepository interface {
	// ListActive 返回可用规则与该类型启用规则总数。
	// 解析或校验失败的规则记日志后跳过，但仍计入 total。
	ListActive(ctx context.Context, householdID string, ruleType domain.RuleType) (rules []*domain.AlertRule, total int, err error)
}
