package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"callpanion-core/internal/domain"

	"go.uber.org/zap"
)

// PostgresAlertRuleRepository 告警规则 Repository 实现
type PostgresAlertRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresAlertRuleRepository(db *sql.DB, logger *zap.Logger) *PostgresAlertRuleRepository {
	return &PostgresAlertRuleRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ AlertRuleRepository = (*PostgresAlertRuleRepository)(nil)

func (r *PostgresAlertRuleRepository) ListActive(ctx context.Context, householdID string, ruleType domain.RuleType) ([]*domain.AlertRule, int, error) {
	query := `
		SELECT
			id::text,
			household_id::text,
			COALESCE(rule_name, ''),
			rule_type,
			conditions,
			actions
		FROM alert_rules
		WHERE household_id = $1
		  AND rule_type = $2
		  AND is_active = true
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, householdID, string(ruleType))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	total := 0
	for rows.Next() {
		var rule domain.AlertRule
		var typ string
		var conditions, actions []byte
		if err := rows.Scan(&rule.ID, &rule.HouseholdID, &rule.Name, &typ, &conditions, &actions); err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		total++
		rule.Type = domain.RuleType(typ)
		rule.IsActive = true

		if err := decodeRule(&rule, conditions, actions); err != nil {
			r.logger.Warn("Skipping invalid alert rule",
				zap.String("rule_id", rule.ID),
				zap.String("household_id", rule.HouseholdID),
				zap.String("rule_type", typ),
				zap.Error(err),
			)
			continue
		}
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate alert rules: %w", err)
	}
	return rules, total, nil
}

func decodeRule(rule *domain.AlertRule, conditions, actions []byte) error {
	cond, err := domain.DecodeCondition(rule.Type, conditions)
	if err != nil {
		return err
	}
	rule.Condition = cond
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return fmt.Errorf("decode actions: %w", err)
		}
	}
	return domain.ValidateRule(rule)
}
