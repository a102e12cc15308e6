package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"callpanion-core/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockAlertRulesDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresAlertRuleRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresAlertRuleRepository(db, zap.NewNop())
}

func TestListActive_DecodesAndSkipsInvalid(t *testing.T) {
	db, mock, repo := setupMockAlertRulesDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "household_id", "rule_name", "rule_type", "conditions", "actions"}).
		AddRow("rule-1", "h1", "Three strikes", "missed_call", `{"missed_calls":3}`,
			`{"notify_users":["u1"],"priority":"high","sms_recipients":["+15550100"]}`).
		AddRow("rule-2", "h1", "Broken", "missed_call", `{"missed_calls":0}`, `{}`).
		AddRow("rule-3", "h1", "Garbage", "missed_call", `not json`, `{}`)

	mock.ExpectQuery(`FROM alert_rules`).
		WithArgs("h1", "missed_call").
		WillReturnRows(rows)

	rules, total, err := repo.ListActive(context.Background(), "h1", domain.RuleTypeMissedCall)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule-1", rules[0].ID)
	assert.Equal(t, domain.MissedCallCondition{MissedCalls: 3}, rules[0].Condition)
	assert.Equal(t, []string{"u1"}, rules[0].Actions.NotifyUsers)
	assert.Equal(t, []string{"+15550100"}, rules[0].Actions.SMSRecipients)
	assert.True(t, rules[0].IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_SkipsHealthRuleWithoutThreshold(t *testing.T) {
	db, mock, repo := setupMockAlertRulesDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "household_id", "rule_name", "rule_type", "conditions", "actions"}).
		AddRow("rule-1", "h1", "No threshold", "health_concern", `{}`, `{"notify_users":["u1"]}`).
		AddRow("rule-2", "h1", "Low score", "health_concern", `{"health_score":40}`, `{"notify_users":["u1"]}`)

	mock.ExpectQuery(`FROM alert_rules`).
		WithArgs("h1", "health_concern").
		WillReturnRows(rows)

	rules, total, err := repo.ListActive(context.Background(), "h1", domain.RuleTypeHealthConcern)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule-2", rules[0].ID)
	assert.Equal(t, domain.HealthConcernCondition{HealthScore: 40}, rules[0].Condition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_NoRules(t *testing.T) {
	db, mock, repo := setupMockAlertRulesDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM alert_rules`).
		WithArgs("h1", "emergency").
		WillReturnRows(sqlmock.NewRows([]string{"id", "household_id", "rule_name", "rule_type", "conditions", "actions"}))

	rules, total, err := repo.ListActive(context.Background(), "h1", domain.RuleTypeEmergency)
	require.NoError(t, err)
	assert.Empty(t, rules)
	assert.Equal(t, 0, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_QueryError(t *testing.T) {
	db, mock, repo := setupMockAlertRulesDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM alert_rules`).WillReturnError(errors.New("timeout"))

	_, _, err := repo.ListActive(context.Background(), "h1", domain.RuleTypeEmergency)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
