package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"callpanion-core/internal/domain"
)

// PostgresHouseholdRepository 家庭只读查询
type PostgresHouseholdRepository struct {
	db *sql.DB
}

func NewPostgresHouseholdRepository(db *sql.DB) *PostgresHouseholdRepository {
	return &PostgresHouseholdRepository{db: db}
}

// 确保实现了接口
var _ HouseholdRepository = (*PostgresHouseholdRepository)(nil)

func (r *PostgresHouseholdRepository) GetRelative(ctx context.Context, relativeID string) (*domain.Relative, error) {
	if relativeID == "" {
		return nil, domain.InvalidArgument("relative_id is required")
	}

	query := `
		SELECT id::text, household_id::text, COALESCE(display_name, '')
		FROM relatives
		WHERE id = $1
	`
	var rel domain.Relative
	err := r.db.QueryRowContext(ctx, query, relativeID).Scan(&rel.RelativeID, &rel.HouseholdID, &rel.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("relative not found")
		}
		return nil, fmt.Errorf("failed to get relative: %w", err)
	}
	return &rel, nil
}

func (r *PostgresHouseholdRepository) IsHouseholdAdmin(ctx context.Context, householdID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM household_members
			WHERE household_id = $1 AND user_id = $2 AND role = $3
		)
	`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, householdID, userID, domain.MemberRoleAdmin).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check household admin: %w", err)
	}
	return ok, nil
}

func (r *PostgresHouseholdRepository) IsHouseholdMember(ctx context.Context, householdID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM household_members
			WHERE household_id = $1 AND user_id = $2 AND role IN ($3, $4)
		)
	`
	var ok bool
	err := r.db.QueryRowContext(ctx, query, householdID, userID, domain.MemberRoleAdmin, domain.MemberRoleMember).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check household member: %w", err)
	}
	return ok, nil
}

func (r *PostgresHouseholdRepository) ListMemberUserIDs(ctx context.Context, householdID string) ([]string, error) {
	query := `
		SELECT user_id::text
		FROM household_members
		WHERE household_id = $1
		ORDER BY user_id
	`
	rows, err := r.db.QueryContext(ctx, query, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to list household members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan household member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate household members: %w", err)
	}
	return ids, nil
}
