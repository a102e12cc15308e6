package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callpanion-core/internal/domain"

	"github.com/lib/pq"
)

// PostgresPairingRepository 设备配对 Repository 实现
type PostgresPairingRepository struct {
	db *sql.DB
}

func NewPostgresPairingRepository(db *sql.DB) *PostgresPairingRepository {
	return &PostgresPairingRepository{db: db}
}

// 确保实现了接口
var _ PairingRepository = (*PostgresPairingRepository)(nil)

func (r *PostgresPairingRepository) CodeInUse(ctx context.Context, code string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM device_pairings
			WHERE pairing_code = $1
			  AND claimed_by IS NULL
			  AND expires_at > $2
		)
	`
	var inUse bool
	if err := r.db.QueryRowContext(ctx, query, code, now).Scan(&inUse); err != nil {
		return false, fmt.Errorf("failed to check pairing code: %w", err)
	}
	return inUse, nil
}

func (r *PostgresPairingRepository) Create(ctx context.Context, p *domain.PairingRequest) error {
	if p == nil {
		return fmt.Errorf("pairing request is required")
	}
	deviceInfo, err := marshalJSONB(p.DeviceInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal device_info: %w", err)
	}

	query := `
		INSERT INTO device_pairings (
			id, household_id, relative_id, pairing_code, pairing_token,
			created_by, created_at, expires_at, claimed_by, device_info
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9::jsonb)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		p.HouseholdID,
		p.RelativeID,
		p.Code,
		p.Token,
		p.CreatedBy,
		p.CreatedAt,
		p.ExpiresAt,
		deviceInfo,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrPairingConflict
		}
		return fmt.Errorf("failed to create pairing request: %w", err)
	}
	return nil
}

func (r *PostgresPairingRepository) GetActiveByCode(ctx context.Context, code string, now time.Time) (*domain.PairingRequest, error) {
	query := `
		SELECT
			id::text,
			household_id::text,
			relative_id::text,
			pairing_code,
			pairing_token,
			created_by::text,
			created_at,
			expires_at,
			claimed_by::text,
			device_info
		FROM device_pairings
		WHERE pairing_code = $1
		  AND claimed_by IS NULL
		  AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var p domain.PairingRequest
	var claimedBy sql.NullString
	var deviceInfo []byte
	err := r.db.QueryRowContext(ctx, query, code, now).Scan(
		&p.ID,
		&p.HouseholdID,
		&p.RelativeID,
		&p.Code,
		&p.Token,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.ExpiresAt,
		&claimedBy,
		&deviceInfo,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("pairing code not found or expired")
		}
		return nil, fmt.Errorf("failed to get pairing request: %w", err)
	}
	if claimedBy.Valid {
		p.ClaimedBy = &claimedBy.String
	}
	if p.DeviceInfo, err = unmarshalJSONB(deviceInfo); err != nil {
		return nil, fmt.Errorf("failed to parse device_info: %w", err)
	}
	return &p, nil
}

// claimQuery target 子查询用 FOR UPDATE 锁行并取出原认领人；
// 外层 WHERE 在拿到锁后重新求值，两个并发认领只有一个能命中
const claimQuery = `
	WITH target AS (
		SELECT id, claimed_by AS previous_claimant
		FROM device_pairings
		WHERE pairing_token = $1
		  AND household_id = $2
		  AND expires_at > $5
		FOR UPDATE
	)
	UPDATE device_pairings p
	SET claimed_by = $3,
	    device_info = COALESCE(p.device_info, '{}'::jsonb) || $4::jsonb
	FROM target
	WHERE p.id = target.id
	  AND (
		p.claimed_by IS NULL
		OR p.claimed_by = $3
		OR NOT (COALESCE(p.device_info, '{}'::jsonb) ? 'device_user_id')
	  )
	RETURNING p.id::text, p.household_id::text, p.relative_id::text, target.previous_claimant::text
`

func (r *PostgresPairingRepository) Claim(ctx context.Context, token, householdID, userID string, metadata map[string]any, now time.Time) (*domain.ClaimOutcome, error) {
	patch, err := marshalJSONB(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal claim metadata: %w", err)
	}

	out := domain.ClaimOutcome{ClaimedBy: userID}
	var previous sql.NullString
	err = r.db.QueryRowContext(ctx, claimQuery, token, householdID, userID, patch, now).Scan(
		&out.PairingID,
		&out.HouseholdID,
		&out.RelativeID,
		&previous,
	)
	if err == nil {
		if previous.Valid {
			out.PreviousClaimant = &previous.String
		}
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim pairing: %w", err)
	}

	// 没有行被更新：要么不存在/已过期，要么被其他身份认领
	var exists bool
	existsQuery := `
		SELECT EXISTS (
			SELECT 1 FROM device_pairings
			WHERE pairing_token = $1
			  AND household_id = $2
			  AND expires_at > $3
		)
	`
	if err := r.db.QueryRowContext(ctx, existsQuery, token, householdID, now).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check pairing: %w", err)
	}
	if !exists {
		return nil, domain.NotFound("pairing token not found or expired")
	}
	return nil, domain.AlreadyClaimed("pairing already claimed by another device")
}
