package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"callpanion-core/internal/domain"
)

// PostgresCallSessionRepository 呼叫会话 Repository 实现
type PostgresCallSessionRepository struct {
	db *sql.DB
}

func NewPostgresCallSessionRepository(db *sql.DB) *PostgresCallSessionRepository {
	return &PostgresCallSessionRepository{db: db}
}

// 确保实现了接口
var _ CallSessionRepository = (*PostgresCallSessionRepository)(nil)

const selectCallSession = `
	SELECT
		id::text,
		household_id::text,
		relative_id::text,
		status,
		room_id,
		call_uuid,
		started_at,
		ended_at,
		duration_seconds,
		updated_at
	FROM call_sessions
	WHERE id = $1
`

// rowScanner *sql.Row 与 *sql.Rows 的公共部分
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallSession(row rowScanner) (*domain.CallSession, error) {
	var s domain.CallSession
	var status string
	var roomID, callUUID sql.NullString
	var startedAt, endedAt sql.NullTime
	var duration sql.NullInt64
	if err := row.Scan(
		&s.ID,
		&s.HouseholdID,
		&s.RelativeID,
		&status,
		&roomID,
		&callUUID,
		&startedAt,
		&endedAt,
		&duration,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = domain.CallStatus(status)
	if roomID.Valid {
		s.RoomID = &roomID.String
	}
	if callUUID.Valid {
		s.CallUUID = &callUUID.String
	}
	if startedAt.Valid {
		s.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationSeconds = &d
	}
	return &s, nil
}

func (r *PostgresCallSessionRepository) Get(ctx context.Context, sessionID string) (*domain.CallSession, error) {
	s, err := scanCallSession(r.db.QueryRowContext(ctx, selectCallSession, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("call session not found")
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	return s, nil
}

func (r *PostgresCallSessionRepository) Transition(ctx context.Context, sessionID string, apply TransitionFunc) (*domain.TransitionResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 行锁串行化同一会话的重复回调
	cur, err := scanCallSession(tx.QueryRowContext(ctx, selectCallSession+" FOR UPDATE", sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("call session not found")
		}
		return nil, fmt.Errorf("failed to lock call session: %w", err)
	}

	res := apply(*cur)
	if !res.Applied {
		return &res, nil
	}

	s := res.Session
	_, err = tx.ExecContext(ctx, `
		UPDATE call_sessions
		SET status = $2,
		    call_uuid = $3,
		    started_at = $4,
		    ended_at = $5,
		    duration_seconds = $6,
		    updated_at = $7
		WHERE id = $1
	`,
		s.ID,
		string(s.Status),
		nullString(s.CallUUID),
		nullTime(s.StartedAt),
		nullTime(s.EndedAt),
		nullInt(s.DurationSeconds),
		s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update call session: %w", err)
	}

	log := res.Log()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO call_logs (session_id, household_id, relative_id, call_outcome, duration_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			call_outcome = EXCLUDED.call_outcome,
			duration_seconds = EXCLUDED.duration_seconds,
			updated_at = EXCLUDED.updated_at
	`,
		log.SessionID,
		log.HouseholdID,
		log.RelativeID,
		string(log.CallOutcome),
		nullInt(log.DurationSeconds),
		log.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert call log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit call transition: %w", err)
	}
	return &res, nil
}
