package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"callpanion-core/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var callSessionColumns = []string{
	"id", "household_id", "relative_id", "status", "room_id",
	"call_uuid", "started_at", "ended_at", "duration_seconds", "updated_at",
}

func setupMockCallSessionsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresCallSessionRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresCallSessionRepository(db)
}

func TestGetCallSession(t *testing.T) {
	db, mock, repo := setupMockCallSessionsDB(t)
	defer db.Close()

	started := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM call_sessions`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(callSessionColumns).
			AddRow("s1", "h1", "r1", "active", "room-7", nil, started, nil, nil, started))

	s, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, s.Status)
	assert.Equal(t, "room-7", *s.RoomID)
	assert.Nil(t, s.CallUUID)
	assert.Equal(t, started, *s.StartedAt)
	assert.Nil(t, s.DurationSeconds)

	mock.ExpectQuery(`FROM call_sessions`).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_WritesSessionAndLogInOneTransaction(t *testing.T) {
	db, mock, repo := setupMockCallSessionsDB(t)
	defer db.Close()

	started := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	at := started.Add(2 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM call_sessions\s+WHERE id = \$1\s+FOR UPDATE`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(callSessionColumns).
			AddRow("s1", "h1", "r1", "active", nil, nil, started, nil, nil, started))
	mock.ExpectExec(`UPDATE call_sessions`).
		WithArgs("s1", "completed", nil, started, at, int64(120), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO call_logs`).
		WithArgs("s1", "h1", "r1", "completed", int64(120), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := repo.Transition(context.Background(), "s1", func(cur domain.CallSession) domain.TransitionResult {
		return domain.ApplyTransition(cur, domain.CallTransition{Status: domain.CallStatusCompleted, At: at})
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.Entered(domain.CallStatusCompleted))
	assert.Equal(t, 120, *res.Session.DurationSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_RejectedWritesNothing(t *testing.T) {
	db, mock, repo := setupMockCallSessionsDB(t)
	defer db.Close()

	ended := time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(callSessionColumns).
			AddRow("s1", "h1", "r1", "missed", nil, nil, nil, ended, int64(0), ended))
	mock.ExpectRollback()

	res, err := repo.Transition(context.Background(), "s1", func(cur domain.CallSession) domain.TransitionResult {
		return domain.ApplyTransition(cur, domain.CallTransition{Status: domain.CallStatusActive, At: time.Now()})
	})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.CallStatusMissed, res.Session.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_UnknownSession(t *testing.T) {
	db, mock, repo := setupMockCallSessionsDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	_, err := repo.Transition(context.Background(), "nope", func(cur domain.CallSession) domain.TransitionResult {
		called = true
		return domain.TransitionResult{}
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_LogFailureRollsBack(t *testing.T) {
	db, mock, repo := setupMockCallSessionsDB(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(callSessionColumns).
			AddRow("s1", "h1", "r1", "initiated", nil, nil, nil, nil, nil, now))
	mock.ExpectExec(`UPDATE call_sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO call_logs`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.Transition(context.Background(), "s1", func(cur domain.CallSession) domain.TransitionResult {
		return domain.ApplyTransition(cur, domain.CallTransition{Status: domain.CallStatusActive, At: now})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call log")
	require.NoError(t, mock.ExpectationsWereMet())
}
