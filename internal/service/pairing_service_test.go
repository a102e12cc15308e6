package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"callpanion-core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// scriptedSecrets 按顺序返回预设的配对码
type scriptedSecrets struct {
	codes []string
	i     int
}

func (s *scriptedSecrets) NewCode() (string, error) {
	c := s.codes[s.i%len(s.codes)]
	s.i++
	return c, nil
}

func (s *scriptedSecrets) NewToken() (string, error) {
	return fmt.Sprintf("token-%d", s.i), nil
}

func setupPairingFixture() (*fakePairings, *fakeHouseholds) {
	households := newFakeHouseholds()
	households.relatives["r1"] = &domain.Relative{RelativeID: "r1", HouseholdID: "h1", DisplayName: "Grandma"}
	households.admins["h1|admin-1"] = true
	return &fakePairings{}, households
}

func TestInitiatePairing_Success(t *testing.T) {
	pairings, households := setupPairingFixture()
	devices := &fakeDeviceChannel{}
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := NewPairingService(pairings, households, devices, zap.NewNop(), WithPairingClock(func() time.Time { return now }))

	resp, err := svc.InitiatePairing(context.Background(), InitiatePairingRequest{UserID: "admin-1", RelativeID: "r1"})
	require.NoError(t, err)
	assert.Len(t, resp.PairingCode, 6)
	assert.Equal(t, now.Add(10*time.Minute), resp.ExpiresAt)

	require.Len(t, pairings.rows, 1)
	row := pairings.rows[0]
	assert.Equal(t, "h1", row.HouseholdID)
	assert.Equal(t, "admin-1", row.CreatedBy)
	assert.Len(t, row.Token, 32)
	assert.NotContains(t, row.Token, resp.PairingCode)
	assert.True(t, row.ExpiresAt.After(row.CreatedAt))

	require.Len(t, devices.tickets, 1)
	assert.Equal(t, row.Token, devices.tickets[0].Token)
	assert.Equal(t, "r1", devices.tickets[0].RelativeID)
}

func TestInitiatePairing_Preconditions(t *testing.T) {
	pairings, households := setupPairingFixture()
	svc := NewPairingService(pairings, households, nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.InitiatePairing(ctx, InitiatePairingRequest{RelativeID: "r1"})
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	_, err = svc.InitiatePairing(ctx, InitiatePairingRequest{UserID: "admin-1", RelativeID: "missing"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = svc.InitiatePairing(ctx, InitiatePairingRequest{UserID: "member-1", RelativeID: "r1"})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	assert.Empty(t, pairings.rows)
}

func TestInitiatePairing_RegeneratesOnCollision(t *testing.T) {
	pairings, households := setupPairingFixture()
	now := time.Now()
	pairings.rows = append(pairings.rows, &domain.PairingRequest{
		ID: "existing", Code: "111111", Token: "t0", HouseholdID: "other", ExpiresAt: now.Add(time.Minute),
	})
	secrets := &scriptedSecrets{codes: []string{"111111", "222222"}}
	svc := NewPairingService(pairings, households, nil, zap.NewNop(), WithPairingSecrets(secrets))

	resp, err := svc.InitiatePairing(context.Background(), InitiatePairingRequest{UserID: "admin-1", RelativeID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "222222", resp.PairingCode)
}

func TestInitiatePairing_ExpiredOrClaimedCodesCanBeReused(t *testing.T) {
	pairings, households := setupPairingFixture()
	now := time.Now()
	claimed := "someone"
	pairings.rows = append(pairings.rows,
		&domain.PairingRequest{ID: "expired", Code: "333333", ExpiresAt: now.Add(-time.Minute)},
		&domain.PairingRequest{ID: "claimed", Code: "333333", ExpiresAt: now.Add(time.Minute), ClaimedBy: &claimed},
	)
	svc := NewPairingService(pairings, households, nil, zap.NewNop(), WithPairingSecrets(&scriptedSecrets{codes: []string{"333333"}}))

	resp, err := svc.InitiatePairing(context.Background(), InitiatePairingRequest{UserID: "admin-1", RelativeID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "333333", resp.PairingCode)
}

func TestInitiatePairing_GivesUpAfterMaxAttempts(t *testing.T) {
	pairings, households := setupPairingFixture()
	pairings.conflicts = maxCodeAttempts
	svc := NewPairingService(pairings, households, nil, zap.NewNop())

	_, err := svc.InitiatePairing(context.Background(), InitiatePairingRequest{UserID: "admin-1", RelativeID: "r1"})
	assert.True(t, errors.Is(err, domain.ErrPersistence))
	assert.True(t, domain.AsError(err).Retryable())
}

func TestInitiatePairing_RetriesInsertConflict(t *testing.T) {
	pairings, households := setupPairingFixture()
	pairings.conflicts = maxCodeAttempts - 1
	svc := NewPairingService(pairings, households, nil, zap.NewNop())

	_, err := svc.InitiatePairing(context.Background(), InitiatePairingRequest{UserID: "admin-1", RelativeID: "r1"})
	require.NoError(t, err)
	assert.Len(t, pairings.rows, 1)
}

func TestInitiatePairing_DeviceDeliveryFailureIsNotFatal(t *testing.T) {
	pairings, households := setupPairingFixture()
	devices := &fakeDeviceChannel{err: errors.New("broker offline")}
	svc := NewPairingService(pairings, households, devices, zap.NewNop())

	_, err := svc.InitiatePairing(context.Background(), InitiatePairingRequest{UserID: "admin-1", RelativeID: "r1"})
	require.NoError(t, err)
	assert.Len(t, pairings.rows, 1)
}

func TestInitiatePairing_ConcurrentCodesAreUnique(t *testing.T) {
	pairings, households := setupPairingFixture()
	svc := NewPairingService(pairings, households, nil, zap.NewNop())

	var wg sync.WaitGroup
	codes := make([]string, 50)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.InitiatePairing(context.Background(), InitiatePairingRequest{UserID: "admin-1", RelativeID: "r1"})
			if err == nil {
				codes[i] = resp.PairingCode
			}
		}(i)
	}
	wg.Wait()

	tokens := map[string]bool{}
	for _, p := range pairings.rows {
		assert.False(t, tokens[p.Token], "duplicate token")
		tokens[p.Token] = true
	}
	assert.Len(t, pairings.rows, 50)
}

func TestCryptoSecrets_CodeRangeAndTokenShape(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		code, err := cryptoSecrets{}.NewCode()
		if err != nil {
			t.Fatal(err)
		}
		n, err := strconv.Atoi(code)
		if err != nil || n < domain.PairingCodeMin || n > domain.PairingCodeMax || len(code) != 6 {
			t.Fatalf("code %q out of range", code)
		}
		if !isPairingCode(code) {
			t.Fatalf("code %q rejected by validator", code)
		}
		token, err := cryptoSecrets{}.NewToken()
		if err != nil || len(token) != 32 {
			t.Fatalf("token %q has wrong shape", token)
		}
	})
}

func TestLookupPairing(t *testing.T) {
	pairings, households := setupPairingFixture()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := now
	svc := NewPairingService(pairings, households, nil, zap.NewNop(),
		WithPairingClock(func() time.Time { return clock }),
		WithPairingSecrets(&scriptedSecrets{codes: []string{"482913"}}),
	)
	ctx := context.Background()

	_, err := svc.InitiatePairing(ctx, InitiatePairingRequest{UserID: "admin-1", RelativeID: "r1"})
	require.NoError(t, err)

	resp, err := svc.LookupPairing(ctx, LookupPairingRequest{PairingCode: "482913"})
	require.NoError(t, err)
	assert.Equal(t, "h1", resp.HouseholdID)
	assert.Equal(t, pairings.rows[0].Token, resp.PairingToken)

	_, err = svc.LookupPairing(ctx, LookupPairingRequest{PairingCode: "12ab56"})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	// 过期后不可再查到
	clock = now.Add(10 * time.Minute)
	_, err = svc.LookupPairing(ctx, LookupPairingRequest{PairingCode: "482913"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
