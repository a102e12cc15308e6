package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"callpanion-core/internal/domain"
	"callpanion-core/internal/metrics"
	"callpanion-core/internal/notify"
	"callpanion-core/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxCodeAttempts 配对码冲突时的最大生成次数
const maxCodeAttempts = 5

// PairingService 设备配对服务接口
type PairingService interface {
	InitiatePairing(ctx context.Context, req InitiatePairingRequest) (*InitiatePairingResponse, error)
	LookupPairing(ctx context.Context, req LookupPairingRequest) (*LookupPairingResponse, error)
}

type pairingService struct {
	pairings   repository.PairingRepository
	households repository.HouseholdRepository
	devices    notify.DeviceChannel
	secrets    PairingSecrets
	ttl        time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// PairingOption 可选依赖
type PairingOption func(*pairingService)

func WithPairingClock(now func() time.Time) PairingOption {
	return func(s *pairingService) { s.now = now }
}

func WithPairingSecrets(g PairingSecrets) PairingOption {
	return func(s *pairingService) { s.secrets = g }
}

func WithPairingTTL(ttl time.Duration) PairingOption {
	return func(s *pairingService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPairingMetrics(m *metrics.Metrics) PairingOption {
	return func(s *pairingService) { s.metrics = m }
}

// NewPairingService devices 为 nil 时不下发 token（设备通过配对码查询获取）
func NewPairingService(pairings repository.PairingRepository, households repository.HouseholdRepository, devices notify.DeviceChannel, logger *zap.Logger, opts ...PairingOption) PairingService {
	if devices == nil {
		devices = notify.NopDeviceChannel{}
	}
	s := &pairingService{
		pairings:   pairings,
		households: households,
		devices:    devices,
		secrets:    cryptoSecrets{},
		ttl:        domain.PairingTTL,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiatePairingRequest 发起配对请求
type InitiatePairingRequest struct {
	UserID     string // 调用方（必须是亲属所在家庭的 admin）
	RelativeID string
}

// InitiatePairingResponse token 不返回给 admin
type InitiatePairingResponse struct {
	PairingCode string    `json:"pairing_code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// InitiatePairing 为亲属设备生成配对码
func (s *pairingService) InitiatePairing(ctx context.Context, req InitiatePairingRequest) (*InitiatePairingResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.Unauthenticated("caller identity is required")
	}
	if strings.TrimSpace(req.RelativeID) == "" {
		return nil, domain.InvalidArgument("relative_id is required")
	}

	relative, err := s.households.GetRelative(ctx, req.RelativeID)
	if err != nil {
		return nil, domain.AsError(err)
	}
	isAdmin, err := s.households.IsHouseholdAdmin(ctx, relative.HouseholdID, req.UserID)
	if err != nil {
		return nil, domain.Persistence("failed to check household membership", err)
	}
	if !isAdmin {
		return nil, domain.Unauthorized("only household admins can pair devices")
	}

	pairing, err := s.createWithUniqueCode(ctx, relative, req.UserID)
	if err != nil {
		return nil, err
	}

	s.metrics.PairingIssued()
	s.logger.Info("Pairing code issued",
		zap.String("pairing_id", pairing.ID),
		zap.String("household_id", pairing.HouseholdID),
		zap.String("relative_id", pairing.RelativeID),
		zap.Time("expires_at", pairing.ExpiresAt),
	)

	ticket := notify.PairingTicket{
		PairingID:   pairing.ID,
		HouseholdID: pairing.HouseholdID,
		RelativeID:  pairing.RelativeID,
		Token:       pairing.Token,
		ExpiresAt:   pairing.ExpiresAt,
	}
	if err := s.devices.DeliverPairing(ctx, ticket); err != nil {
		s.logger.Warn("Failed to deliver pairing token to device",
			zap.String("pairing_id", pairing.ID),
			zap.String("relative_id", pairing.RelativeID),
			zap.Error(err),
		)
	}

	return &InitiatePairingResponse{
		PairingCode: pairing.Code,
		ExpiresAt:   pairing.ExpiresAt,
	}, nil
}

// createWithUniqueCode 配对码在未过期、未认领的记录中唯一；冲突时重新生成
func (s *pairingService) createWithUniqueCode(ctx context.Context, relative *domain.Relative, createdBy string) (*domain.PairingRequest, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		now := s.now()
		code, err := s.secrets.NewCode()
		if err != nil {
			return nil, domain.Persistence("failed to generate pairing code", err)
		}

		inUse, err := s.pairings.CodeInUse(ctx, code, now)
		if err != nil {
			return nil, domain.Persistence("failed to check pairing code", err)
		}
		if inUse {
			s.logger.Debug("Pairing code collision, regenerating", zap.Int("attempt", attempt))
			continue
		}

		token, err := s.secrets.NewToken()
		if err != nil {
			return nil, domain.Persistence("failed to generate pairing token", err)
		}

		p := &domain.PairingRequest{
			ID:          uuid.New().String(),
			HouseholdID: relative.HouseholdID,
			RelativeID:  relative.RelativeID,
			Code:        code,
			Token:       token,
			CreatedBy:   createdBy,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
		}
		if err := s.pairings.Create(ctx, p); err != nil {
			if errors.Is(err, repository.ErrPairingConflict) {
				s.logger.Debug("Pairing insert conflict, regenerating", zap.Int("attempt", attempt))
				continue
			}
			return nil, domain.Persistence("failed to store pairing request", err)
		}
		return p, nil
	}
	return nil, domain.Persistence("could not allocate a unique pairing code", nil)
}

// LookupPairingRequest 设备端用屏幕上的配对码换取 token
type LookupPairingRequest struct {
	PairingCode string
}

type LookupPairingResponse struct {
	PairingID    string    `json:"pairing_id"`
	HouseholdID  string    `json:"household_id"`
	RelativeID   string    `json:"relative_id"`
	PairingToken string    `json:"pairing_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *pairingService) LookupPairing(ctx context.Context, req LookupPairingRequest) (*LookupPairingResponse, error) {
	code := strings.TrimSpace(req.PairingCode)
	if !isPairingCode(code) {
		return nil, domain.InvalidArgument("pairing_code must be 6 digits")
	}

	p, err := s.pairings.GetActiveByCode(ctx, code, s.now())
	if err != nil {
		return nil, domain.AsError(err)
	}
	return &LookupPairingResponse{
		PairingID:    p.ID,
		HouseholdID:  p.HouseholdID,
		RelativeID:   p.RelativeID,
		PairingToken: p.Token,
		ExpiresAt:    p.ExpiresAt,
	}, nil
}
