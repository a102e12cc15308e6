package service

import (
	"context"
	"strings"
	"time"

	"callpanion-core/internal/domain"
	"callpanion-core/internal/metrics"
	"callpanion-core/internal/repository"

	"go.uber.org/zap"
)

// ClaimService 聊天端/设备端认领配对
type ClaimService interface {
	ClaimAccess(ctx context.Context, req ClaimAccessRequest) (*ClaimAccessResponse, error)
}

type claimService struct {
	pairings repository.PairingRepository
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewClaimService(pairings repository.PairingRepository, m *metrics.Metrics, logger *zap.Logger) ClaimService {
	return &claimService{
		pairings: pairings,
		now:      time.Now,
		metrics:  m,
		logger:   logger,
	}
}

// ClaimAccessRequest 认领请求
type ClaimAccessRequest struct {
	UserID       string // 调用方身份
	PairingToken string
	HouseholdID  string
}

type ClaimAccessResponse struct {
	UserID      string `json:"userId"`
	HouseholdID string `json:"householdId"`
}

// ClaimAccess 将配对请求绑定到调用方；同一身份重复认领是幂等的
func (s *claimService) ClaimAccess(ctx context.Context, req ClaimAccessRequest) (*ClaimAccessResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.Unauthenticated("caller identity is required")
	}
	if strings.TrimSpace(req.PairingToken) == "" || strings.TrimSpace(req.HouseholdID) == "" {
		return nil, domain.InvalidArgument("pairingToken and householdId are required")
	}

	now := s.now()
	out, err := s.pairings.Claim(ctx, req.PairingToken, req.HouseholdID, req.UserID, domain.ClaimMetadata(req.UserID, now), now)
	if err != nil {
		de := domain.AsError(err)
		s.metrics.ClaimResult(string(de.Kind))
		if de.Kind == domain.KindPersistenceFailure {
			s.logger.Error("Failed to claim pairing",
				zap.String("household_id", req.HouseholdID),
				zap.Error(err),
			)
		}
		return nil, de
	}

	if out.PreviousClaimant != nil && *out.PreviousClaimant != req.UserID {
		s.logger.Info("Pairing claim overwritten",
			zap.String("pairing_id", out.PairingID),
			zap.String("household_id", out.HouseholdID),
			zap.String("previous_claimant", *out.PreviousClaimant),
			zap.String("new_claimant", req.UserID),
		)
	}
	s.metrics.ClaimResult("claimed")

	return &ClaimAccessResponse{
		UserID:      req.UserID,
		HouseholdID: out.HouseholdID,
	}, nil
}
