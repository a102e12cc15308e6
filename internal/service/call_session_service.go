package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"callpanion-core/internal/domain"
	"callpanion-core/internal/metrics"
	"callpanion-core/internal/notify"
	"callpanion-core/internal/repository"
	"callpanion-core/internal/store"

	"go.uber.org/zap"
)

// CallSessionService 呼叫会话状态机
type CallSessionService interface {
	UpdateStatus(ctx context.Context, req UpdateCallStatusRequest) (*UpdateCallStatusResponse, error)
}

// EventSubmitter 领域事件入口（AlertRuleService 满足该接口）
type EventSubmitter interface {
	ProcessEvent(ctx context.Context, req ProcessEventRequest) (*ProcessEventResponse, error)
}

type callSessionService struct {
	sessions   repository.CallSessionRepository
	households repository.HouseholdRepository
	sender     *notify.BestEffort
	kv         store.KV
	events     EventSubmitter
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewCallSessionService kv / events 可为 nil：不统计连续未接、不提交 missed_call 事件
func NewCallSessionService(
	sessions repository.CallSessionRepository,
	households repository.HouseholdRepository,
	sender *notify.BestEffort,
	kv store.KV,
	events EventSubmitter,
	m *metrics.Metrics,
	logger *zap.Logger,
) CallSessionService {
	return &callSessionService{
		sessions:   sessions,
		households: households,
		sender:     sender,
		kv:         kv,
		events:     events,
		now:        time.Now,
		metrics:    m,
		logger:     logger,
	}
}

// UpdateCallStatusRequest 呼叫服务商状态回调
type UpdateCallStatusRequest struct {
	SessionID string
	Status    string
	CallUUID  *string
	Duration  *int // 秒
}

type UpdateCallStatusResponse struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	CallOutcome string `json:"callOutcome"`
}

func missedCounterKey(relativeID string) string {
	return "calls:missed:" + relativeID
}

// UpdateStatus 应用状态转换并同步通话记录；提交后的通知、计数与事件都是尽力而为
func (s *callSessionService) UpdateStatus(ctx context.Context, req UpdateCallStatusRequest) (*UpdateCallStatusResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, domain.InvalidArgument("sessionId is required")
	}
	if req.Duration != nil && *req.Duration < 0 {
		return nil, domain.InvalidArgument("duration must not be negative")
	}

	status, ok := domain.NormalizeProviderStatus(req.Status)
	if !ok {
		// 状态域之外的值不写库，只记录并按默认映射返回
		if _, err := s.sessions.Get(ctx, req.SessionID); err != nil {
			return nil, domain.AsError(err)
		}
		outcome, _ := domain.OutcomeFor(req.Status)
		s.logger.Warn("Unrecognised call status, session left unchanged",
			zap.String("session_id", req.SessionID),
			zap.String("status", req.Status),
		)
		s.metrics.CallTransition("unknown", false)
		return &UpdateCallStatusResponse{
			SessionID:   req.SessionID,
			Status:      req.Status,
			CallOutcome: string(outcome),
		}, nil
	}

	transition := domain.CallTransition{
		Status:   status,
		CallUUID: req.CallUUID,
		Duration: req.Duration,
		At:       s.now(),
	}
	res, err := s.sessions.Transition(ctx, req.SessionID, func(cur domain.CallSession) domain.TransitionResult {
		return domain.ApplyTransition(cur, transition)
	})
	if err != nil {
		de := domain.AsError(err)
		if de.Kind == domain.KindPersistenceFailure {
			s.logger.Error("Failed to update call session",
				zap.String("session_id", req.SessionID),
				zap.String("status", string(status)),
				zap.Error(err),
			)
		}
		return nil, de
	}
	s.metrics.CallTransition(string(status), res.Applied)

	if !res.Applied {
		s.logger.Info("Call status update ignored",
			zap.String("session_id", req.SessionID),
			zap.String("current_status", string(res.Session.Status)),
			zap.String("requested_status", string(status)),
		)
	} else {
		s.afterCommit(ctx, res)
	}

	return &UpdateCallStatusResponse{
		SessionID:   res.Session.ID,
		Status:      string(res.Session.Status),
		CallOutcome: string(res.Log().CallOutcome),
	}, nil
}

// afterCommit 只在真正进入新状态时触发，重放同一状态不会重复通知或计数
func (s *callSessionService) afterCommit(ctx context.Context, res *domain.TransitionResult) {
	session := res.Session
	switch {
	case res.Entered(domain.CallStatusActive), res.Entered(domain.CallStatusCompleted):
		if res.Entered(domain.CallStatusCompleted) {
			s.resetMissed(ctx, session.RelativeID)
		}
		s.notifyHousehold(ctx, session)
	case res.Entered(domain.CallStatusMissed):
		s.recordMissed(ctx, session)
	}
}

func (s *callSessionService) notifyHousehold(ctx context.Context, session domain.CallSession) {
	members, err := s.households.ListMemberUserIDs(ctx, session.HouseholdID)
	if err != nil {
		s.logger.Warn("Failed to load household members for call notification",
			zap.String("household_id", session.HouseholdID),
			zap.Error(err),
		)
		return
	}

	title, body := callStatusText(session)
	s.sender.Send(ctx, domain.NotificationTypeCallStatus, notify.Message{
		UserIDs: members,
		Title:   title,
		Body:    body,
		Data: map[string]string{
			"type":       domain.NotificationTypeCallStatus,
			"session_id": session.ID,
			"status":     string(session.Status),
		},
	})
}

func callStatusText(session domain.CallSession) (string, string) {
	if session.Status == domain.CallStatusActive {
		return "Call started", "A call with your relative has started"
	}
	if session.DurationSeconds != nil && *session.DurationSeconds > 0 {
		d := time.Duration(*session.DurationSeconds) * time.Second
		return "Call ended", fmt.Sprintf("The call with your relative ended after %s", d)
	}
	return "Call ended", "The call with your relative has ended"
}

func (s *callSessionService) resetMissed(ctx context.Context, relativeID string) {
	if s.kv == nil {
		return
	}
	if err := s.kv.Del(ctx, missedCounterKey(relativeID)); err != nil {
		s.logger.Warn("Failed to reset missed call counter",
			zap.String("relative_id", relativeID),
			zap.Error(err),
		)
	}
}

// recordMissed 连续未接计数 +1，并作为 missed_call 事件提交给规则引擎
func (s *callSessionService) recordMissed(ctx context.Context, session domain.CallSession) {
	if s.kv == nil || s.events == nil {
		return
	}
	count, err := s.kv.Incr(ctx, missedCounterKey(session.RelativeID))
	if err != nil {
		s.logger.Warn("Failed to increment missed call counter",
			zap.String("relative_id", session.RelativeID),
			zap.Error(err),
		)
		return
	}

	data, err := json.Marshal(domain.MissedCallEvent{ConsecutiveMissed: int(count)})
	if err != nil {
		return
	}
	relativeID := session.RelativeID
	resp, err := s.events.ProcessEvent(ctx, ProcessEventRequest{
		Type:        string(domain.RuleTypeMissedCall),
		HouseholdID: session.HouseholdID,
		RelativeID:  &relativeID,
		Data:        data,
		EventID:     session.ID + ":missed",
	})
	if err != nil {
		s.logger.Warn("Failed to submit missed_call event",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("Missed call event processed",
		zap.String("session_id", session.ID),
		zap.Int64("consecutive_missed", count),
		zap.Int("rules_processed", resp.RulesProcessed),
		zap.Int("total_rules", resp.TotalRules),
	)
}
