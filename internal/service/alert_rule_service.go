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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultEventDedupTTL 事件幂等标记保留时长
const DefaultEventDedupTTL = 24 * time.Hour

// AlertRuleService 规则引擎：按事件评估家庭的启用规则并扇出通知
type AlertRuleService interface {
	ProcessEvent(ctx context.Context, req ProcessEventRequest) (*ProcessEventResponse, error)
}

type alertRuleService struct {
	rules         repository.AlertRuleRepository
	notifications repository.NotificationRepository
	households    repository.HouseholdRepository
	sender        *notify.BestEffort
	kv            store.KV
	dedupTTL      time.Duration
	now           func() time.Time
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewAlertRuleService kv 为 nil 时不做 event_id 去重
func NewAlertRuleService(
	rules repository.AlertRuleRepository,
	notifications repository.NotificationRepository,
	households repository.HouseholdRepository,
	sender *notify.BestEffort,
	kv store.KV,
	dedupTTL time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) AlertRuleService {
	if dedupTTL <= 0 {
		dedupTTL = DefaultEventDedupTTL
	}
	return &alertRuleService{
		rules:         rules,
		notifications: notifications,
		households:    households,
		sender:        sender,
		kv:            kv,
		dedupTTL:      dedupTTL,
		now:           time.Now,
		metrics:       m,
		logger:        logger,
	}
}

// ProcessEventRequest 领域事件
type ProcessEventRequest struct {
	Type        string
	HouseholdID string
	RelativeID  *string
	Data        json.RawMessage
	// EventID 可选；提供时同一事件只处理一次
	EventID string
	// CallerID 用户端提交时为调用方用户 ID，必须是该家庭成员；内部提交为空
	CallerID string
}

type ProcessEventResponse struct {
	RulesProcessed int  `json:"rules_processed"`
	TotalRules     int  `json:"total_rules"`
	Duplicate      bool `json:"duplicate,omitempty"`
}

func eventDedupKey(householdID, eventID string) string {
	return fmt.Sprintf("alert:event:%s:%s", householdID, eventID)
}

// ProcessEvent 评估 (household, type) 下的启用规则；
// 每条触发的规则独立投递、独立落库，单条失败不影响其余规则
func (s *alertRuleService) ProcessEvent(ctx context.Context, req ProcessEventRequest) (*ProcessEventResponse, error) {
	ruleType := domain.RuleType(strings.TrimSpace(req.Type))
	if !ruleType.IsValid() {
		return nil, domain.InvalidArgument(fmt.Sprintf("unknown event type %q", req.Type))
	}
	if strings.TrimSpace(req.HouseholdID) == "" {
		return nil, domain.InvalidArgument("household_id is required")
	}
	if req.CallerID != "" {
		isMember, err := s.households.IsHouseholdMember(ctx, req.HouseholdID, req.CallerID)
		if err != nil {
			return nil, domain.Persistence("failed to check household membership", err)
		}
		if !isMember {
			s.logger.Warn("Event rejected, caller is not a household member",
				zap.String("household_id", req.HouseholdID),
				zap.String("user_id", req.CallerID),
				zap.String("type", string(ruleType)),
			)
			return nil, domain.Unauthorized("caller is not a member of this household")
		}
	}
	event, err := domain.DecodeEventData(ruleType, req.Data)
	if err != nil {
		return nil, err
	}

	rules, total, err := s.rules.ListActive(ctx, req.HouseholdID, ruleType)
	if err != nil {
		return nil, domain.Persistence("failed to load alert rules", err)
	}
	if total == 0 {
		return &ProcessEventResponse{}, nil
	}

	if req.EventID != "" && !s.claimEvent(ctx, req.HouseholdID, req.EventID) {
		s.logger.Info("Duplicate event ignored",
			zap.String("household_id", req.HouseholdID),
			zap.String("event_id", req.EventID),
			zap.String("type", string(ruleType)),
		)
		return &ProcessEventResponse{TotalRules: total, Duplicate: true}, nil
	}

	var members []string
	membersLoaded := false
	fired := 0
	for _, rule := range rules {
		ok, err := domain.Evaluate(rule.Condition, event)
		if err != nil {
			s.logger.Warn("Failed to evaluate alert rule",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		fired++
		s.metrics.AlertRuleFired(string(rule.Type))

		recipients := rule.Actions.NotifyUsers
		if len(recipients) == 0 {
			if !membersLoaded {
				members, err = s.households.ListMemberUserIDs(ctx, req.HouseholdID)
				if err != nil {
					s.logger.Warn("Failed to load household members for alert fan-out",
						zap.String("household_id", req.HouseholdID),
						zap.Error(err),
					)
				}
				membersLoaded = true
			}
			recipients = members
		}

		s.fire(ctx, rule, event, req, recipients)
	}

	return &ProcessEventResponse{RulesProcessed: fired, TotalRules: total}, nil
}

// claimEvent 返回 false 表示事件已处理过；Redis 不可用时放行
func (s *alertRuleService) claimEvent(ctx context.Context, householdID, eventID string) bool {
	if s.kv == nil {
		return true
	}
	ok, err := s.kv.SetNX(ctx, eventDedupKey(householdID, eventID), s.now().UTC().Format(time.RFC3339), s.dedupTTL)
	if err != nil {
		s.logger.Warn("Event dedupe unavailable, processing anyway",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return true
	}
	return ok
}

func (s *alertRuleService) fire(ctx context.Context, rule *domain.AlertRule, event domain.EventData, req ProcessEventRequest, recipients []string) {
	title := rule.Title()
	body := rule.Body(event)
	priority := rule.EffectivePriority()

	data := map[string]string{
		"type":         domain.NotificationTypeAlert,
		"rule_id":      rule.ID,
		"rule_type":    string(rule.Type),
		"household_id": req.HouseholdID,
		"priority":     priority,
	}
	if req.RelativeID != nil {
		data["relative_id"] = *req.RelativeID
	}
	s.sender.Send(ctx, "alert_rule", notify.Message{
		UserIDs: recipients,
		Title:   title,
		Body:    body,
		Data:    data,
	})

	if n := len(rule.Actions.SMSRecipients) + len(rule.Actions.EmailRecipients); n > 0 {
		s.logger.Warn("SMS/email actions configured but no channel available, skipped",
			zap.String("rule_id", rule.ID),
			zap.Int("sms_recipients", len(rule.Actions.SMSRecipients)),
			zap.Int("email_recipients", len(rule.Actions.EmailRecipients)),
		)
	}

	ruleID := rule.ID
	record := &domain.FamilyNotification{
		ID:               uuid.New().String(),
		HouseholdID:      req.HouseholdID,
		RelativeID:       req.RelativeID,
		RuleID:           &ruleID,
		Title:            title,
		Message:          body,
		NotificationType: domain.NotificationTypeAlert,
		Priority:         priority,
		SentToUserIDs:    recipients,
		CreatedAt:        s.now(),
	}
	if err := s.notifications.Insert(ctx, record); err != nil {
		s.logger.Error("Failed to record family notification",
			zap.String("rule_id", rule.ID),
			zap.String("household_id", req.HouseholdID),
			zap.Error(err),
		)
	}
}
