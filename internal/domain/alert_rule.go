package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RuleType 规则类型，同时也是领域事件类型
type RuleType string

const (
	RuleTypeMissedCall    RuleType = "missed_call"
	RuleTypeHealthConcern RuleType = "health_concern"
	RuleTypeEmergency     RuleType = "emergency"
)

func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeMissedCall, RuleTypeHealthConcern, RuleTypeEmergency:
		return true
	}
	return false
}

// 通知优先级
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// RuleCondition 规则条件（按 rule_type 区分的 tagged union）
type RuleCondition interface {
	RuleType() RuleType
}

// MissedCallCondition 连续未接次数 >= MissedCalls 时触发
type MissedCallCondition struct {
	MissedCalls int `json:"missed_calls"`
}

// HealthConcernCondition 健康分 <= HealthScore 时触发
type HealthConcernCondition struct {
	HealthScore float64 `json:"health_score"`
}

// EmergencyCondition 无阈值，存在启用的规则即触发
type EmergencyCondition struct{}

func (MissedCallCondition) RuleType() RuleType { return RuleTypeMissedCall }
func (HealthConcernCondition) RuleType() RuleType { return RuleTypeHealthConcern }
func (EmergencyCondition) RuleType() RuleType { return RuleTypeEmergency }

// EventData 领域事件负载（与 RuleCondition 一一对应）
type EventData interface {
	EventType() RuleType
}

type MissedCallEvent struct {
	ConsecutiveMissed int `json:"consecutive_missed"`
}

type HealthConcernEvent struct {
	HealthScore float64 `json:"health_score"`
}

// EmergencyEvent 负载内容不参与判断，原样保留用于通知 data
type EmergencyEvent struct {
	Raw map[string]any
}

func (MissedCallEvent) EventType() RuleType { return RuleTypeMissedCall }
func (HealthConcernEvent) EventType() RuleType { return RuleTypeHealthConcern }
func (EmergencyEvent) EventType() RuleType { return RuleTypeEmergency }

// RuleActions 规则动作；sms/email 只声明，当前没有投递通道
type RuleActions struct {
	NotifyUsers       []string `json:"notify_users"`
	NotificationTitle string   `json:"notification_title,omitempty"`
	NotificationBody  string   `json:"notification_body,omitempty"`
	Priority          string   `json:"priority,omitempty"`
	SMSRecipients     []string `json:"sms_recipients,omitempty"`
	EmailRecipients   []string `json:"email_recipients,omitempty"`
}

// AlertRule 告警规则（对应 alert_rules 表）
type AlertRule struct {
	ID          string
	HouseholdID string
	Name        string
	Type        RuleType
	Condition   RuleCondition
	Actions     RuleActions
	IsActive    bool
}

// Title 未配置标题时按规则名生成
func (r *AlertRule) Title() string {
	if t := strings.TrimSpace(r.Actions.NotificationTitle); t != "" {
		return t
	}
	return fmt.Sprintf("%s alert", r.displayName())
}

// Body 未配置正文时按事件生成
func (r *AlertRule) Body(ev EventData) string {
	if b := strings.TrimSpace(r.Actions.NotificationBody); b != "" {
		return b
	}
	name := r.displayName()
	switch e := ev.(type) {
	case MissedCallEvent:
		return fmt.Sprintf("%s: %d consecutive calls were missed", name, e.ConsecutiveMissed)
	case HealthConcernEvent:
		return fmt.Sprintf("%s: health score dropped to %s", name, formatScore(e.HealthScore))
	case EmergencyEvent:
		return fmt.Sprintf("%s: an emergency was reported", name)
	default:
		return fmt.Sprintf("%s was triggered", name)
	}
}

// EffectivePriority 未配置时为 normal
func (r *AlertRule) EffectivePriority() string {
	if r.Actions.Priority == "" {
		return PriorityNormal
	}
	return r.Actions.Priority
}

func (r *AlertRule) displayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return strings.ReplaceAll(string(r.Type), "_", " ")
}

func formatScore(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.1f", f)
}

// DecodeCondition 按 rule_type 解析 conditions JSONB
func DecodeCondition(t RuleType, raw []byte) (RuleCondition, error) {
	switch t {
	case RuleTypeMissedCall:
		var c struct {
			MissedCalls *int `json:"missed_calls"`
		}
		if err := decodeJSON(raw, &c); err != nil {
			return nil, fmt.Errorf("decode missed_call conditions: %w", err)
		}
		if c.MissedCalls == nil {
			return nil, errors.New("conditions.missed_calls is required")
		}
		return MissedCallCondition{MissedCalls: *c.MissedCalls}, nil
	case RuleTypeHealthConcern:
		// 缺少阈值时不能按 0 处理，否则规则只会在健康分为 0 时触发
		var c struct {
			HealthScore *float64 `json:"health_score"`
		}
		if err := decodeJSON(raw, &c); err != nil {
			return nil, fmt.Errorf("decode health_concern conditions: %w", err)
		}
		if c.HealthScore == nil {
			return nil, errors.New("conditions.health_score is required")
		}
		return HealthConcernCondition{HealthScore: *c.HealthScore}, nil
	case RuleTypeEmergency:
		return EmergencyCondition{}, nil
	default:
		return nil, fmt.Errorf("unknown rule_type %q", t)
	}
}

// DecodeEventData 按事件类型解析 data；缺少必需字段为参数错误
func DecodeEventData(t RuleType, raw []byte) (EventData, error) {
	switch t {
	case RuleTypeMissedCall:
		var payload struct {
			ConsecutiveMissed *int `json:"consecutive_missed"`
		}
		if err := decodeJSON(raw, &payload); err != nil {
			return nil, InvalidArgument("invalid missed_call data: " + err.Error())
		}
		if payload.ConsecutiveMissed == nil {
			return nil, InvalidArgument("data.consecutive_missed is required")
		}
		return MissedCallEvent{ConsecutiveMissed: *payload.ConsecutiveMissed}, nil
	case RuleTypeHealthConcern:
		var payload struct {
			HealthScore *float64 `json:"health_score"`
		}
		if err := decodeJSON(raw, &payload); err != nil {
			return nil, InvalidArgument("invalid health_concern data: " + err.Error())
		}
		if payload.HealthScore == nil {
			return nil, InvalidArgument("data.health_score is required")
		}
		return HealthConcernEvent{HealthScore: *payload.HealthScore}, nil
	case RuleTypeEmergency:
		ev := EmergencyEvent{Raw: map[string]any{}}
		if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
			// emergency 不依赖 data 内容，解析失败也照样触发
			_ = json.Unmarshal(raw, &ev.Raw)
		}
		return ev, nil
	default:
		return nil, InvalidArgument(fmt.Sprintf("unknown event type %q", t))
	}
}

// Evaluate 判断规则是否触发；条件与事件类型不一致返回错误
func Evaluate(c RuleCondition, ev EventData) (bool, error) {
	if c == nil || ev == nil {
		return false, fmt.Errorf("condition and event are required")
	}
	if c.RuleType() != ev.EventType() {
		return false, fmt.Errorf("rule type %s does not match event type %s", c.RuleType(), ev.EventType())
	}
	switch cond := c.(type) {
	case MissedCallCondition:
		return ev.(MissedCallEvent).ConsecutiveMissed >= cond.MissedCalls, nil
	case HealthConcernCondition:
		return ev.(HealthConcernEvent).HealthScore <= cond.HealthScore, nil
	case EmergencyCondition:
		return true, nil
	default:
		return false, fmt.Errorf("unsupported condition %T", c)
	}
}

// ValidateRule 规则合法性检查；带 sms/email 动作的规则同样合法
func ValidateRule(r *AlertRule) error {
	if r == nil {
		return InvalidArgument("rule is required")
	}
	if !r.Type.IsValid() {
		return InvalidArgument(fmt.Sprintf("unknown rule_type %q", r.Type))
	}
	if r.Condition == nil || r.Condition.RuleType() != r.Type {
		return InvalidArgument("conditions do not match rule_type")
	}
	switch c := r.Condition.(type) {
	case MissedCallCondition:
		if c.MissedCalls < 1 {
			return InvalidArgument("conditions.missed_calls must be >= 1")
		}
	case HealthConcernCondition:
		if c.HealthScore < 0 || c.HealthScore > 100 {
			return InvalidArgument("conditions.health_score must be within [0, 100]")
		}
	}
	switch r.EffectivePriority() {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return InvalidArgument(fmt.Sprintf("unknown priority %q", r.Actions.Priority))
	}
	for _, v := range append(append([]string{}, r.Actions.SMSRecipients...), r.Actions.EmailRecipients...) {
		if strings.TrimSpace(v) == "" {
			return InvalidArgument("sms/email recipients must not be empty")
		}
	}
	return nil
}

// decodeJSON 空负载按 {} 处理
func decodeJSON(raw []byte, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte(`{}`)
	}
	return json.Unmarshal(raw, out)
}
