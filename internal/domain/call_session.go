package domain

import (
	"strings"
	"time"
)

// CallStatus 呼叫会话状态
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusActive    CallStatus = "active"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusDeclined  CallStatus = "declined"
)

// IsTerminal completed / missed / declined 为终态（吸收态）
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusMissed, CallStatusDeclined:
		return true
	}
	return false
}

// IsValid 是否为五种合法状态之一
func (s CallStatus) IsValid() bool {
	switch s {
	case CallStatusInitiated, CallStatusActive, CallStatusCompleted, CallStatusMissed, CallStatusDeclined:
		return true
	}
	return false
}

// CallOutcome call_logs.call_outcome
type CallOutcome string

const (
	CallOutcomeInitiated  CallOutcome = "initiated"
	CallOutcomeInProgress CallOutcome = "in_progress"
	CallOutcomeCompleted  CallOutcome = "completed"
	CallOutcomeMissed     CallOutcome = "missed"
	CallOutcomeDeclined   CallOutcome = "declined"
)

// OutcomeFor 状态 -> 通话记录结果的固定映射。
// 映射是全函数：未识别的状态返回 initiated，ok=false 供调用方记录告警。
func OutcomeFor(status string) (outcome CallOutcome, ok bool) {
	switch CallStatus(status) {
	case CallStatusActive:
		return CallOutcomeInProgress, true
	case CallStatusCompleted:
		return CallOutcomeCompleted, true
	case CallStatusMissed:
		return CallOutcomeMissed, true
	case CallStatusDeclined:
		return CallOutcomeDeclined, true
	case CallStatusInitiated:
		return CallOutcomeInitiated, true
	default:
		return CallOutcomeInitiated, false
	}
}

// providerStatusAliases 呼叫服务商的状态词汇 -> 内部状态
var providerStatusAliases = map[string]CallStatus{
	"initiated":   CallStatusInitiated,
	"ringing":     CallStatusInitiated,
	"queued":      CallStatusInitiated,
	"active":      CallStatusActive,
	"answered":    CallStatusActive,
	"in-progress": CallStatusActive,
	"in_progress": CallStatusActive,
	"completed":   CallStatusCompleted,
	"ended":       CallStatusCompleted,
	"finished":    CallStatusCompleted,
	"missed":      CallStatusMissed,
	"no-answer":   CallStatusMissed,
	"no_answer":   CallStatusMissed,
	"timeout":     CallStatusMissed,
	"busy":        CallStatusMissed,
	"declined":    CallStatusDeclined,
	"rejected":    CallStatusDeclined,
	"canceled":    CallStatusDeclined,
	"cancelled":   CallStatusDeclined,
}

// NormalizeProviderStatus 大小写、空白不敏感
func NormalizeProviderStatus(raw string) (CallStatus, bool) {
	s, ok := providerStatusAliases[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// CallSession 呼叫会话（对应 call_sessions 表）
type CallSession struct {
	ID              string     `db:"id"`
	HouseholdID     string     `db:"household_id"`
	RelativeID      string     `db:"relative_id"`
	Status          CallStatus `db:"status"`
	RoomID          *string    `db:"room_id"`
	CallUUID        *string    `db:"call_uuid"`
	StartedAt       *time.Time `db:"started_at"`
	EndedAt         *time.Time `db:"ended_at"`
	DurationSeconds *int       `db:"duration_seconds"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// CallLog 通话记录（对应 call_logs 表，按 session_id 唯一）
type CallLog struct {
	SessionID       string      `db:"session_id"`
	HouseholdID     string      `db:"household_id"`
	RelativeID      string      `db:"relative_id"`
	CallOutcome     CallOutcome `db:"call_outcome"`
	DurationSeconds *int        `db:"duration_seconds"`
	UpdatedAt       time.Time   `db:"updated_at"`
}

// CallTransition 一次状态更新请求
type CallTransition struct {
	Status   CallStatus
	CallUUID *string
	Duration *int
	At       time.Time
}

// TransitionResult 状态机计算结果
type TransitionResult struct {
	Session  CallSession
	Previous CallStatus
	// Applied=false 表示被拒绝（终态吸收 / 回退），不写库
	Applied bool
}

// Entered 是否真正进入了新状态（重放同一状态时为 false）
func (r TransitionResult) Entered(s CallStatus) bool {
	return r.Applied && r.Previous != s && r.Session.Status == s
}

// Log 由会话派生的通话记录（单向同步）
func (r TransitionResult) Log() CallLog {
	outcome, _ := OutcomeFor(string(r.Session.Status))
	return CallLog{
		SessionID:       r.Session.ID,
		HouseholdID:     r.Session.HouseholdID,
		RelativeID:      r.Session.RelativeID,
		CallOutcome:     outcome,
		DurationSeconds: r.Session.DurationSeconds,
		UpdatedAt:       r.Session.UpdatedAt,
	}
}

// ApplyTransition 纯函数状态机：
//   - initiated -> 任意状态
//   - active -> active / 终态
//   - 终态只接受同一终态的重放
//
// 写入字段都是覆盖而非累加，重放同一 (session, status) 结果不变。
func ApplyTransition(cur CallSession, t CallTransition) TransitionResult {
	res := TransitionResult{Session: cur, Previous: cur.Status}

	if !allowed(cur.Status, t.Status) {
		return res
	}

	next := cur
	next.Status = t.Status
	next.UpdatedAt = t.At
	if t.CallUUID != nil && *t.CallUUID != "" {
		uuid := *t.CallUUID
		next.CallUUID = &uuid
	}

	if t.Status == CallStatusActive && next.StartedAt == nil {
		at := t.At
		next.StartedAt = &at
	}

	if t.Status.IsTerminal() {
		if next.EndedAt == nil {
			at := t.At
			next.EndedAt = &at
		}
		next.DurationSeconds = terminalDuration(next, t.Duration)
	}

	res.Session = next
	res.Applied = true
	return res
}

func allowed(from, to CallStatus) bool {
	if !to.IsValid() {
		return false
	}
	switch {
	case from.IsTerminal():
		return from == to
	case from == CallStatusActive:
		return to != CallStatusInitiated
	default:
		return true
	}
}

// terminalDuration 优先使用服务商给出的时长；否则保留已有值（重放）；
// 再否则按 started_at -> ended_at 计算，从未接通为 0
func terminalDuration(s CallSession, provided *int) *int {
	var d int
	switch {
	case provided != nil:
		d = *provided
	case s.DurationSeconds != nil:
		d = *s.DurationSeconds
	case s.StartedAt != nil && s.EndedAt != nil:
		d = int(s.EndedAt.Sub(*s.StartedAt).Seconds())
	}
	if d < 0 {
		d = 0
	}
	return &d
}
