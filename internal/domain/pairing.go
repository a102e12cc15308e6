package domain

import (
	"time"
)

// PairingTTL 配对码有效期
const PairingTTL = 10 * time.Minute

// 配对码取值范围 [PairingCodeMin, PairingCodeMax]
const (
	PairingCodeMin = 100000
	PairingCodeMax = 999999
)

// device_info 中的键
const (
	DeviceInfoUserKey    = "device_user_id"
	DeviceInfoClaimedAt  = "claimed_at"
	DeviceInfoClaimedVia = "claimed_via"
	ClaimViaChatAccess   = "chat_access"
)

// PairingRequest 设备配对请求（对应 device_pairings 表）
type PairingRequest struct {
	ID          string `db:"id"`
	HouseholdID string `db:"household_id"`
	RelativeID  string `db:"relative_id"`

	// 6 位数字码（给人看）与不可猜测的 token（给设备用），两者互不推导
	Code  string `db:"pairing_code"`
	Token string `db:"pairing_token"`

	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`

	ClaimedBy  *string        `db:"claimed_by"`  // nullable
	DeviceInfo map[string]any `db:"device_info"` // JSONB
}

// IsExpired expires_at 早于等于 now 即视为过期
func (p *PairingRequest) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// DeviceIdentity 返回 device_info 中记录的设备身份
func (p *PairingRequest) DeviceIdentity() (string, bool) {
	if p.DeviceInfo == nil {
		return "", false
	}
	v, ok := p.DeviceInfo[DeviceInfoUserKey].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// CanBeClaimedBy 认领规则：
// - 未认领：任何身份
// - 已认领且记录了设备身份：只有同一身份（幂等重领）
// - 已认领但没有设备身份（首次聊天接入）：任何身份，覆盖原认领人
func (p *PairingRequest) CanBeClaimedBy(userID string) bool {
	if p.ClaimedBy == nil || *p.ClaimedBy == "" {
		return true
	}
	if *p.ClaimedBy == userID {
		return true
	}
	_, hasIdentity := p.DeviceIdentity()
	return !hasIdentity
}

// ClaimMetadata 合并进 device_info 的认领信息（merge，不替换其他字段）
func ClaimMetadata(userID string, now time.Time) map[string]any {
	return map[string]any{
		DeviceInfoUserKey:    userID,
		DeviceInfoClaimedAt:  now.UTC().Format(time.RFC3339),
		DeviceInfoClaimedVia: ClaimViaChatAccess,
	}
}

// ClaimOutcome 认领条件更新的结果
type ClaimOutcome struct {
	PairingID        string
	HouseholdID      string
	RelativeID       string
	ClaimedBy        string
	PreviousClaimant *string
}
