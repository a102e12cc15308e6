package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPairingRequest_CanBeClaimedBy(t *testing.T) {
	unclaimed := &PairingRequest{}
	assert.True(t, unclaimed.CanBeClaimedBy("user-a"))

	// 已认领但没有设备身份：首次聊天接入，允许覆盖
	structural := &PairingRequest{ClaimedBy: strPtr("user-a"), DeviceInfo: map[string]any{"model": "tablet"}}
	assert.True(t, structural.CanBeClaimedBy("user-b"))

	bound := &PairingRequest{ClaimedBy: strPtr("user-a"), DeviceInfo: map[string]any{DeviceInfoUserKey: "user-a"}}
	assert.True(t, bound.CanBeClaimedBy("user-a"))
	assert.False(t, bound.CanBeClaimedBy("user-b"))
}

func TestPairingRequest_IsExpired(t *testing.T) {
	now := time.Now()
	p := &PairingRequest{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, p.IsExpired(now))
	assert.True(t, p.IsExpired(now.Add(time.Minute)))
}

func TestClaimMetadata(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	m := ClaimMetadata("user-a", now)
	assert.Equal(t, "user-a", m[DeviceInfoUserKey])
	assert.Equal(t, "2026-03-04T05:06:07Z", m[DeviceInfoClaimedAt])
	assert.Equal(t, ClaimViaChatAccess, m[DeviceInfoClaimedVia])
}
