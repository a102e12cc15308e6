package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"callpanion-core/internal/domain"
	"callpanion-core/internal/notify"
	"callpanion-core/internal/repository"
	"callpanion-core/internal/store"
)

// fakeHouseholds 内存版家庭数据
type fakeHouseholds struct {
	relatives map[string]*domain.Relative
	admins    map[string]bool // household|user
	members   map[string][]string
	err       error
}

func newFakeHouseholds() *fakeHouseholds {
	return &fakeHouseholds{
		relatives: map[string]*domain.Relative{},
		admins:    map[string]bool{},
		members:   map[string][]string{},
	}
}

func (f *fakeHouseholds) GetRelative(_ context.Context, id string) (*domain.Relative, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.relatives[id]
	if !ok {
		return nil, domain.NotFound("relative not found")
	}
	return r, nil
}

func (f *fakeHouseholds) IsHouseholdAdmin(_ context.Context, householdID, userID string) (bool, error) {
	return f.admins[householdID+"|"+userID], f.err
}

func (f *fakeHouseholds) IsHouseholdMember(_ context.Context, householdID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.admins[householdID+"|"+userID] {
		return true, nil
	}
	for _, id := range f.members[householdID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeHouseholds) ListMemberUserIDs(_ context.Context, householdID string) ([]string, error) {
	return f.members[householdID], f.err
}

// fakePairings 内存版配对表，Claim 在互斥锁内执行与条件 UPDATE 相同的判断
type fakePairings struct {
	mu        sync.Mutex
	rows      []*domain.PairingRequest
	createErr error
	conflicts int
}

func (f *fakePairings) CodeInUse(_ context.Context, code string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.Code == code && p.ClaimedBy == nil && !p.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePairings) Create(_ context.Context, p *domain.PairingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicts > 0 {
		f.conflicts--
		return repository.ErrPairingConflict
	}
	if f.createErr != nil {
		return f.createErr
	}
	cp := *p
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakePairings) GetActiveByCode(_ context.Context, code string, now time.Time) (*domain.PairingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.Code == code && p.ClaimedBy == nil && !p.IsExpired(now) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.NotFound("pairing code not found or expired")
}

func (f *fakePairings) Claim(_ context.Context, token, householdID, userID string, metadata map[string]any, now time.Time) (*domain.ClaimOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.Token != token || p.HouseholdID != householdID || p.IsExpired(now) {
			continue
		}
		if !p.CanBeClaimedBy(userID) {
			return nil, domain.AlreadyClaimed("pairing already claimed by another device")
		}
		out := &domain.ClaimOutcome{PairingID: p.ID, HouseholdID: p.HouseholdID, RelativeID: p.RelativeID, ClaimedBy: userID}
		if p.ClaimedBy != nil {
			prev := *p.ClaimedBy
			out.PreviousClaimant = &prev
		}
		claimed := userID
		p.ClaimedBy = &claimed
		if p.DeviceInfo == nil {
			p.DeviceInfo = map[string]any{}
		}
		for k, v := range metadata {
			p.DeviceInfo[k] = v
		}
		return out, nil
	}
	return nil, domain.NotFound("pairing token not found or expired")
}

// fakeSessions 内存版会话表，Transition 在互斥锁内执行（模拟行锁）
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.CallSession
	logs     map[string]domain.CallLog
	writes   int
	err      error
}

func newFakeSessions(sessions ...domain.CallSession) *fakeSessions {
	f := &fakeSessions{sessions: map[string]domain.CallSession{}, logs: map[string]domain.CallLog{}}
	for _, s := range sessions {
		f.sessions[s.ID] = s
	}
	return f
}

func (f *fakeSessions) Get(_ context.Context, id string) (*domain.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.NotFound("call session not found")
	}
	return &s, nil
}

func (f *fakeSessions) Transition(_ context.Context, id string, apply repository.TransitionFunc) (*domain.TransitionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cur, ok := f.sessions[id]
	if !ok {
		return nil, domain.NotFound("call session not found")
	}
	res := apply(cur)
	if res.Applied {
		f.sessions[id] = res.Session
		f.logs[id] = res.Log()
		f.writes++
	}
	return &res, nil
}

type fakeRules struct {
	rules []*domain.AlertRule
	total int
	err   error
}

func (f *fakeRules) ListActive(_ context.Context, householdID string, ruleType domain.RuleType) ([]*domain.AlertRule, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	var out []*domain.AlertRule
	for _, r := range f.rules {
		if r.HouseholdID == householdID && r.Type == ruleType {
			out = append(out, r)
		}
	}
	total := len(out)
	if f.total > total {
		total = f.total
	}
	return out, total, nil
}

type fakeNotifications struct {
	mu      sync.Mutex
	records []*domain.FamilyNotification
	failFor map[string]bool // rule_id
}

func (f *fakeNotifications) Insert(_ context.Context, n *domain.FamilyNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.RuleID != nil && f.failFor[*n.RuleID] {
		return errors.New("insert failed")
	}
	f.records = append(f.records, n)
	return nil
}

// recordingDispatcher 记录所有投递；failTitles 中的标题投递失败
type recordingDispatcher struct {
	mu         sync.Mutex
	sent       []notify.Message
	failTitles map[string]bool
}

func (d *recordingDispatcher) Send(_ context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	if d.failTitles[msg.Title] {
		return errors.New("dispatch failed")
	}
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type fakeDeviceChannel struct {
	tickets []notify.PairingTicket
	err     error
}

func (c *fakeDeviceChannel) DeliverPairing(_ context.Context, t notify.PairingTicket) error {
	c.tickets = append(c.tickets, t)
	return c.err
}

// memKV 内存版 store.KV
type memKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

var _ store.KV = (*memKV)(nil)

func (m *memKV) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memKV) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n, _ := strconv.ParseInt(m.data[key], 10, 64)
	n++
	m.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
