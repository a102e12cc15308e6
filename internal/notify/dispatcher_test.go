package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return p.err
}

type failingDispatcher struct{ calls int }

func (f *failingDispatcher) Send(context.Context, Message) error {
	f.calls++
	return errors.New("gateway down")
}

func TestPushGatewayDispatcher_Send(t *testing.T) {
	var got Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notifications", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":0,"message":"ok"}`))
	}))
	defer srv.Close()

	d := NewPushGatewayDispatcher(srv.URL, "secret", time.Second, 0, zap.NewNop())
	err := d.Send(context.Background(), Message{
		UserIDs: []string{"u1", "u2"},
		Title:   "Call started",
		Body:    "Grandma answered",
		Data:    map[string]string{"type": "call_status"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, []string{"u1", "u2"}, got.UserIDs)
	assert.Equal(t, "call_status", got.Data["type"])
}

func TestPushGatewayDispatcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"status":1,"message":"upstream"}`))
	}))
	defer srv.Close()

	d := NewPushGatewayDispatcher(srv.URL, "", time.Second, 0, zap.NewNop())
	err := d.Send(context.Background(), Message{UserIDs: []string{"u1"}, Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream")

	// 无收件人不发请求
	assert.NoError(t, NewPushGatewayDispatcher("http://127.0.0.1:1", "", time.Second, 0, zap.NewNop()).
		Send(context.Background(), Message{}))
}

func TestMQTTDispatcher_PublishesPerRecipient(t *testing.T) {
	pub := &fakePublisher{}
	d := NewMQTTDispatcher(pub, 1)

	require.NoError(t, d.Send(context.Background(), Message{UserIDs: []string{"u1", "u2"}, Title: "Alert", Body: "b"}))
	assert.Equal(t, []string{"callpanion/notifications/u1", "callpanion/notifications/u2"}, pub.topics)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &payload))
	assert.Equal(t, "Alert", payload["title"])
}

func TestMQTTDispatcher_JoinsErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	err := NewMQTTDispatcher(pub, 0).Send(context.Background(), Message{UserIDs: []string{"u1", "u2"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u1")
	assert.Contains(t, err.Error(), "u2")
}

func TestMQTTDeviceChannel_DeliverPairing(t *testing.T) {
	pub := &fakePublisher{}
	ch := NewMQTTDeviceChannel(pub, 1)
	ticket := PairingTicket{PairingID: "p1", HouseholdID: "h1", RelativeID: "r1", Token: "abc", ExpiresAt: time.Now()}

	require.NoError(t, ch.DeliverPairing(context.Background(), ticket))
	require.Len(t, pub.topics, 1)
	assert.Equal(t, "callpanion/devices/r1/pairing", pub.topics[0])
	assert.Contains(t, string(pub.payloads[0]), `"pairing_token":"abc"`)
}

func TestMultiDispatcher_ContinuesAfterFailure(t *testing.T) {
	failing := &failingDispatcher{}
	pub := &fakePublisher{}
	m := MultiDispatcher{failing, NewMQTTDispatcher(pub, 0)}

	err := m.Send(context.Background(), Message{UserIDs: []string{"u1"}})
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Len(t, pub.topics, 1)
}

func TestBestEffort_SwallowsErrors(t *testing.T) {
	failing := &failingDispatcher{}
	b := NewBestEffort(failing, nil, zap.NewNop())

	assert.False(t, b.Send(context.Background(), "call_status", Message{UserIDs: []string{"u1"}}))
	assert.True(t, b.Send(context.Background(), "call_status", Message{}))
	assert.Equal(t, 1, failing.calls)

	assert.True(t, NewBestEffort(nil, nil, zap.NewNop()).Send(context.Background(), "x", Message{UserIDs: []string{"u1"}}))
}

func TestBestEffort_LogsDispatchFailureKind(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := NewBestEffort(&failingDispatcher{}, nil, zap.New(core))

	assert.False(t, b.Send(context.Background(), "alert_rule", Message{UserIDs: []string{"u1", "u2"}}))

	entries := logs.FilterMessage("Notification dispatch failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "notification_dispatch_failure", fields["kind"])
	assert.Equal(t, "alert_rule", fields["source"])
	assert.EqualValues(t, 2, fields["recipients"])
}
