package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Publisher MQTT 发布能力（common/mqtt.Client 满足该接口）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

const (
	notificationTopicFmt  = "callpanion/notifications/%s"
	devicePairingTopicFmt = "callpanion/devices/%s/pairing"
)

// inAppNotification 应用内通知负载
type inAppNotification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// MQTTDispatcher 每个收件人一条消息，发往其个人主题
type MQTTDispatcher struct {
	pub Publisher
	qos byte
}

func NewMQTTDispatcher(pub Publisher, qos byte) *MQTTDispatcher {
	return &MQTTDispatcher{pub: pub, qos: qos}
}

func (d *MQTTDispatcher) Send(_ context.Context, msg Message) error {
	payload, err := json.Marshal(inAppNotification{Title: msg.Title, Body: msg.Body, Data: msg.Data})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	var errs error
	for _, userID := range msg.UserIDs {
		if err := d.pub.Publish(fmt.Sprintf(notificationTopicFmt, userID), d.qos, false, payload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish to %s: %w", userID, err))
		}
	}
	return errs
}

// PairingTicket 下发给亲属设备的配对凭证
type PairingTicket struct {
	PairingID   string    `json:"pairing_id"`
	HouseholdID string    `json:"household_id"`
	RelativeID  string    `json:"relative_id"`
	Token       string    `json:"pairing_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DeviceChannel 配对凭证下发通道
type DeviceChannel interface {
	DeliverPairing(ctx context.Context, ticket PairingTicket) error
}

// MQTTDeviceChannel 发布到 callpanion/devices/<relative_id>/pairing
type MQTTDeviceChannel struct {
	pub Publisher
	qos byte
}

func NewMQTTDeviceChannel(pub Publisher, qos byte) *MQTTDeviceChannel {
	return &MQTTDeviceChannel{pub: pub, qos: qos}
}

func (c *MQTTDeviceChannel) DeliverPairing(_ context.Context, ticket PairingTicket) error {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("marshal pairing ticket: %w", err)
	}
	return c.pub.Publish(fmt.Sprintf(devicePairingTopicFmt, ticket.RelativeID), c.qos, false, payload)
}

// NopDeviceChannel MQTT 未启用时使用；设备通过配对码查询获取凭证
type NopDeviceChannel struct{}

func (NopDeviceChannel) DeliverPairing(context.Context, PairingTicket) error { return nil }
