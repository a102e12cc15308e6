package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqttcommon "callpanion-core/internal/common/mqtt"
	"callpanion-core/internal/domain"
	"callpanion-core/internal/service"

	"go.uber.org/zap"
)

// CallStatusTopic 呼叫服务商通过 MQTT 推送的状态事件，中间段为 session_id
const CallStatusTopic = "callpanion/calls/+/status"

// handleTimeout 单条消息处理超时
const handleTimeout = 10 * time.Second

// Subscriber MQTT 订阅能力（mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// CallStatusMessage 状态事件负载
type CallStatusMessage struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	CallUUID  *string `json:"call_uuid,omitempty"`
	Duration  *int    `json:"duration,omitempty"`
}

// CallEventBroker 订阅呼叫状态事件并转给 CallSessionService
type CallEventBroker struct {
	subscriber Subscriber
	calls      service.CallSessionService
	qos        byte
	logger     *zap.Logger
	ctx        context.Context
}

func NewCallEventBroker(subscriber Subscriber, calls service.CallSessionService, qos byte, logger *zap.Logger) *CallEventBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallEventBroker{
		subscriber: subscriber,
		calls:      calls,
		qos:        qos,
		logger:     logger,
		ctx:        context.Background(),
	}
}

// Start 订阅主题；ctx 取消后正在处理的消息随之取消
func (b *CallEventBroker) Start(ctx context.Context) error {
	b.ctx = ctx
	if err := b.subscriber.Subscribe(CallStatusTopic, b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to call status topic: %w", err)
	}
	b.logger.Info("Call event broker started", zap.String("topic", CallStatusTopic))
	return nil
}

// Stop 取消订阅
func (b *CallEventBroker) Stop() {
	if err := b.subscriber.Unsubscribe(CallStatusTopic); err != nil {
		b.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	b.logger.Info("Call event broker stopped")
}

// handleMessage 返回的错误由 mqttcommon.Client 记录，不影响后续消息
func (b *CallEventBroker) handleMessage(topic string, payload []byte) error {
	var msg CallStatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal call status message: %w", err)
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionIDFromTopic(topic)
	}

	ctx, cancel := context.WithTimeout(b.ctx, handleTimeout)
	defer cancel()

	resp, err := b.calls.UpdateStatus(ctx, service.UpdateCallStatusRequest{
		SessionID: msg.SessionID,
		Status:    msg.Status,
		CallUUID:  msg.CallUUID,
		Duration:  msg.Duration,
	})
	if err != nil {
		// 会话不存在或参数错误重试也不会成功，只记录
		if kind := domain.KindOf(err); kind == domain.KindNotFound || kind == domain.KindInvalidArgument {
			b.logger.Warn("Dropping call status message",
				zap.String("session_id", msg.SessionID),
				zap.String("status", msg.Status),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("failed to update call status for session %s: %w", msg.SessionID, err)
	}

	b.logger.Debug("Call status applied",
		zap.String("session_id", resp.SessionID),
		zap.String("status", resp.Status),
		zap.String("call_outcome", resp.CallOutcome),
	)
	return nil
}

// sessionIDFromTopic callpanion/calls/<session_id>/status
func sessionIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[0] == "callpanion" && parts[1] == "calls" && parts[3] == "status" {
		return parts[2]
	}
	return ""
}
