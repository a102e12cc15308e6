package notify

import (
	"context"

	"callpanion-core/internal/domain"
	"callpanion-core/internal/metrics"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Message 推送给一组家庭成员的通知
type Message struct {
	UserIDs []string          `json:"user_ids"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// Dispatcher 通知投递通道；实现方不保证送达
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// MultiDispatcher 依次投递到所有通道，汇总错误
type MultiDispatcher []Dispatcher

func (m MultiDispatcher) Send(ctx context.Context, msg Message) error {
	var errs error
	for _, d := range m {
		errs = multierr.Append(errs, d.Send(ctx, msg))
	}
	return errs
}

// NopDispatcher 未配置任何通道时使用
type NopDispatcher struct {
	Logger *zap.Logger
}

func (n NopDispatcher) Send(_ context.Context, msg Message) error {
	if n.Logger != nil {
		n.Logger.Debug("No notification channel configured, dropping message",
			zap.Int("recipients", len(msg.UserIDs)),
			zap.String("title", msg.Title),
		)
	}
	return nil
}

// BestEffort 主写入提交之后的通知发送：失败只记录日志和指标，从不向上返回
type BestEffort struct {
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewBestEffort(d Dispatcher, m *metrics.Metrics, logger *zap.Logger) *BestEffort {
	if d == nil {
		d = NopDispatcher{Logger: logger}
	}
	return &BestEffort{dispatcher: d, metrics: m, logger: logger}
}

// Send 返回是否投递成功，供调用方记录
func (b *BestEffort) Send(ctx context.Context, source string, msg Message) bool {
	if len(msg.UserIDs) == 0 {
		return true
	}
	if err := b.dispatcher.Send(ctx, msg); err != nil {
		de := domain.DispatchFailure("notification dispatch failed", err)
		b.metrics.DispatchFailed(source)
		b.logger.Warn("Notification dispatch failed",
			zap.String("source", source),
			zap.String("kind", string(de.Kind)),
			zap.Int("recipients", len(msg.UserIDs)),
			zap.Error(de),
		)
		return false
	}
	return true
}
