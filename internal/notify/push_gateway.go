package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// pushGatewayResponse 推送网关响应
type pushGatewayResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// PushGatewayDispatcher 通过 HTTP 推送网关投递移动端推送
type PushGatewayDispatcher struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewPushGatewayDispatcher(baseURL, apiKey string, timeout time.Duration, retryCount int, logger *zap.Logger) *PushGatewayDispatcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &PushGatewayDispatcher{
		httpClient: client,
		logger:     logger,
	}
}

func (d *PushGatewayDispatcher) Send(ctx context.Context, msg Message) error {
	if len(msg.UserIDs) == 0 {
		return nil
	}

	var response pushGatewayResponse
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&response).
		SetError(&response).
		Post("/v1/notifications")
	if err != nil {
		return fmt.Errorf("failed to call push gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push gateway error: %s (http %d)", response.Message, resp.StatusCode())
	}
	if response.Status != 0 {
		return fmt.Errorf("push gateway error: %s (status: %d)", response.Message, response.Status)
	}

	d.logger.Debug("Push notification accepted",
		zap.Int("recipients", len(msg.UserIDs)),
		zap.String("title", msg.Title),
	)
	return nil
}
