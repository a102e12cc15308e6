package httpapi

import (
	"net/http"

	"callpanion-core/internal/config"
	"callpanion-core/internal/service"

	"go.uber.org/zap"
)

// CallStatusHandler 呼叫服务商状态回调（共享密钥鉴权）
type CallStatusHandler struct {
	calls         service.CallSessionService
	webhookSecret string
	guard         Guard
	logger        *zap.Logger
}

func NewCallStatusHandler(calls service.CallSessionService, webhookSecret string, guard Guard, logger *zap.Logger) *CallStatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallStatusHandler{calls: calls, webhookSecret: webhookSecret, guard: guard, logger: logger}
}

// UpdateStatus POST /family/api/v1/calls/status
func (h *CallStatusHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if err := webhookAuthorized(r, h.webhookSecret); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := enforce(h.guard, r, config.EndpointCallStatus, ""); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var payload struct {
		SessionID string  `json:"sessionId"`
		Status    string  `json:"status"`
		CallUUID  *string `json:"callUuid"`
		Duration  *int    `json:"duration"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.calls.UpdateStatus(r.Context(), service.UpdateCallStatusRequest{
		SessionID: payload.SessionID,
		Status:    payload.Status,
		CallUUID:  payload.CallUUID,
		Duration:  payload.Duration,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}
