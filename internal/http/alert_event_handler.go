package httpapi

import (
	"encoding/json"
	"net/http"

	"callpanion-core/internal/config"
	"callpanion-core/internal/service"

	"go.uber.org/zap"
)

// AlertEventHandler 领域事件入口。
// 用户端带 Bearer token，只能提交自己所在家庭的事件；内部服务带 X-Webhook-Secret。
type AlertEventHandler struct {
	alerts        service.AlertRuleService
	auth          Authenticator
	webhookSecret string
	guard         Guard
	logger        *zap.Logger
}

func NewAlertEventHandler(alerts service.AlertRuleService, auth Authenticator, webhookSecret string, guard Guard, logger *zap.Logger) *AlertEventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertEventHandler{alerts: alerts, auth: auth, webhookSecret: webhookSecret, guard: guard, logger: logger}
}

// ProcessEvent POST /family/api/v1/alerts/events
func (h *AlertEventHandler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	identifier := ""
	if r.Header.Get("X-Webhook-Secret") != "" {
		if err := webhookAuthorized(r, h.webhookSecret); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	} else {
		userID, err := h.auth.UserIDFromRequest(r)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		identifier = userID
	}
	if err := enforce(h.guard, r, config.EndpointProcessEvent, identifier); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var payload struct {
		Type        string          `json:"type"`
		HouseholdID string          `json:"household_id"`
		RelativeID  *string         `json:"relative_id"`
		Data        json.RawMessage `json:"data"`
		EventID     string          `json:"event_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.alerts.ProcessEvent(r.Context(), service.ProcessEventRequest{
		Type:        payload.Type,
		HouseholdID: payload.HouseholdID,
		RelativeID:  payload.RelativeID,
		Data:        payload.Data,
		EventID:     payload.EventID,
		CallerID:    identifier,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}
