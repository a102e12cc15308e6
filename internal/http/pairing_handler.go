package httpapi

import (
	"net/http"

	"callpanion-core/internal/config"
	"callpanion-core/internal/service"

	"go.uber.org/zap"
)

// PairingHandler 配对与认领
type PairingHandler struct {
	pairing service.PairingService
	claims  service.ClaimService
	auth    Authenticator
	guard   Guard
	logger  *zap.Logger
}

func NewPairingHandler(pairing service.PairingService, claims service.ClaimService, auth Authenticator, guard Guard, logger *zap.Logger) *PairingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PairingHandler{pairing: pairing, claims: claims, auth: auth, guard: guard, logger: logger}
}

// Initiate POST /family/api/v1/pairing/initiate
func (h *PairingHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserIDFromRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := enforce(h.guard, r, config.EndpointInitiatePairing, userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var payload struct {
		RelativeID string `json:"relative_id"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.pairing.InitiatePairing(r.Context(), service.InitiatePairingRequest{
		UserID:     userID,
		RelativeID: payload.RelativeID,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// Lookup POST /family/api/v1/pairing/lookup（设备端，无用户身份，按 IP 限流）
func (h *PairingHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if err := enforce(h.guard, r, config.EndpointLookupPairing, ""); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var payload struct {
		PairingCode string `json:"pairing_code"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.pairing.LookupPairing(r.Context(), service.LookupPairingRequest{PairingCode: payload.PairingCode})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// Claim POST /family/api/v1/pairing/claim
func (h *PairingHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserIDFromRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := enforce(h.guard, r, config.EndpointClaimAccess, userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var payload struct {
		PairingToken string `json:"pairingToken"`
		HouseholdID  string `json:"householdId"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.claims.ClaimAccess(r.Context(), service.ClaimAccessRequest{
		UserID:       userID,
		PairingToken: payload.PairingToken,
		HouseholdID:  payload.HouseholdID,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}
