package httpapi

import (
	"encoding/json"
	"net/http"

	"wisefido-tracking/internal/lifecycle"

	"go.uber.org/zap"
)

// EmergencyHandler agent 主动紧急报警（SOS）
type EmergencyHandler struct {
	machine *lifecycle.Machine
	logger  *zap.Logger
}

// NewEmergencyHandler 创建紧急报警处理器
func NewEmergencyHandler(machine *lifecycle.Machine, logger *zap.Logger) *EmergencyHandler {
	return &EmergencyHandler{
		machine: machine,
		logger:  logger,
	}
}

type emergencyRequest struct {
	AgentID     string          `json:"agent_id"`
	SiteID      string          `json:"site_id"`
	TriggerData json.RawMessage `json:"trigger_data,omitempty"`
}

// RaiseEmergency POST /api/v1/emergency
func (h *EmergencyHandler) RaiseEmergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.AgentID == "" || req.SiteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("agent_id and site_id are required"))
		return
	}

	alert, err := h.machine.RaiseManualAlert(r.Context(), req.AgentID, req.SiteID, req.TriggerData)
	if err != nil {
		h.logger.Error("Failed to raise manual alert",
			zap.String("agent_id", req.AgentID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusCreated, Ok(alert))
}
