package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"wisefido-tracking/internal/lifecycle"
	"wisefido-tracking/internal/models"
	"wisefido-tracking/internal/repository"

	"go.uber.org/zap"
)

// ZoneInvalidator 区域定义变更通知（评估器快照失效）
type ZoneInvalidator interface {
	Invalidate()
}

// ValidationRecorder 区域进入验证记录（取消宽限期）
type ValidationRecorder interface {
	RecordValidation(ctx context.Context, agentID, zoneID string) error
}

// AdminHandler 违规/报警生命周期与区域管理的运维接口
type AdminHandler struct {
	machine        *lifecycle.Machine
	violationsRepo *repository.ViolationsRepository
	alertsRepo     *repository.AlertsRepository
	zones          ZoneInvalidator
	validations    ValidationRecorder
	tenantID       string
	logger         *zap.Logger
}

// NewAdminHandler 创建运维处理器
func NewAdminHandler(
	machine *lifecycle.Machine,
	violationsRepo *repository.ViolationsRepository,
	alertsRepo *repository.AlertsRepository,
	zones ZoneInvalidator,
	validations ValidationRecorder,
	tenantID string,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		machine:        machine,
		violationsRepo: violationsRepo,
		alertsRepo:     alertsRepo,
		zones:          zones,
		validations:    validations,
		tenantID:       tenantID,
		logger:         logger,
	}
}

type resolveRequest struct {
	Resolution string  `json:"resolution"` // RESOLVED | FALSE_ALARM
	Notes      *string `json:"notes,omitempty"`
}

// Violations /admin/api/v1/violations 与 /admin/api/v1/violations/{id}/{action}
func (h *AdminHandler) Violations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/admin/api/v1/violations" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.listViolations(w, r)
		return
	}

	id, action, ok := parseEntityAction(r.URL.Path, "/admin/api/v1/violations/")
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
		return
	}
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "acknowledge":
		violation, err := h.machine.AcknowledgeViolation(operatorContext(r), id, userIDFrom(r))
		if err != nil {
			h.writeLifecycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(violation))

	case "resolve":
		var req resolveRequest
		if err := readBodyJSON(r, 1<<20, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
			return
		}
		violation, err := h.machine.ResolveViolation(operatorContext(r), id, userIDFrom(r), models.Resolution(req.Resolution), req.Notes)
		if err != nil {
			h.writeLifecycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(violation))

	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

// Alerts /admin/api/v1/alerts 与 /admin/api/v1/alerts/{id}/{action}
func (h *AdminHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/admin/api/v1/alerts" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.listAlerts(w, r)
		return
	}

	id, action, ok := parseEntityAction(r.URL.Path, "/admin/api/v1/alerts/")
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
		return
	}
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "acknowledge":
		alert, err := h.machine.AcknowledgeAlert(operatorContext(r), id, userIDFrom(r))
		if err != nil {
			h.writeLifecycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(alert))

	case "resolve":
		var req resolveRequest
		if err := readBodyJSON(r, 1<<20, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
			return
		}
		alert, err := h.machine.ResolveAlert(operatorContext(r), id, userIDFrom(r), models.Resolution(req.Resolution))
		if err != nil {
			h.writeLifecycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(alert))

	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

func (h *AdminHandler) listViolations(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("site_id is required"))
		return
	}

	violations, err := h.violationsRepo.ListUnresolvedBySite(r.Context(), h.tenantID, siteID)
	if err != nil {
		h.logger.Error("Failed to list violations", zap.String("site_id", siteID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(violations))
}

func (h *AdminHandler) listAlerts(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("site_id is required"))
		return
	}

	alerts, err := h.alertsRepo.ListActiveBySite(r.Context(), h.tenantID, siteID)
	if err != nil {
		h.logger.Error("Failed to list alerts", zap.String("site_id", siteID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(alerts))
}

// RefreshZones POST /admin/api/v1/zones/refresh
// 区域定义在后台管理系统变更后调用，触发评估器快照重建
func (h *AdminHandler) RefreshZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	h.zones.Invalidate()
	writeJSON(w, http.StatusAccepted, Ok(map[string]any{"status": "refresh scheduled"}))
}

type validationRequest struct {
	AgentID string `json:"agent_id"`
	ZoneID  string `json:"zone_id"`
}

// RecordValidation POST /admin/api/v1/validations
// 记录 agent 的区域进入验证（取消进行中的宽限期）
func (h *AdminHandler) RecordValidation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req validationRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.AgentID == "" || req.ZoneID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("agent_id and zone_id are required"))
		return
	}

	if err := h.validations.RecordValidation(r.Context(), req.AgentID, req.ZoneID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("no pending validation for agent in zone"))
			return
		}
		h.logger.Error("Failed to record validation",
			zap.String("agent_id", req.AgentID),
			zap.String("zone_id", req.ZoneID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "validated"}))
}

// writeLifecycleError 生命周期错误到 HTTP 状态的映射
func (h *AdminHandler) writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, Fail("forbidden"))
	case errors.Is(err, models.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	default:
		h.logger.Error("Lifecycle operation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}

// parseEntityAction 解析 {prefix}{id}/{action}
func parseEntityAction(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
