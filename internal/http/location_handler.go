package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"wisefido-tracking/internal/consumer"
	"wisefido-tracking/internal/models"

	"go.uber.org/zap"
)

// LocationHandler 定位样本接入与查询
type LocationHandler struct {
	ingestor     *consumer.Ingestor
	cacheManager *consumer.CacheManager
	logger       *zap.Logger
}

// NewLocationHandler 创建接入处理器
func NewLocationHandler(ingestor *consumer.Ingestor, cacheManager *consumer.CacheManager, logger *zap.Logger) *LocationHandler {
	return &LocationHandler{
		ingestor:     ingestor,
		cacheManager: cacheManager,
		logger:       logger,
	}
}

type locationRequest struct {
	AgentID        string  `json:"agent_id"`
	SiteID         string  `json:"site_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters"`
	CapturedAt     string  `json:"captured_at"` // RFC3339
	BatteryLevel   *int    `json:"battery_level,omitempty"`
}

// SubmitLocation POST /api/v1/locations
// 202 已接受（异步评估）；400 校验失败；409 乱序样本
func (h *LocationHandler) SubmitLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	capturedAt, err := time.Parse(time.RFC3339, req.CapturedAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("captured_at must be RFC3339"))
		return
	}

	sample := &models.LocationSample{
		AgentID:        req.AgentID,
		SiteID:         req.SiteID,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.AccuracyMeters,
		CapturedAt:     capturedAt.UTC(),
		BatteryLevel:   req.BatteryLevel,
	}

	if err := h.ingestor.Ingest(r.Context(), sample); err != nil {
		var rejection *models.RejectionError
		if errors.As(err, &rejection) {
			status := http.StatusBadRequest
			if errors.Is(err, models.ErrStaleSample) {
				status = http.StatusConflict
			}
			writeJSON(w, status, Fail(rejection.Reason))
			return
		}

		h.logger.Error("Failed to ingest location sample",
			zap.String("agent_id", req.AgentID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}

	writeJSON(w, http.StatusAccepted, Ok(map[string]any{
		"sample_id": sample.SampleID,
		"status":    "accepted",
	}))
}

// GetAgentLocation GET /api/v1/agents/{agent_id}/location
// 返回该 agent 最近一次接受的样本（Redis 缓存）
func (h *LocationHandler) GetAgentLocation(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	agentID := strings.TrimSuffix(path, "/location")
	if agentID == "" || strings.Contains(agentID, "/") {
		writeJSON(w, http.StatusNotFound, Fail("agent not found"))
		return
	}

	sample, err := h.cacheManager.GetAgentLocation(r.Context(), agentID)
	if err != nil {
		h.logger.Error("Failed to read agent location",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}
	if sample == nil {
		writeJSON(w, http.StatusNotFound, Fail("no location for agent"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(sample))
}
