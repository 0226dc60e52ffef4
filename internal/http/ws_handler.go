package httpapi

import (
	"net/http"
	"strings"
	"time"

	"wisefido-tracking/internal/hub"
	"wisefido-tracking/internal/models"
	"wisefido-tracking/internal/repository"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler 在线订阅者接入
// 连接流程：注册订阅者（事件开始入队缓冲）→ 推送快照 → 启动投递循环。
// 快照与增量流之间无缝隙：快照读取期间产生的事件已在队列里等待。
type WSHandler struct {
	hub            *hub.Hub
	violationsRepo *repository.ViolationsRepository
	alertsRepo     *repository.AlertsRepository
	tenantID       string
	logger         *zap.Logger

	upgrader websocket.Upgrader
}

// snapshotMessage 连接时的初始状态快照
type snapshotMessage struct {
	Type       string                      `json:"type"` // "snapshot"
	Violations []*models.GeofenceViolation `json:"violations"`
	Alerts     []*models.EmergencyAlert    `json:"alerts"`
	TakenAt    time.Time                   `json:"taken_at"`
}

// NewWSHandler 创建订阅接入处理器
func NewWSHandler(
	h *hub.Hub,
	violationsRepo *repository.ViolationsRepository,
	alertsRepo *repository.AlertsRepository,
	tenantID string,
	logger *zap.Logger,
) *WSHandler {
	return &WSHandler{
		hub:            h,
		violationsRepo: violationsRepo,
		alertsRepo:     alertsRepo,
		tenantID:       tenantID,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 认证由上游网关完成，跨域检查交给网关
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe GET /api/v1/ws?user_id=...&roles=admin,supervisor&sites=site-1,site-2
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("user_id is required"))
		return
	}

	roles := splitParam(r.URL.Query().Get("roles"))
	if len(roles) == 0 {
		writeJSON(w, http.StatusBadRequest, Fail("roles is required"))
		return
	}

	sites := splitParam(r.URL.Query().Get("sites"))
	if len(sites) == 0 {
		writeJSON(w, http.StatusBadRequest, Fail("sites is required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	sub := h.hub.Subscribe(conn, userID, roles, sites)

	snapshot, err := h.buildSnapshot(r, sites)
	if err != nil {
		h.logger.Error("Failed to build snapshot",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		h.hub.Unsubscribe(sub.ID)
		return
	}

	if err := h.hub.SendDirect(sub, snapshot); err != nil {
		h.logger.Warn("Failed to send snapshot",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		h.hub.Unsubscribe(sub.ID)
		return
	}

	h.hub.StartWriter(sub)

	// 读循环只为感知断开（订阅者不上行业务数据）
	go h.readLoop(conn, sub.ID)
}

// buildSnapshot 汇总订阅站点的未终结违规与活跃报警
// 站点范围为 "*" 时跳过该通配项（快照只针对显式站点，通配订阅靠增量流）
func (h *WSHandler) buildSnapshot(r *http.Request, sites []string) (*snapshotMessage, error) {
	snapshot := &snapshotMessage{
		Type:       "snapshot",
		Violations: []*models.GeofenceViolation{},
		Alerts:     []*models.EmergencyAlert{},
		TakenAt:    time.Now().UTC(),
	}

	for _, siteID := range sites {
		if siteID == "*" {
			continue
		}

		violations, err := h.violationsRepo.ListUnresolvedBySite(r.Context(), h.tenantID, siteID)
		if err != nil {
			return nil, err
		}
		snapshot.Violations = append(snapshot.Violations, violations...)

		alerts, err := h.alertsRepo.ListActiveBySite(r.Context(), h.tenantID, siteID)
		if err != nil {
			return nil, err
		}
		snapshot.Alerts = append(snapshot.Alerts, alerts...)
	}

	return snapshot, nil
}

func (h *WSHandler) readLoop(conn *websocket.Conn, subscriberID string) {
	defer h.hub.Unsubscribe(subscriberID)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func splitParam(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
