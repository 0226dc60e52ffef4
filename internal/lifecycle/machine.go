package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/metrics"
	"wisefido-tracking/internal/models"
	"wisefido-tracking/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher 生命周期事件出口（Dispatch Hub、Redis Stream）
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *models.TrackingEvent)
}

// AlertNotifier 紧急报警外部通知出口（webhook）
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *models.EmergencyAlert)
}

// Authorizer 外部鉴权协作方：校验用户是否具备确认/处理能力
type Authorizer interface {
	Authorize(ctx context.Context, userID, capability string) error
}

// SiteAlertCache 站点活跃报警镜像（下游聚合服务只读缓存，不访问数据库）
type SiteAlertCache interface {
	UpdateSiteAlerts(ctx context.Context, siteID string, alerts []*models.EmergencyAlert) error
}

// 能力名
const (
	CapabilityAcknowledge = "tracking:acknowledge"
	CapabilityResolve     = "tracking:resolve"
)

// 事件的目标角色集（内容路由过滤的依据）
var defaultTargetRoles = []string{"admin", "supervisor"}

// Machine 违规与报警状态机
// 违规：OPEN → {ACKNOWLEDGED → RESOLVED, RESOLVED, FALSE_POSITIVE}
// 报警：ACTIVE → ACKNOWLEDGED → RESOLVED
// 同一实体的变更按实体加锁串行；状态写入走仓库 CAS，并发只有一个赢家；
// CAS 输家重读当前状态返回（容忍客户端重试），不覆盖数据
type Machine struct {
	config         *config.Config
	violationsRepo *repository.ViolationsRepository
	alertsRepo     *repository.AlertsRepository
	publishers     []EventPublisher
	notifier       AlertNotifier
	alertCache     SiteAlertCache
	authorizer     Authorizer
	logger         *zap.Logger
	tenantID       string

	locks *entityLocks
}

// NewMachine 创建状态机
func NewMachine(
	cfg *config.Config,
	violationsRepo *repository.ViolationsRepository,
	alertsRepo *repository.AlertsRepository,
	authorizer Authorizer,
	logger *zap.Logger,
	tenantID string,
) *Machine {
	return &Machine{
		config:         cfg,
		violationsRepo: violationsRepo,
		alertsRepo:     alertsRepo,
		authorizer:     authorizer,
		logger:         logger,
		tenantID:       tenantID,
		locks:          newEntityLocks(),
	}
}

// AddPublisher 注册事件出口
func (m *Machine) AddPublisher(p EventPublisher) {
	m.publishers = append(m.publishers, p)
}

// SetNotifier 设置外部通知出口
func (m *Machine) SetNotifier(n AlertNotifier) {
	m.notifier = n
}

// SetAlertCache 设置站点活跃报警镜像
func (m *Machine) SetAlertCache(c SiteAlertCache) {
	m.alertCache = c
}

// ============================================
// 违规生命周期
// ============================================

// RaiseViolation 由区域转换创建违规（幂等）
// 同一 (agent, zone, type) 已有未终结违规时为 no-op，返回已存在的记录
func (m *Machine) RaiseViolation(ctx context.Context, t models.ZoneTransition) (*models.GeofenceViolation, bool, error) {
	now := time.Now().UTC()
	severity := models.SeverityForTransition(t.Type)

	triggerData, err := json.Marshal(map[string]interface{}{
		"sample_id":   t.SampleID,
		"occurred_at": t.OccurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	violation := &models.GeofenceViolation{
		ViolationID:   uuid.New().String(),
		TenantID:      m.tenantID,
		SiteID:        t.SiteID,
		ZoneID:        t.ZoneID,
		AgentID:       t.AgentID,
		ViolationType: t.Type,
		Severity:      severity,
		Status:        models.ViolationOpen,
		OccurredAt:    t.OccurredAt,
		TriggerData:   triggerData,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// 创建与发布也在实体锁内完成：确认/处理并发到达时不会先于 raised 事件发布
	unlock := m.locks.lock(violation.ViolationID)
	defer unlock()

	created, err := m.violationsRepo.CreateViolationIfAbsent(ctx, m.tenantID, violation)
	if err != nil {
		return nil, false, fmt.Errorf("failed to raise violation: %w", err)
	}

	if !created {
		// 重复投递：返回已存在的未终结违规
		existing, err := m.violationsRepo.FindActiveViolation(ctx, m.tenantID, t.AgentID, t.ZoneID, t.Type)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	m.logger.Info("Violation raised",
		zap.String("violation_id", violation.ViolationID),
		zap.String("agent_id", violation.AgentID),
		zap.String("zone_id", violation.ZoneID),
		zap.String("violation_type", string(violation.ViolationType)),
		zap.String("severity", string(violation.Severity)),
	)

	m.publish(ctx, models.EventViolationRaised, violation.SiteID, violation.ViolationID, violation)

	// 级别达到紧急阈值：1:1 镜像紧急报警
	if severity == models.SeverityCrit {
		if _, err := m.raiseMirroredAlert(ctx, violation); err != nil {
			m.logger.Error("Failed to raise mirrored alert",
				zap.String("violation_id", violation.ViolationID),
				zap.Error(err),
			)
		}
	}

	return violation, true, nil
}

// AcknowledgeViolation 确认违规（OPEN → ACKNOWLEDGED）
// 终态或已确认时幂等返回当前状态；镜像报警同步确认
func (m *Machine) AcknowledgeViolation(ctx context.Context, violationID, userID string) (*models.GeofenceViolation, error) {
	if err := m.authorize(ctx, userID, CapabilityAcknowledge); err != nil {
		return nil, err
	}

	unlock := m.locks.lock(violationID)
	defer unlock()

	now := time.Now().UTC()
	updated, err := m.violationsRepo.AcknowledgeViolation(ctx, m.tenantID, violationID, userID, now)
	if err != nil {
		return nil, err
	}

	violation, err := m.violationsRepo.GetViolation(ctx, m.tenantID, violationID)
	if err != nil {
		return nil, err
	}

	if !updated {
		// CAS 输家：实体已被确认或已终结，返回当前状态（不自动重试）
		return violation, nil
	}

	m.logger.Info("Violation acknowledged",
		zap.String("violation_id", violationID),
		zap.String("user_id", userID),
	)

	m.publish(ctx, models.EventViolationAcknowledged, violation.SiteID, violationID, violation)

	m.mirrorAlertAcknowledge(ctx, violation, userID, now)

	return violation, nil
}

// ResolveViolation 处理违规（OPEN/ACKNOWLEDGED → RESOLVED|FALSE_POSITIVE）
// 终态单调：已终结的记录原样返回；镜像报警同步处理
func (m *Machine) ResolveViolation(ctx context.Context, violationID, userID string, resolution models.Resolution, notes *string) (*models.GeofenceViolation, error) {
	if err := m.authorize(ctx, userID, CapabilityResolve); err != nil {
		return nil, err
	}

	status, err := violationStatusForResolution(resolution)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.lock(violationID)
	defer unlock()

	now := time.Now().UTC()
	updated, err := m.violationsRepo.ResolveViolation(ctx, m.tenantID, violationID, userID, status, notes, now)
	if err != nil {
		return nil, err
	}

	violation, err := m.violationsRepo.GetViolation(ctx, m.tenantID, violationID)
	if err != nil {
		return nil, err
	}

	if !updated {
		// 并发处理只有一个赢家；输家拿到已终结的当前状态
		return violation, nil
	}

	m.logger.Info("Violation resolved",
		zap.String("violation_id", violationID),
		zap.String("user_id", userID),
		zap.String("status", string(violation.Status)),
	)

	m.publish(ctx, models.EventViolationResolved, violation.SiteID, violationID, violation)

	m.mirrorAlertResolve(ctx, violation, userID, resolution, now)

	return violation, nil
}

// violationStatusForResolution 处理结论到违规终态的映射
func violationStatusForResolution(resolution models.Resolution) (models.ViolationStatus, error) {
	switch resolution {
	case models.ResolutionResolved:
		return models.ViolationResolved, nil
	case models.ResolutionFalseAlarm:
		return models.ViolationFalsePositive, nil
	default:
		return "", fmt.Errorf("resolution %q: %w", resolution, models.ErrInvalidTransition)
	}
}

// ============================================
// 报警生命周期
// ============================================

// raiseMirroredAlert 由违规镜像紧急报警（source_violation_id 幂等）
func (m *Machine) raiseMirroredAlert(ctx context.Context, violation *models.GeofenceViolation) (*models.EmergencyAlert, error) {
	now := time.Now().UTC()
	violationID := violation.ViolationID

	alert := &models.EmergencyAlert{
		AlertID:           uuid.New().String(),
		TenantID:          m.tenantID,
		SiteID:            violation.SiteID,
		AgentID:           violation.AgentID,
		SourceViolationID: &violationID,
		Severity:          violation.Severity,
		Status:            models.AlertActive,
		TriggerData:       violation.TriggerData,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := m.alertsRepo.CreateAlert(ctx, m.tenantID, alert)
	if err != nil {
		return nil, err
	}
	if !created {
		return m.alertsRepo.GetAlertByViolation(ctx, m.tenantID, violationID)
	}

	metrics.AlertsRaised.Inc()
	m.logger.Info("Emergency alert raised",
		zap.String("alert_id", alert.AlertID),
		zap.String("source_violation_id", violationID),
		zap.String("severity", string(alert.Severity)),
	)

	m.publish(ctx, models.EventAlertRaised, alert.SiteID, alert.AlertID, alert)
	m.notify(ctx, alert)
	m.refreshSiteAlerts(ctx, alert.SiteID)

	return alert, nil
}

// RaiseManualAlert agent 主动触发的紧急报警（SOS，无违规来源）
func (m *Machine) RaiseManualAlert(ctx context.Context, agentID, siteID string, triggerData json.RawMessage) (*models.EmergencyAlert, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent_id is required")
	}
	if siteID == "" {
		return nil, fmt.Errorf("site_id is required")
	}
	if len(triggerData) == 0 {
		triggerData = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	alert := &models.EmergencyAlert{
		AlertID:     uuid.New().String(),
		TenantID:    m.tenantID,
		SiteID:      siteID,
		AgentID:     agentID,
		Severity:    models.SeverityCrit,
		Status:      models.AlertActive,
		TriggerData: triggerData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	unlock := m.locks.lock(alert.AlertID)
	defer unlock()

	if _, err := m.alertsRepo.CreateAlert(ctx, m.tenantID, alert); err != nil {
		return nil, err
	}

	metrics.AlertsRaised.Inc()
	m.logger.Info("Manual emergency alert raised",
		zap.String("alert_id", alert.AlertID),
		zap.String("agent_id", agentID),
	)

	m.publish(ctx, models.EventAlertRaised, alert.SiteID, alert.AlertID, alert)
	m.notify(ctx, alert)
	m.refreshSiteAlerts(ctx, alert.SiteID)

	return alert, nil
}

// AcknowledgeAlert 确认报警（ACTIVE → ACKNOWLEDGED），终态幂等返回当前状态
func (m *Machine) AcknowledgeAlert(ctx context.Context, alertID, userID string) (*models.EmergencyAlert, error) {
	if err := m.authorize(ctx, userID, CapabilityAcknowledge); err != nil {
		return nil, err
	}

	unlock := m.locks.lock(alertID)
	defer unlock()

	now := time.Now().UTC()
	updated, err := m.alertsRepo.AcknowledgeAlert(ctx, m.tenantID, alertID, userID, now)
	if err != nil {
		return nil, err
	}

	alert, err := m.alertsRepo.GetAlert(ctx, m.tenantID, alertID)
	if err != nil {
		return nil, err
	}

	if !updated {
		return alert, nil
	}

	m.logger.Info("Alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("user_id", userID),
	)

	m.publish(ctx, models.EventAlertAcknowledged, alert.SiteID, alertID, alert)
	m.refreshSiteAlerts(ctx, alert.SiteID)

	return alert, nil
}

// ResolveAlert 处理报警（ACTIVE/ACKNOWLEDGED → RESOLVED），终态幂等返回当前状态
func (m *Machine) ResolveAlert(ctx context.Context, alertID, userID string, resolution models.Resolution) (*models.EmergencyAlert, error) {
	if err := m.authorize(ctx, userID, CapabilityResolve); err != nil {
		return nil, err
	}
	if resolution != models.ResolutionResolved && resolution != models.ResolutionFalseAlarm {
		return nil, fmt.Errorf("resolution %q: %w", resolution, models.ErrInvalidTransition)
	}

	unlock := m.locks.lock(alertID)
	defer unlock()

	now := time.Now().UTC()
	updated, err := m.alertsRepo.ResolveAlert(ctx, m.tenantID, alertID, userID, resolution, now)
	if err != nil {
		return nil, err
	}

	alert, err := m.alertsRepo.GetAlert(ctx, m.tenantID, alertID)
	if err != nil {
		return nil, err
	}

	if !updated {
		return alert, nil
	}

	m.logger.Info("Alert resolved",
		zap.String("alert_id", alertID),
		zap.String("user_id", userID),
		zap.String("resolution", string(resolution)),
	)

	m.publish(ctx, models.EventAlertResolved, alert.SiteID, alertID, alert)
	m.refreshSiteAlerts(ctx, alert.SiteID)

	return alert, nil
}

// ============================================
// 镜像与出口
// ============================================

// mirrorAlertAcknowledge 违规确认后同步确认其镜像报警
func (m *Machine) mirrorAlertAcknowledge(ctx context.Context, violation *models.GeofenceViolation, userID string, at time.Time) {
	alert, err := m.alertsRepo.GetAlertByViolation(ctx, m.tenantID, violation.ViolationID)
	if err != nil {
		m.logger.Error("Failed to load mirrored alert",
			zap.String("violation_id", violation.ViolationID),
			zap.Error(err),
		)
		return
	}
	if alert == nil {
		return
	}

	updated, err := m.alertsRepo.AcknowledgeAlert(ctx, m.tenantID, alert.AlertID, userID, at)
	if err != nil {
		m.logger.Error("Failed to acknowledge mirrored alert",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
		return
	}
	if !updated {
		return
	}

	if refreshed, err := m.alertsRepo.GetAlert(ctx, m.tenantID, alert.AlertID); err == nil {
		m.publish(ctx, models.EventAlertAcknowledged, refreshed.SiteID, refreshed.AlertID, refreshed)
		m.refreshSiteAlerts(ctx, refreshed.SiteID)
	}
}

// mirrorAlertResolve 违规处理后同步处理其镜像报警
func (m *Machine) mirrorAlertResolve(ctx context.Context, violation *models.GeofenceViolation, userID string, resolution models.Resolution, at time.Time) {
	alert, err := m.alertsRepo.GetAlertByViolation(ctx, m.tenantID, violation.ViolationID)
	if err != nil {
		m.logger.Error("Failed to load mirrored alert",
			zap.String("violation_id", violation.ViolationID),
			zap.Error(err),
		)
		return
	}
	if alert == nil {
		return
	}

	updated, err := m.alertsRepo.ResolveAlert(ctx, m.tenantID, alert.AlertID, userID, resolution, at)
	if err != nil {
		m.logger.Error("Failed to resolve mirrored alert",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
		return
	}
	if !updated {
		return
	}

	if refreshed, err := m.alertsRepo.GetAlert(ctx, m.tenantID, alert.AlertID); err == nil {
		m.publish(ctx, models.EventAlertResolved, refreshed.SiteID, refreshed.AlertID, refreshed)
		m.refreshSiteAlerts(ctx, refreshed.SiteID)
	}
}

// publish 构建事件并推给所有出口（出口内部各自处理失败，不回传）
func (m *Machine) publish(ctx context.Context, eventType models.EventType, siteID, entityID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("Failed to marshal event payload",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return
	}

	event := &models.TrackingEvent{
		EventType:   eventType,
		TenantID:    m.tenantID,
		SiteID:      siteID,
		EntityID:    entityID,
		TargetRoles: defaultTargetRoles,
		Payload:     data,
		EmittedAt:   time.Now().UTC(),
	}

	for _, p := range m.publishers {
		p.PublishEvent(ctx, event)
	}
}

// notify 紧急报警外部通知（可选出口）
func (m *Machine) notify(ctx context.Context, alert *models.EmergencyAlert) {
	if m.notifier == nil {
		return
	}
	m.notifier.NotifyAlert(ctx, alert)
}

// refreshSiteAlerts 重建站点活跃报警镜像（报警状态变化后调用，失败只记日志）
func (m *Machine) refreshSiteAlerts(ctx context.Context, siteID string) {
	if m.alertCache == nil {
		return
	}

	alerts, err := m.alertsRepo.ListActiveBySite(ctx, m.tenantID, siteID)
	if err != nil {
		m.logger.Warn("Failed to load active alerts for cache refresh",
			zap.String("site_id", siteID),
			zap.Error(err),
		)
		return
	}

	if err := m.alertCache.UpdateSiteAlerts(ctx, siteID, alerts); err != nil {
		m.logger.Warn("Failed to refresh site alert cache",
			zap.String("site_id", siteID),
			zap.Error(err),
		)
	}
}

// authorize 委托外部鉴权
func (m *Machine) authorize(ctx context.Context, userID, capability string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required: %w", models.ErrUnauthorized)
	}
	if m.authorizer == nil {
		return nil
	}
	if err := m.authorizer.Authorize(ctx, userID, capability); err != nil {
		return fmt.Errorf("user %s lacks %s: %w", userID, capability, models.ErrUnauthorized)
	}
	return nil
}
