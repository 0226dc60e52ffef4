package models

import (
	"encoding/json"
	"time"
)

// ViolationStatus 违规状态
type ViolationStatus string

const (
	ViolationOpen          ViolationStatus = "OPEN"
	ViolationAcknowledged  ViolationStatus = "ACKNOWLEDGED"
	ViolationResolved      ViolationStatus = "RESOLVED"
	ViolationFalsePositive ViolationStatus = "FALSE_POSITIVE"
)

// IsTerminal 是否终态（终态后状态不再变化）
func (s ViolationStatus) IsTerminal() bool {
	return s == ViolationResolved || s == ViolationFalsePositive
}

// Severity 报警级别（与 owl 平台 alarm_level 词汇一致）
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityAlert   Severity = "ALERT"
	SeverityCrit    Severity = "CRIT"
)

// SeverityForTransition 转换类型到级别的映射
func SeverityForTransition(t TransitionType) Severity {
	switch t {
	case TransitionDwell:
		return SeverityAlert
	case TransitionUnauthorized:
		return SeverityCrit
	default:
		return SeverityWarning
	}
}

// GeofenceViolation 地理围栏违规记录（对应 geofence_violations 表）
// 不变式：同一 (agent, zone, type) 同时最多一条 OPEN 记录
type GeofenceViolation struct {
	ViolationID   string          `json:"violation_id" db:"violation_id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	SiteID        string          `json:"site_id" db:"site_id"`
	ZoneID        string          `json:"zone_id" db:"zone_id"`
	AgentID       string          `json:"agent_id" db:"agent_id"`
	ViolationType TransitionType  `json:"violation_type" db:"violation_type"`
	Severity      Severity        `json:"severity" db:"severity"`
	Status        ViolationStatus `json:"status" db:"status"`
	OccurredAt    time.Time       `json:"occurred_at" db:"occurred_at"`
	TriggerData   json.RawMessage `json:"trigger_data" db:"trigger_data"` // JSONB：触发样本快照
	AcknowledgedBy *string        `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedBy     *string        `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	Notes          *string        `json:"notes,omitempty" db:"notes"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}
