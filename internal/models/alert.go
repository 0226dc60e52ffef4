package models

import (
	"encoding/json"
	"time"
)

// AlertStatus 紧急报警状态
type AlertStatus string

const (
	AlertActive       AlertStatus = "ACTIVE"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
)

// IsTerminal 是否终态
func (s AlertStatus) IsTerminal() bool {
	return s == AlertResolved
}

// Resolution 处理结论
type Resolution string

const (
	ResolutionResolved   Resolution = "RESOLVED"
	ResolutionFalseAlarm Resolution = "FALSE_ALARM"
)

// EmergencyAlert 紧急报警（对应 emergency_alerts 表）
// 一条报警对应 0 或 1 条违规（agent 主动触发的 SOS 没有违规来源）
type EmergencyAlert struct {
	AlertID           string          `json:"alert_id" db:"alert_id"`
	TenantID          string          `json:"tenant_id" db:"tenant_id"`
	SiteID            string          `json:"site_id" db:"site_id"`
	AgentID           string          `json:"agent_id" db:"agent_id"`
	SourceViolationID *string         `json:"source_violation_id,omitempty" db:"source_violation_id"`
	Severity          Severity        `json:"severity" db:"severity"`
	Status            AlertStatus     `json:"status" db:"status"`
	TriggerData       json.RawMessage `json:"trigger_data" db:"trigger_data"` // JSONB
	AcknowledgedBy    *string         `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt    *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedBy        *string         `json:"resolved_by,omitempty" db:"resolved_by"`
	Resolution        *Resolution     `json:"resolution,omitempty" db:"resolution"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}
