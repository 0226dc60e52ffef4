package models

import (
	"encoding/json"
	"time"
)

// EventType 分发事件类型
type EventType string

const (
	EventViolationRaised       EventType = "violation_raised"
	EventViolationAcknowledged EventType = "violation_acknowledged"
	EventViolationResolved     EventType = "violation_resolved"
	EventAlertRaised           EventType = "alert_raised"
	EventAlertAcknowledged     EventType = "alert_acknowledged"
	EventAlertResolved         EventType = "alert_resolved"
	EventResyncRequired        EventType = "resync_required" // 队列溢出后要求订阅者重新拉取快照
)

// TrackingEvent 报警生命周期事件（推送给在线订阅者 + Redis Stream）
// 路由规则：订阅者角色与 TargetRoles 有交集，且 SiteID 在其站点范围内
type TrackingEvent struct {
	EventType   EventType       `json:"event_type"`
	Seq         uint64          `json:"seq"` // 发布序号（同一实体的事件按因果序发布）
	TenantID    string          `json:"tenant_id"`
	SiteID      string          `json:"site_id"`
	EntityID    string          `json:"entity_id"` // violation_id 或 alert_id
	TargetRoles []string        `json:"target_roles"`
	Payload     json.RawMessage `json:"payload"`
	EmittedAt   time.Time       `json:"emitted_at"`
}
