package models

import (
	"time"
)

// LocationSample 定位样本（对应 location_log 表，追加写入，不可变）
// 排序键是 captured_at（设备时钟），不是到达顺序
type LocationSample struct {
	SampleID       string    `json:"sample_id" db:"sample_id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	AgentID        string    `json:"agent_id" db:"agent_id"`
	SiteID         string    `json:"site_id" db:"site_id"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters" db:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at" db:"captured_at"`
	ReceivedAt     time.Time `json:"received_at" db:"received_at"`
	BatteryLevel   *int      `json:"battery_level,omitempty" db:"battery_level"`
}

// AgentZoneState 每个 (agent, zone) 的瞬态状态（存 Redis，可从 location_log 重建）
// 唯一写入者是该 agent 的 worker（单写入者原则）
type AgentZoneState struct {
	AgentID string `json:"agent_id"`
	ZoneID  string `json:"zone_id"`
	SiteID  string `json:"site_id"`

	// 当前已确认的包含状态
	Inside       bool  `json:"inside"`
	SinceUnix    int64 `json:"since_unix"`     // 当前状态开始时间（captured_at）
	LastSampleID string `json:"last_sample_id"`

	// 消抖（hysteresis）记录：候选状态需连续确认才生效
	PendingInside  *bool `json:"pending_inside,omitempty"`
	PendingSince   int64 `json:"pending_since,omitempty"`   // 候选状态首次出现时间
	PendingSamples int   `json:"pending_samples,omitempty"` // 候选状态连续样本数

	// 驻留（dwell）记录：每个连续 inside 周期只触发一次
	DwellFired bool `json:"dwell_fired"`

	// 验证宽限期记录（requires_validation 区域）
	GraceDeadlineUnix int64 `json:"grace_deadline_unix,omitempty"` // 0 表示无待验证
	Validated         bool  `json:"validated"`
}

// TransitionType 区域转换类型
type TransitionType string

const (
	TransitionEntry        TransitionType = "ENTRY"
	TransitionExit         TransitionType = "EXIT"
	TransitionDwell        TransitionType = "DWELL_TIME"
	TransitionUnauthorized TransitionType = "UNAUTHORIZED_ACCESS"
)

// ZoneTransition 评估器输出的区域转换
type ZoneTransition struct {
	AgentID    string         `json:"agent_id"`
	SiteID     string         `json:"site_id"`
	ZoneID     string         `json:"zone_id"`
	Type       TransitionType `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	SampleID   string         `json:"sample_id"`
}
