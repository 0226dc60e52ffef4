package models

import (
	"time"
)

// ShapeType 区域几何类型
type ShapeType string

const (
	ShapeCircle  ShapeType = "circle"
	ShapePolygon ShapeType = "polygon"
)

// Point 经纬度点（WGS84）
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ZoneShape 区域几何（circle 或 polygon 二选一）
type ZoneShape struct {
	Type         ShapeType `json:"type"`
	Center       *Point    `json:"center,omitempty"`        // circle
	RadiusMeters float64   `json:"radius_meters,omitempty"` // circle
	Vertices     []Point   `json:"vertices,omitempty"`      // polygon
}

// AlertSettings 区域报警设置
type AlertSettings struct {
	EntryAlert            bool `json:"entry_alert"`
	ExitAlert             bool `json:"exit_alert"`
	DwellAlert            bool `json:"dwell_alert"`
	DwellThresholdSeconds int  `json:"dwell_threshold_seconds"`
}

// ValidationSettings 区域进入验证设置
type ValidationSettings struct {
	RequiresValidation bool   `json:"requires_validation"`
	Method             string `json:"method"` // badge, pin, supervisor
	GracePeriodSeconds int    `json:"grace_period_seconds"`
}

// GeofenceZone 地理围栏区域（对应 geofence_zones 表）
// 由管理端维护，引擎内只读；一次评估使用一个不可变快照
type GeofenceZone struct {
	ZoneID     string             `json:"zone_id" db:"zone_id"`
	TenantID   string             `json:"tenant_id" db:"tenant_id"`
	SiteID     string             `json:"site_id" db:"site_id"`
	ZoneName   string             `json:"zone_name" db:"zone_name"`
	Shape      ZoneShape          `json:"shape" db:"shape"` // JSONB
	IsActive   bool               `json:"is_active" db:"is_active"`
	Alerts     AlertSettings      `json:"alert_settings" db:"alert_settings"` // JSONB
	Validation ValidationSettings `json:"validation" db:"validation"`         // JSONB
	UpdatedAt  time.Time          `json:"updated_at" db:"updated_at"`
}
