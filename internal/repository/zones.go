package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-tracking/internal/models"

	"go.uber.org/zap"
)

// ZonesRepository 地理围栏区域仓库（geofence_zones 表，引擎内只读）
// 区域由管理端 CRUD 维护，本服务只加载活跃区域构建评估快照
type ZonesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewZonesRepository 创建区域仓库
func NewZonesRepository(db *sql.DB, logger *zap.Logger) *ZonesRepository {
	return &ZonesRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveZones 加载租户的所有活跃区域（供 ZoneCache 快照刷新）
func (r *ZonesRepository) ListActiveZones(ctx context.Context, tenantID string) ([]*models.GeofenceZone, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT
			zone_id,
			tenant_id,
			site_id,
			zone_name,
			shape,
			is_active,
			alert_settings,
			validation,
			updated_at
		FROM geofence_zones
		WHERE tenant_id = $1
		  AND is_active = true
		ORDER BY site_id, zone_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active zones: %w", err)
	}
	defer rows.Close()

	var zones []*models.GeofenceZone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zones: %w", err)
	}

	return zones, nil
}

// ListActiveZonesBySite 加载单个站点的活跃区域
func (r *ZonesRepository) ListActiveZonesBySite(ctx context.Context, tenantID, siteID string) ([]*models.GeofenceZone, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if siteID == "" {
		return nil, fmt.Errorf("site_id is required")
	}

	query := `
		SELECT
			zone_id,
			tenant_id,
			site_id,
			zone_name,
			shape,
			is_active,
			alert_settings,
			validation,
			updated_at
		FROM geofence_zones
		WHERE tenant_id = $1
		  AND site_id = $2
		  AND is_active = true
		ORDER BY zone_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active zones for site: %w", err)
	}
	defer rows.Close()

	var zones []*models.GeofenceZone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zones: %w", err)
	}

	return zones, nil
}

// scanZone 扫描一行区域记录（shape/alert_settings/validation 为 JSONB）
func scanZone(rows *sql.Rows) (*models.GeofenceZone, error) {
	var zone models.GeofenceZone
	var shapeJSON, alertsJSON, validationJSON []byte

	err := rows.Scan(
		&zone.ZoneID,
		&zone.TenantID,
		&zone.SiteID,
		&zone.ZoneName,
		&shapeJSON,
		&zone.IsActive,
		&alertsJSON,
		&validationJSON,
		&zone.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan zone: %w", err)
	}

	if err := json.Unmarshal(shapeJSON, &zone.Shape); err != nil {
		return nil, fmt.Errorf("failed to unmarshal zone shape: %w", err)
	}
	if len(alertsJSON) > 0 {
		if err := json.Unmarshal(alertsJSON, &zone.Alerts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert settings: %w", err)
		}
	}
	if len(validationJSON) > 0 {
		if err := json.Unmarshal(validationJSON, &zone.Validation); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation settings: %w", err)
		}
	}

	return &zone, nil
}
