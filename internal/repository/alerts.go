package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-tracking/internal/models"

	"go.uber.org/zap"
)

// AlertsRepository 紧急报警仓库（emergency_alerts 表）
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建紧急报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	alert_id,
	tenant_id,
	site_id,
	agent_id,
	source_violation_id,
	severity,
	status,
	trigger_data,
	acknowledged_by,
	acknowledged_at,
	resolved_by,
	resolution,
	resolved_at,
	created_at,
	updated_at
`

// CreateAlert 创建紧急报警
// source_violation_id 非空时幂等：同一违规已有报警则不插入，返回 false
func (r *AlertsRepository) CreateAlert(ctx context.Context, tenantID string, alert *models.EmergencyAlert) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if alert == nil {
		return false, fmt.Errorf("alert is required")
	}
	if alert.TenantID != tenantID {
		return false, fmt.Errorf("alert.tenant_id must match tenant_id parameter")
	}

	query := `
		INSERT INTO emergency_alerts (
			alert_id,
			tenant_id,
			site_id,
			agent_id,
			source_violation_id,
			severity,
			status,
			trigger_data,
			created_at,
			updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE $5::text IS NULL OR NOT EXISTS (
			SELECT 1 FROM emergency_alerts
			WHERE tenant_id = $2
			  AND source_violation_id = $5
		)
	`

	result, err := r.db.ExecContext(ctx,
		query,
		alert.AlertID,
		alert.TenantID,
		alert.SiteID,
		alert.AgentID,
		alert.SourceViolationID,
		alert.Severity,
		alert.Status,
		alert.TriggerData,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// GetAlert 根据 alert_id 获取单条报警（需验证 tenant_id）
func (r *AlertsRepository) GetAlert(ctx context.Context, tenantID, alertID string) (*models.EmergencyAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM emergency_alerts
		WHERE alert_id = $1
		  AND tenant_id = $2
	`

	row := r.db.QueryRowContext(ctx, query, alertID, tenantID)
	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// GetAlertByViolation 获取某违规镜像出的报警，不存在时返回 nil
func (r *AlertsRepository) GetAlertByViolation(ctx context.Context, tenantID, violationID string) (*models.EmergencyAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if violationID == "" {
		return nil, fmt.Errorf("violation_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM emergency_alerts
		WHERE tenant_id = $1
		  AND source_violation_id = $2
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, query, tenantID, violationID)
	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert by violation: %w", err)
	}

	return alert, nil
}

// AcknowledgeAlert 确认报警（CAS：仅 ACTIVE → ACKNOWLEDGED）
func (r *AlertsRepository) AcknowledgeAlert(ctx context.Context, tenantID, alertID, userID string, at time.Time) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return false, fmt.Errorf("alert_id is required")
	}
	if userID == "" {
		return false, fmt.Errorf("user_id is required")
	}

	query := `
		UPDATE emergency_alerts
		SET status = 'ACKNOWLEDGED',
		    acknowledged_by = $1,
		    acknowledged_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $3
		  AND tenant_id = $4
		  AND status = 'ACTIVE'
	`

	result, err := r.db.ExecContext(ctx, query, userID, at, alertID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ResolveAlert 处理报警（CAS：ACTIVE/ACKNOWLEDGED → RESOLVED）
func (r *AlertsRepository) ResolveAlert(ctx context.Context, tenantID, alertID, userID string, resolution models.Resolution, at time.Time) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return false, fmt.Errorf("alert_id is required")
	}
	if userID == "" {
		return false, fmt.Errorf("user_id is required")
	}
	if resolution != models.ResolutionResolved && resolution != models.ResolutionFalseAlarm {
		return false, fmt.Errorf("invalid resolution: %s", resolution)
	}

	query := `
		UPDATE emergency_alerts
		SET status = 'RESOLVED',
		    resolved_by = $1,
		    resolution = $2,
		    resolved_at = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $4
		  AND tenant_id = $5
		  AND status IN ('ACTIVE', 'ACKNOWLEDGED')
	`

	result, err := r.db.ExecContext(ctx, query, userID, resolution, at, alertID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListActiveBySite 列出站点内所有未终结的报警（订阅者连接时的快照）
func (r *AlertsRepository) ListActiveBySite(ctx context.Context, tenantID, siteID string) ([]*models.EmergencyAlert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if siteID == "" {
		return nil, fmt.Errorf("site_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM emergency_alerts
		WHERE tenant_id = $1
		  AND site_id = $2
		  AND status IN ('ACTIVE', 'ACKNOWLEDGED')
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.EmergencyAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

func scanAlert(s rowScanner) (*models.EmergencyAlert, error) {
	var alert models.EmergencyAlert
	var triggerData []byte
	var sourceViolationID, acknowledgedBy, resolvedBy, resolution sql.NullString
	var acknowledgedAt, resolvedAt sql.NullTime

	err := s.Scan(
		&alert.AlertID,
		&alert.TenantID,
		&alert.SiteID,
		&alert.AgentID,
		&sourceViolationID,
		&alert.Severity,
		&alert.Status,
		&triggerData,
		&acknowledgedBy,
		&acknowledgedAt,
		&resolvedBy,
		&resolution,
		&resolvedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if sourceViolationID.Valid {
		alert.SourceViolationID = &sourceViolationID.String
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = &acknowledgedBy.String
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = &resolvedBy.String
	}
	if resolution.Valid {
		res := models.Resolution(resolution.String)
		alert.Resolution = &res
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}

	// 处理 JSONB 字段
	if len(triggerData) > 0 {
		alert.TriggerData = triggerData
	} else {
		alert.TriggerData = json.RawMessage("{}")
	}

	return &alert, nil
}
