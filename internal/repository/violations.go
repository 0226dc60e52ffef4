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

// ViolationsRepository 地理围栏违规仓库（geofence_violations 表）
// 状态变更全部走 CAS（WHERE status = 期望值），并发写只有一个赢家
type ViolationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewViolationsRepository 创建违规仓库
func NewViolationsRepository(db *sql.DB, logger *zap.Logger) *ViolationsRepository {
	return &ViolationsRepository{
		db:     db,
		logger: logger,
	}
}

const violationColumns = `
	violation_id,
	tenant_id,
	site_id,
	zone_id,
	agent_id,
	violation_type,
	severity,
	status,
	occurred_at,
	trigger_data,
	acknowledged_by,
	acknowledged_at,
	resolved_by,
	resolved_at,
	notes,
	created_at,
	updated_at
`

// CreateViolationIfAbsent 创建违规记录（幂等）
// 同一 (agent, zone, type) 已有未终结（OPEN/ACKNOWLEDGED）记录时不插入，返回 false。
// 重复投递同一 ENTRY 转换不会产生第二条记录。
func (r *ViolationsRepository) CreateViolationIfAbsent(ctx context.Context, tenantID string, v *models.GeofenceViolation) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if v == nil {
		return false, fmt.Errorf("violation is required")
	}
	if v.TenantID != tenantID {
		return false, fmt.Errorf("violation.tenant_id must match tenant_id parameter")
	}

	query := `
		INSERT INTO geofence_violations (
			violation_id,
			tenant_id,
			site_id,
			zone_id,
			agent_id,
			violation_type,
			severity,
			status,
			occurred_at,
			trigger_data,
			notes,
			created_at,
			updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		WHERE NOT EXISTS (
			SELECT 1 FROM geofence_violations
			WHERE tenant_id = $2
			  AND agent_id = $5
			  AND zone_id = $4
			  AND violation_type = $6
			  AND status IN ('OPEN', 'ACKNOWLEDGED')
		)
	`

	result, err := r.db.ExecContext(ctx,
		query,
		v.ViolationID,
		v.TenantID,
		v.SiteID,
		v.ZoneID,
		v.AgentID,
		v.ViolationType,
		v.Severity,
		v.Status,
		v.OccurredAt,
		v.TriggerData,
		v.Notes,
		v.CreatedAt,
		v.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create violation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// GetViolation 根据 violation_id 获取单条违规（需验证 tenant_id）
func (r *ViolationsRepository) GetViolation(ctx context.Context, tenantID, violationID string) (*models.GeofenceViolation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if violationID == "" {
		return nil, fmt.Errorf("violation_id is required")
	}

	query := `
		SELECT ` + violationColumns + `
		FROM geofence_violations
		WHERE violation_id = $1
		  AND tenant_id = $2
	`

	row := r.db.QueryRowContext(ctx, query, violationID, tenantID)
	v, err := scanViolationRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("violation %s: %w", violationID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}

	return v, nil
}

// FindActiveViolation 查找 (agent, zone, type) 的未终结违规，不存在时返回 nil
func (r *ViolationsRepository) FindActiveViolation(ctx context.Context, tenantID, agentID, zoneID string, vtype models.TransitionType) (*models.GeofenceViolation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT ` + violationColumns + `
		FROM geofence_violations
		WHERE tenant_id = $1
		  AND agent_id = $2
		  AND zone_id = $3
		  AND violation_type = $4
		  AND status IN ('OPEN', 'ACKNOWLEDGED')
		ORDER BY occurred_at DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, query, tenantID, agentID, zoneID, vtype)
	v, err := scanViolationRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active violation: %w", err)
	}

	return v, nil
}

// AcknowledgeViolation 确认违规（CAS：仅 OPEN → ACKNOWLEDGED）
// 返回 false 表示 CAS 失败（状态已不是 OPEN），调用方应重读当前状态
func (r *ViolationsRepository) AcknowledgeViolation(ctx context.Context, tenantID, violationID, userID string, at time.Time) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if violationID == "" {
		return false, fmt.Errorf("violation_id is required")
	}
	if userID == "" {
		return false, fmt.Errorf("user_id is required")
	}

	query := `
		UPDATE geofence_violations
		SET status = 'ACKNOWLEDGED',
		    acknowledged_by = $1,
		    acknowledged_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE violation_id = $3
		  AND tenant_id = $4
		  AND status = 'OPEN'
	`

	result, err := r.db.ExecContext(ctx, query, userID, at, violationID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge violation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ResolveViolation 处理违规（CAS：OPEN/ACKNOWLEDGED → RESOLVED|FALSE_POSITIVE）
// 终态单调：已终结的记录不会被改写，返回 false
func (r *ViolationsRepository) ResolveViolation(ctx context.Context, tenantID, violationID, userID string, status models.ViolationStatus, notes *string, at time.Time) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if violationID == "" {
		return false, fmt.Errorf("violation_id is required")
	}
	if userID == "" {
		return false, fmt.Errorf("user_id is required")
	}
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %s is not a terminal status", status)
	}

	query := `
		UPDATE geofence_violations
		SET status = $1,
		    resolved_by = $2,
		    resolved_at = $3,
		    notes = COALESCE($4, notes),
		    updated_at = CURRENT_TIMESTAMP
		WHERE violation_id = $5
		  AND tenant_id = $6
		  AND status IN ('OPEN', 'ACKNOWLEDGED')
	`

	result, err := r.db.ExecContext(ctx, query, status, userID, at, notes, violationID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve violation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListUnresolvedBySite 列出站点内所有未终结的违规（订阅者连接时的快照）
func (r *ViolationsRepository) ListUnresolvedBySite(ctx context.Context, tenantID, siteID string) ([]*models.GeofenceViolation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if siteID == "" {
		return nil, fmt.Errorf("site_id is required")
	}

	query := `
		SELECT ` + violationColumns + `
		FROM geofence_violations
		WHERE tenant_id = $1
		  AND site_id = $2
		  AND status IN ('OPEN', 'ACKNOWLEDGED')
		ORDER BY occurred_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved violations: %w", err)
	}
	defer rows.Close()

	var violations []*models.GeofenceViolation
	for rows.Next() {
		v, err := scanViolationRows(rows)
		if err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate violations: %w", err)
	}

	return violations, nil
}

// rowScanner 统一 QueryRow / Rows 的扫描
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanViolation(s rowScanner) (*models.GeofenceViolation, error) {
	var v models.GeofenceViolation
	var triggerData []byte
	var acknowledgedBy, resolvedBy, notes sql.NullString
	var acknowledgedAt, resolvedAt sql.NullTime

	err := s.Scan(
		&v.ViolationID,
		&v.TenantID,
		&v.SiteID,
		&v.ZoneID,
		&v.AgentID,
		&v.ViolationType,
		&v.Severity,
		&v.Status,
		&v.OccurredAt,
		&triggerData,
		&acknowledgedBy,
		&acknowledgedAt,
		&resolvedBy,
		&resolvedAt,
		&notes,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if acknowledgedBy.Valid {
		v.AcknowledgedBy = &acknowledgedBy.String
	}
	if acknowledgedAt.Valid {
		v.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedBy.Valid {
		v.ResolvedBy = &resolvedBy.String
	}
	if resolvedAt.Valid {
		v.ResolvedAt = &resolvedAt.Time
	}
	if notes.Valid {
		v.Notes = &notes.String
	}

	// 处理 JSONB 字段
	if len(triggerData) > 0 {
		v.TriggerData = triggerData
	} else {
		v.TriggerData = json.RawMessage("{}")
	}

	return &v, nil
}

func scanViolationRow(row *sql.Row) (*models.GeofenceViolation, error) {
	return scanViolation(row)
}

func scanViolationRows(rows *sql.Rows) (*models.GeofenceViolation, error) {
	v, err := scanViolation(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan violation: %w", err)
	}
	return v, nil
}
