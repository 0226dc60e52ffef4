package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-tracking/internal/models"

	"go.uber.org/zap"
)

// LocationLogRepository 定位样本仓库（追加写入日志，location_log 表）
type LocationLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLocationLogRepository 创建定位样本仓库
func NewLocationLogRepository(db *sql.DB, logger *zap.Logger) *LocationLogRepository {
	return &LocationLogRepository{
		db:     db,
		logger: logger,
	}
}

// AppendSample 追加一条定位样本（不可变，只插入不更新）
func (r *LocationLogRepository) AppendSample(ctx context.Context, tenantID string, sample *models.LocationSample) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if sample == nil {
		return fmt.Errorf("sample is required")
	}
	if sample.TenantID != tenantID {
		return fmt.Errorf("sample.tenant_id must match tenant_id parameter")
	}

	query := `
		INSERT INTO location_log (
			sample_id,
			tenant_id,
			agent_id,
			site_id,
			latitude,
			longitude,
			accuracy_meters,
			captured_at,
			received_at,
			battery_level
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		sample.SampleID,
		sample.TenantID,
		sample.AgentID,
		sample.SiteID,
		sample.Latitude,
		sample.Longitude,
		sample.AccuracyMeters,
		sample.CapturedAt,
		sample.ReceivedAt,
		sample.BatteryLevel,
	)

	if err != nil {
		return fmt.Errorf("failed to append location sample: %w", err)
	}

	return nil
}

// GetLatestCapturedAt 获取某 agent 最后一条已接受样本的 captured_at
// 用于进程重启后重建乱序判断基线；没有样本时返回零值
func (r *LocationLogRepository) GetLatestCapturedAt(ctx context.Context, tenantID, agentID string) (time.Time, error) {
	if tenantID == "" {
		return time.Time{}, fmt.Errorf("tenant_id is required")
	}
	if agentID == "" {
		return time.Time{}, fmt.Errorf("agent_id is required")
	}

	query := `
		SELECT captured_at
		FROM location_log
		WHERE tenant_id = $1
		  AND agent_id = $2
		ORDER BY captured_at DESC
		LIMIT 1
	`

	var capturedAt time.Time
	err := r.db.QueryRowContext(ctx, query, tenantID, agentID).Scan(&capturedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get latest captured_at: %w", err)
	}

	return capturedAt, nil
}
