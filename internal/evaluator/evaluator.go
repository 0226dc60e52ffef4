package evaluator

import (
	"context"
	"fmt"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/consumer"
	"wisefido-tracking/internal/models"

	"go.uber.org/zap"
)

// Evaluator 地理围栏评估器
// 对每条样本计算区域包含状态，产出 ENTRY/EXIT/DWELL_TIME/UNAUTHORIZED_ACCESS 转换。
// 包含状态翻转经过消抖窗口确认后才生效（见 config.Tracking.Evaluator）。
// 调用方保证同一 agent 的样本按 captured_at 顺序串行进入。
type Evaluator struct {
	config       *config.Config
	stateManager *consumer.StateManager
	zoneCache    *ZoneCache
	logger       *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(
	cfg *config.Config,
	stateManager *consumer.StateManager,
	zoneCache *ZoneCache,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		config:       cfg,
		stateManager: stateManager,
		zoneCache:    zoneCache,
		logger:       logger,
	}
}

// Evaluate 评估一条样本，返回区域转换列表
// 单个区域评估失败只跳过该区域，不中断整条样本
func (e *Evaluator) Evaluate(ctx context.Context, sample *models.LocationSample) ([]models.ZoneTransition, error) {
	if sample == nil {
		return nil, fmt.Errorf("sample is required")
	}

	zones := e.zoneCache.ZonesForSite(sample.SiteID)
	if len(zones) == 0 {
		return nil, nil
	}

	point := models.Point{Latitude: sample.Latitude, Longitude: sample.Longitude}

	var transitions []models.ZoneTransition
	for _, zone := range zones {
		zoneTransitions, err := e.evaluateZone(ctx, sample, zone, point)
		if err != nil {
			e.logger.Error("Failed to evaluate zone",
				zap.String("agent_id", sample.AgentID),
				zap.String("zone_id", zone.ZoneID),
				zap.Error(err),
			)
			continue
		}
		transitions = append(transitions, zoneTransitions...)
	}

	return transitions, nil
}

// evaluateZone 评估单个区域：消抖、转换判定、驻留、验证宽限期
func (e *Evaluator) evaluateZone(ctx context.Context, sample *models.LocationSample, zone *models.GeofenceZone, point models.Point) ([]models.ZoneTransition, error) {
	contained := ZoneContains(zone.Shape, point)
	capturedAt := sample.CapturedAt

	state, err := e.stateManager.GetZoneState(ctx, sample.AgentID, zone.ZoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load zone state: %w", err)
	}

	// 首次观察：以 outside 为基线建立状态，不产生转换
	// （状态可重建：首样本落在区域内时按候选 ENTRY 走消抖流程）
	if state == nil {
		state = &models.AgentZoneState{
			AgentID:   sample.AgentID,
			ZoneID:    zone.ZoneID,
			SiteID:    sample.SiteID,
			Inside:    false,
			SinceUnix: capturedAt.Unix(),
		}
	}

	var transitions []models.ZoneTransition

	if contained == state.Inside {
		// 包含状态未变：清除候选，只做记录更新
		state.PendingInside = nil
		state.PendingSince = 0
		state.PendingSamples = 0
	} else {
		// 候选翻转：需连续 ConfirmSamples 个样本或 DebounceSeconds 确认
		if state.PendingInside == nil || *state.PendingInside != contained {
			c := contained
			state.PendingInside = &c
			state.PendingSince = capturedAt.Unix()
			state.PendingSamples = 1
		} else {
			state.PendingSamples++
		}

		confirmed := state.PendingSamples >= e.config.Tracking.Evaluator.ConfirmSamples ||
			capturedAt.Unix()-state.PendingSince >= int64(e.config.Tracking.Evaluator.DebounceSeconds)

		if confirmed {
			// 翻转生效：状态起点取候选首次出现时间
			since := state.PendingSince
			state.Inside = contained
			state.SinceUnix = since
			state.PendingInside = nil
			state.PendingSince = 0
			state.PendingSamples = 0
			state.DwellFired = false

			if contained {
				if zone.Alerts.EntryAlert {
					transitions = append(transitions, models.ZoneTransition{
						AgentID:    sample.AgentID,
						SiteID:     sample.SiteID,
						ZoneID:     zone.ZoneID,
						Type:       models.TransitionEntry,
						OccurredAt: time.Unix(since, 0).UTC(),
						SampleID:   sample.SampleID,
					})
				}
				// 进入需验证区域：启动宽限期
				if zone.Validation.RequiresValidation {
					state.GraceDeadlineUnix = since + int64(zone.Validation.GracePeriodSeconds)
					state.Validated = false
				}
			} else {
				if zone.Alerts.ExitAlert {
					transitions = append(transitions, models.ZoneTransition{
						AgentID:    sample.AgentID,
						SiteID:     sample.SiteID,
						ZoneID:     zone.ZoneID,
						Type:       models.TransitionExit,
						OccurredAt: time.Unix(since, 0).UTC(),
						SampleID:   sample.SampleID,
					})
				}
				// 离开区域：清除宽限期
				state.GraceDeadlineUnix = 0
				state.Validated = false
			}
		}
	}

	state.LastSampleID = sample.SampleID

	// 驻留：每个连续 inside 周期只触发一次
	if state.Inside && zone.Alerts.DwellAlert && !state.DwellFired &&
		capturedAt.Unix()-state.SinceUnix >= int64(zone.Alerts.DwellThresholdSeconds) {
		state.DwellFired = true
		transitions = append(transitions, models.ZoneTransition{
			AgentID:    sample.AgentID,
			SiteID:     sample.SiteID,
			ZoneID:     zone.ZoneID,
			Type:       models.TransitionDwell,
			OccurredAt: capturedAt,
			SampleID:   sample.SampleID,
		})
	}

	// 验证宽限期到期且未验证：越权进入
	if state.Inside && state.GraceDeadlineUnix > 0 && !state.Validated &&
		capturedAt.Unix() >= state.GraceDeadlineUnix {
		state.GraceDeadlineUnix = 0
		transitions = append(transitions, models.ZoneTransition{
			AgentID:    sample.AgentID,
			SiteID:     sample.SiteID,
			ZoneID:     zone.ZoneID,
			Type:       models.TransitionUnauthorized,
			OccurredAt: capturedAt,
			SampleID:   sample.SampleID,
		})
	}

	if err := e.stateManager.SetZoneState(ctx, state); err != nil {
		return transitions, fmt.Errorf("failed to save zone state: %w", err)
	}

	return transitions, nil
}

// RecordValidation 记录区域进入验证（取消进行中的宽限期）
func (e *Evaluator) RecordValidation(ctx context.Context, agentID, zoneID string) error {
	state, err := e.stateManager.GetZoneState(ctx, agentID, zoneID)
	if err != nil {
		return fmt.Errorf("failed to load zone state: %w", err)
	}
	if state == nil {
		return fmt.Errorf("zone state for agent %s zone %s: %w", agentID, zoneID, models.ErrNotFound)
	}

	state.Validated = true
	state.GraceDeadlineUnix = 0

	if err := e.stateManager.SetZoneState(ctx, state); err != nil {
		return fmt.Errorf("failed to save zone state: %w", err)
	}

	e.logger.Info("Zone entry validated",
		zap.String("agent_id", agentID),
		zap.String("zone_id", zoneID),
	)

	return nil
}
