package consumer

import (
	"context"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/metrics"
	"wisefido-tracking/internal/models"

	"go.uber.org/zap"
)

// GraceSweeper 验证宽限期巡检器
// 评估器只在样本到达时检查宽限期；agent 进入需验证区域后停止上报时，
// 由巡检器按墙钟时间兜底触发越权进入
type GraceSweeper struct {
	config       *config.Config
	stateManager *StateManager
	handler      TransitionHandler
	logger       *zap.Logger
}

// NewGraceSweeper 创建巡检器
func NewGraceSweeper(
	cfg *config.Config,
	stateManager *StateManager,
	handler TransitionHandler,
	logger *zap.Logger,
) *GraceSweeper {
	return &GraceSweeper{
		config:       cfg,
		stateManager: stateManager,
		handler:      handler,
		logger:       logger,
	}
}

// Start 启动巡检循环（阻塞，通常在独立 goroutine 中运行）
func (s *GraceSweeper) Start(ctx context.Context) {
	interval := time.Duration(s.config.Tracking.Evaluator.GraceSweepSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Grace period sweeper started",
		zap.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep 扫描所有区域状态，处理已到期的验证宽限期
func (s *GraceSweeper) sweep(ctx context.Context) {
	states, err := s.stateManager.ListAllZoneStates(ctx)
	if err != nil {
		s.logger.Error("Failed to scan zone states for grace sweep", zap.Error(err))
		return
	}

	now := time.Now().UTC().Unix()

	for _, state := range states {
		if !state.Inside || state.Validated || state.GraceDeadlineUnix == 0 ||
			now < state.GraceDeadlineUnix {
			continue
		}

		deadline := state.GraceDeadlineUnix

		// 先清除 deadline 再触发：失败时下一轮会因 deadline 已清而不重复触发，
		// 但 RaiseViolation 本身幂等，清除顺序只是避免重复日志
		state.GraceDeadlineUnix = 0
		if err := s.stateManager.SetZoneState(ctx, state); err != nil {
			s.logger.Error("Failed to clear grace deadline",
				zap.String("agent_id", state.AgentID),
				zap.String("zone_id", state.ZoneID),
				zap.Error(err),
			)
			continue
		}

		transition := models.ZoneTransition{
			AgentID:    state.AgentID,
			SiteID:     state.SiteID,
			ZoneID:     state.ZoneID,
			Type:       models.TransitionUnauthorized,
			OccurredAt: time.Unix(deadline, 0).UTC(),
			SampleID:   state.LastSampleID,
		}

		_, created, err := s.handler.RaiseViolation(ctx, transition)
		if err != nil {
			s.logger.Error("Failed to raise unauthorized access violation",
				zap.String("agent_id", state.AgentID),
				zap.String("zone_id", state.ZoneID),
				zap.Error(err),
			)
			continue
		}
		if created {
			metrics.ViolationsRaised.Inc()
			s.logger.Warn("Validation grace period expired",
				zap.String("agent_id", state.AgentID),
				zap.String("zone_id", state.ZoneID),
			)
		}
	}
}
