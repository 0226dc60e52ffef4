package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StateManager 区域状态管理器（AgentZoneState 存 Redis）
// 状态是派生的瞬态数据，丢失后可从 location_log 重建；
// 每个 (agent, zone) 的状态只有该 agent 的 worker 一个写入者
type StateManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewStateManager 创建状态管理器
func NewStateManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *StateManager {
	return &StateManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// GetStateKey 构建状态键
func (s *StateManager) GetStateKey(agentID, zoneID string) string {
	return fmt.Sprintf("%s%s:zone_%s",
		s.config.Tracking.Cache.StateKeyPrefix,
		agentID,
		zoneID,
	)
}

// GetZoneState 获取某 (agent, zone) 的状态；不存在时返回 nil
func (s *StateManager) GetZoneState(ctx context.Context, agentID, zoneID string) (*models.AgentZoneState, error) {
	key := s.GetStateKey(agentID, zoneID)

	val, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get zone state: %w", err)
	}

	var state models.AgentZoneState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal zone state: %w", err)
	}

	return &state, nil
}

// SetZoneState 写入某 (agent, zone) 的状态（带 TTL）
func (s *StateManager) SetZoneState(ctx context.Context, state *models.AgentZoneState) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}

	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal zone state: %w", err)
	}

	key := s.GetStateKey(state.AgentID, state.ZoneID)
	ttl := time.Duration(s.config.Tracking.Cache.StateTTL) * time.Second

	if err := s.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set zone state: %w", err)
	}

	return nil
}

// DeleteZoneState 删除某 (agent, zone) 的状态
func (s *StateManager) DeleteZoneState(ctx context.Context, agentID, zoneID string) error {
	key := s.GetStateKey(agentID, zoneID)
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete zone state: %w", err)
	}
	return nil
}

// ListAllZoneStates 扫描所有区域状态（供验证宽限期巡检器遍历）
func (s *StateManager) ListAllZoneStates(ctx context.Context) ([]*models.AgentZoneState, error) {
	pattern := s.config.Tracking.Cache.StateKeyPrefix + "*"

	var states []*models.AgentZoneState
	iter := s.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.redisClient.Get(ctx, iter.Val()).Result()
		if err != nil {
			if err == redis.Nil {
				continue // 键在扫描和读取之间过期
			}
			return nil, fmt.Errorf("failed to get zone state %s: %w", iter.Val(), err)
		}

		var state models.AgentZoneState
		if err := json.Unmarshal([]byte(val), &state); err != nil {
			s.logger.Warn("Skipping unparsable zone state",
				zap.String("key", iter.Val()),
				zap.Error(err),
			)
			continue
		}
		states = append(states, &state)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan zone states: %w", err)
	}

	return states, nil
}
