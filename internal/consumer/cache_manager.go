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

// CacheManager Redis 缓存管理器（最新位置 + 站点活跃报警镜像）
// 下游聚合服务只读这两类键，不访问 PostgreSQL
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// UpdateAgentLocation 更新 agent 最新位置缓存
func (c *CacheManager) UpdateAgentLocation(ctx context.Context, sample *models.LocationSample) error {
	if sample == nil {
		return fmt.Errorf("sample is required")
	}

	key := fmt.Sprintf("%s%s%s",
		c.config.Tracking.Cache.LocationKeyPrefix,
		sample.AgentID,
		c.config.Tracking.Cache.LocationSuffix,
	)

	jsonData, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal location sample: %w", err)
	}

	ttl := time.Duration(c.config.Tracking.Cache.StateTTL) * time.Second
	if err := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set location cache: %w", err)
	}

	return nil
}

// GetAgentLocation 读取 agent 最新位置；不存在时返回 nil
func (c *CacheManager) GetAgentLocation(ctx context.Context, agentID string) (*models.LocationSample, error) {
	key := fmt.Sprintf("%s%s%s",
		c.config.Tracking.Cache.LocationKeyPrefix,
		agentID,
		c.config.Tracking.Cache.LocationSuffix,
	)

	val, err := c.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get location cache: %w", err)
	}

	var sample models.LocationSample
	if err := json.Unmarshal([]byte(val), &sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location sample: %w", err)
	}

	return &sample, nil
}

// UpdateSiteAlerts 更新站点活跃报警缓存（带短 TTL）
func (c *CacheManager) UpdateSiteAlerts(ctx context.Context, siteID string, alerts []*models.EmergencyAlert) error {
	key := fmt.Sprintf("%s%s%s",
		c.config.Tracking.Cache.AlertKeyPrefix,
		siteID,
		c.config.Tracking.Cache.AlertSuffix,
	)

	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	ttl := time.Duration(c.config.Tracking.Cache.AlertTTL) * time.Second
	if err := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}

	c.logger.Debug("Updated site alert cache",
		zap.String("site_id", siteID),
		zap.Int("alert_count", len(alerts)),
	)

	return nil
}
