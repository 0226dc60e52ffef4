package evaluator

import (
	"context"
	"sync"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/models"
	"wisefido-tracking/internal/repository"

	"go.uber.org/zap"
)

// zoneSnapshot 一次性加载的不可变区域快照
// 评估过程持有快照指针，区域编辑不会破坏进行中的评估
type zoneSnapshot struct {
	version     int64
	zonesBySite map[string][]*models.GeofenceZone
}

// ZoneCache 区域快照缓存（定时刷新 + 显式失效）
type ZoneCache struct {
	config    *config.Config
	zonesRepo *repository.ZonesRepository
	logger    *zap.Logger
	tenantID  string

	mu       sync.RWMutex
	snapshot *zoneSnapshot

	invalidate chan struct{}
}

// NewZoneCache 创建区域快照缓存
func NewZoneCache(
	cfg *config.Config,
	zonesRepo *repository.ZonesRepository,
	logger *zap.Logger,
	tenantID string,
) *ZoneCache {
	return &ZoneCache{
		config:     cfg,
		zonesRepo:  zonesRepo,
		logger:     logger,
		tenantID:   tenantID,
		snapshot:   &zoneSnapshot{zonesBySite: map[string][]*models.GeofenceZone{}},
		invalidate: make(chan struct{}, 1),
	}
}

// Start 启动刷新循环（立即加载一次，然后按间隔或失效信号刷新）
func (c *ZoneCache) Start(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Error("Failed to load zones on startup",
			zap.Error(err),
		)
	}

	interval := time.Duration(c.config.Tracking.Evaluator.ZoneRefreshSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.invalidate:
		}

		if err := c.Refresh(ctx); err != nil {
			c.logger.Error("Failed to refresh zones",
				zap.Error(err),
			)
			// 保留旧快照，下个周期再试
		}
	}
}

// Refresh 重新加载区域并原子替换快照
func (c *ZoneCache) Refresh(ctx context.Context) error {
	zones, err := c.zonesRepo.ListActiveZones(ctx, c.tenantID)
	if err != nil {
		return err
	}

	bySite := make(map[string][]*models.GeofenceZone)
	for _, zone := range zones {
		bySite[zone.SiteID] = append(bySite[zone.SiteID], zone)
	}

	c.mu.Lock()
	version := c.snapshot.version + 1
	c.snapshot = &zoneSnapshot{
		version:     version,
		zonesBySite: bySite,
	}
	c.mu.Unlock()

	c.logger.Debug("Zone snapshot refreshed",
		zap.Int64("version", version),
		zap.Int("zone_count", len(zones)),
	)

	return nil
}

// Invalidate 管理端区域变更后触发立即刷新
func (c *ZoneCache) Invalidate() {
	select {
	case c.invalidate <- struct{}{}:
	default: // 已有待处理的失效信号
	}
}

// ZonesForSite 返回站点的活跃区域（当前快照）
func (c *ZoneCache) ZonesForSite(siteID string) []*models.GeofenceZone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.zonesBySite[siteID]
}

// Version 当前快照版本
func (c *ZoneCache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.version
}
