package notifier

import (
	"context"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/models"
	redisutil "wisefido-tracking/internal/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher 生命周期事件的 Redis Streams 出口
// 供站外消费者（报表、审计）订阅；写入失败只记日志，不阻塞状态机
type StreamPublisher struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewStreamPublisher 创建 Streams 出口
func NewStreamPublisher(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishEvent 追加事件到事件流
func (p *StreamPublisher) PublishEvent(ctx context.Context, event *models.TrackingEvent) {
	stream := p.config.Tracking.Cache.EventStream

	if _, err := redisutil.PublishJSONToStream(ctx, p.redisClient, stream, event); err != nil {
		p.logger.Error("Failed to publish event to stream",
			zap.String("stream", stream),
			zap.String("event_type", string(event.EventType)),
			zap.String("entity_id", event.EntityID),
			zap.Error(err),
		)
	}
}
