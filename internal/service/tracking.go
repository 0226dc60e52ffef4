package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/consumer"
	"wisefido-tracking/internal/database"
	"wisefido-tracking/internal/evaluator"
	httpapi "wisefido-tracking/internal/http"
	"wisefido-tracking/internal/hub"
	"wisefido-tracking/internal/lifecycle"
	"wisefido-tracking/internal/mqtt"
	"wisefido-tracking/internal/notifier"
	redisutil "wisefido-tracking/internal/redis"
	"wisefido-tracking/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TrackingService 定位追踪服务（整合各层）
type TrackingService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger
	tenantID    string

	// 各层组件
	locationRepo   *repository.LocationLogRepository
	zonesRepo      *repository.ZonesRepository
	violationsRepo *repository.ViolationsRepository
	alertsRepo     *repository.AlertsRepository

	cacheManager *consumer.CacheManager
	stateManager *consumer.StateManager
	zoneCache    *evaluator.ZoneCache
	evaluator    *evaluator.Evaluator
	machine      *lifecycle.Machine
	hub          *hub.Hub
	ingestor     *consumer.Ingestor
	mqttConsumer *consumer.MQTTConsumer
	graceSweeper *consumer.GraceSweeper

	httpServer *http.Server
	cancel     context.CancelFunc
}

// NewTrackingService 创建定位追踪服务
func NewTrackingService(cfg *config.Config, logger *zap.Logger, tenantID string) (*TrackingService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisutil.NewRedisClient(&cfg.Redis)
	if err := redisutil.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect MQTT broker: %w", err)
	}

	// 4. Repository 层
	locationRepo := repository.NewLocationLogRepository(db, logger)
	zonesRepo := repository.NewZonesRepository(db, logger)
	violationsRepo := repository.NewViolationsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)

	// 5. 缓存与状态层
	cacheManager := consumer.NewCacheManager(cfg, redisClient, logger)
	stateManager := consumer.NewStateManager(cfg, redisClient, logger)

	// 6. 评估层
	zoneCache := evaluator.NewZoneCache(cfg, zonesRepo, logger, tenantID)
	eval := evaluator.NewEvaluator(cfg, stateManager, zoneCache, logger)

	// 7. 生命周期状态机（认证由上游网关完成，本服务按 X-User-Role 校验能力）
	machine := lifecycle.NewMachine(cfg, violationsRepo, alertsRepo, lifecycle.NewRoleAuthorizer(), logger, tenantID)

	// 8. 分发层与事件出口
	dispatchHub := hub.NewHub(cfg, logger)
	machine.AddPublisher(dispatchHub)
	machine.AddPublisher(notifier.NewStreamPublisher(cfg, redisClient, logger))
	machine.SetNotifier(notifier.NewWebhookNotifier(cfg, logger))
	machine.SetAlertCache(cacheManager)

	// 9. 接入层
	ingestor := consumer.NewIngestor(cfg, locationRepo, cacheManager, eval, machine, logger, tenantID)
	mqttConsumer := consumer.NewMQTTConsumer(mqttClient, ingestor, logger)
	graceSweeper := consumer.NewGraceSweeper(cfg, stateManager, machine, logger)

	return &TrackingService{
		config:         cfg,
		db:             db,
		redisClient:    redisClient,
		mqttClient:     mqttClient,
		logger:         logger,
		tenantID:       tenantID,
		locationRepo:   locationRepo,
		zonesRepo:      zonesRepo,
		violationsRepo: violationsRepo,
		alertsRepo:     alertsRepo,
		cacheManager:   cacheManager,
		stateManager:   stateManager,
		zoneCache:      zoneCache,
		evaluator:      eval,
		machine:        machine,
		hub:            dispatchHub,
		ingestor:       ingestor,
		mqttConsumer:   mqttConsumer,
		graceSweeper:   graceSweeper,
	}, nil
}

// Start 启动服务
func (s *TrackingService) Start(ctx context.Context) error {
	s.logger.Info("Starting tracking service",
		zap.String("tenant_id", s.tenantID),
	)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// 1. 区域快照（初次加载失败视为启动失败）
	if err := s.zoneCache.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load zones: %w", err)
	}
	go s.zoneCache.Start(ctx)

	// 2. 接入层
	s.ingestor.Start(ctx)
	if err := s.mqttConsumer.Start(); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	// 3. 宽限期巡检
	go s.graceSweeper.Start(ctx)

	// 4. HTTP 服务
	router := httpapi.NewRouter(s.logger)
	router.RegisterTrackingRoutes(
		httpapi.NewLocationHandler(s.ingestor, s.cacheManager, s.logger),
		httpapi.NewEmergencyHandler(s.machine, s.logger),
		httpapi.NewWSHandler(s.hub, s.violationsRepo, s.alertsRepo, s.tenantID, s.logger),
	)
	router.RegisterAdminRoutes(httpapi.NewAdminHandler(
		s.machine, s.violationsRepo, s.alertsRepo, s.zoneCache, s.evaluator, s.tenantID, s.logger,
	))
	router.RegisterOpsRoutes(httpapi.NewHealthHandler(s.db, s.redisClient, s.logger))

	s.httpServer = &http.Server{
		Addr:         s.config.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening",
			zap.String("addr", s.config.HTTP.Addr),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop 停止服务
func (s *TrackingService) Stop() error {
	s.logger.Info("Stopping tracking service")

	if s.cancel != nil {
		s.cancel()
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
		}
	}

	if err := s.mqttConsumer.Stop(); err != nil {
		s.logger.Error("Failed to stop MQTT consumer", zap.Error(err))
	}
	s.mqttClient.Disconnect()

	// 等待 worker 处理完队列中的样本
	s.ingestor.Wait()

	if err := redisutil.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis client", zap.Error(err))
	}

	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	return nil
}
