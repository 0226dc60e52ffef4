package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 定位追踪服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	HTTP struct {
		Addr string // 监听地址，如 ":8085"
	}

	// 定位追踪服务特定配置
	Tracking struct {
		// 样本接入配置
		Ingest struct {
			AccuracyCeilingMeters  float64 // 定位精度上限（米），超过则拒绝，默认 50
			SkewToleranceSeconds   int     // 乱序/时钟偏差容差（秒），默认 2
			FutureToleranceSeconds int     // captured_at 允许超前的秒数，默认 5
			WorkerQueueSize        int     // 每个 agent worker 的队列长度，默认 64
			WorkerIdleSeconds      int     // worker 空闲回收时间（秒），默认 300
			StoreMaxRetries        int     // 持久化写入重试次数，默认 3
			StoreBackoffMillis     int     // 重试退避基数（毫秒），默认 100
			OverflowBufferSize     int     // 持久化降级时的本地溢出缓冲大小，默认 1024
		}

		// 评估配置
		Evaluator struct {
			// 消抖窗口：包含状态翻转需连续 ConfirmSamples 个样本确认，
			// 或候选状态持续 DebounceSeconds 秒（captured_at 时间）后生效。
			// 这是抑制 GPS 边界抖动的显式策略，不是采样率的副作用。
			ConfirmSamples     int // 默认 2
			DebounceSeconds    int // 默认 10
			ZoneRefreshSeconds int // 区域快照刷新间隔（秒），默认 60
			GraceSweepSeconds  int // 验证宽限期巡检间隔（秒），默认 10
		}

		// Redis 缓存配置
		Cache struct {
			StateKeyPrefix    string // 区域状态键前缀，如 "tracking:state:"
			LocationKeyPrefix string // 最新位置键前缀，如 "tracking:agent:"
			LocationSuffix    string // 最新位置键后缀，如 ":location"
			AlertKeyPrefix    string // 站点活跃报警键前缀，如 "tracking:site:"
			AlertSuffix       string // 站点活跃报警键后缀，如 ":alerts"
			AlertTTL          int    // 活跃报警缓存 TTL（秒），默认 30
			StateTTL          int    // 区域状态 TTL（秒），默认 86400
			EventStream       string // 生命周期事件流，如 "tracking:events"
		}

		// 分发配置
		Hub struct {
			QueueSize          int // 每个订阅者的发送队列长度，默认 64
			MaxRetries         int // 单条事件投递重试次数，默认 3
			RetryBackoffMillis int // 投递重试退避基数（毫秒），默认 200
			WriteTimeoutMillis int // 单次写超时（毫秒），默认 5000
		}

		// Webhook 通知配置
		Webhook struct {
			Enabled       bool
			URL           string
			TimeoutMillis int // 默认 5000
			MaxRetries    int // 默认 2
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-tracking")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8085")

	// 接入配置
	cfg.Tracking.Ingest.AccuracyCeilingMeters = getEnvFloat("TRACKING_ACCURACY_CEILING_METERS", 50)
	cfg.Tracking.Ingest.SkewToleranceSeconds = getEnvInt("TRACKING_SKEW_TOLERANCE_SECONDS", 2)
	cfg.Tracking.Ingest.FutureToleranceSeconds = getEnvInt("TRACKING_FUTURE_TOLERANCE_SECONDS", 5)
	cfg.Tracking.Ingest.WorkerQueueSize = getEnvInt("TRACKING_WORKER_QUEUE_SIZE", 64)
	cfg.Tracking.Ingest.WorkerIdleSeconds = getEnvInt("TRACKING_WORKER_IDLE_SECONDS", 300)
	cfg.Tracking.Ingest.StoreMaxRetries = getEnvInt("TRACKING_STORE_MAX_RETRIES", 3)
	cfg.Tracking.Ingest.StoreBackoffMillis = getEnvInt("TRACKING_STORE_BACKOFF_MS", 100)
	cfg.Tracking.Ingest.OverflowBufferSize = getEnvInt("TRACKING_OVERFLOW_BUFFER_SIZE", 1024)

	// 评估配置
	cfg.Tracking.Evaluator.ConfirmSamples = getEnvInt("TRACKING_CONFIRM_SAMPLES", 2)
	cfg.Tracking.Evaluator.DebounceSeconds = getEnvInt("TRACKING_DEBOUNCE_SECONDS", 10)
	cfg.Tracking.Evaluator.ZoneRefreshSeconds = getEnvInt("TRACKING_ZONE_REFRESH_SECONDS", 60)
	cfg.Tracking.Evaluator.GraceSweepSeconds = getEnvInt("TRACKING_GRACE_SWEEP_SECONDS", 10)

	// 缓存配置
	cfg.Tracking.Cache.StateKeyPrefix = getEnv("CACHE_STATE_PREFIX", "tracking:state:")
	cfg.Tracking.Cache.LocationKeyPrefix = getEnv("CACHE_LOCATION_PREFIX", "tracking:agent:")
	cfg.Tracking.Cache.LocationSuffix = ":location"
	cfg.Tracking.Cache.AlertKeyPrefix = getEnv("CACHE_ALERT_PREFIX", "tracking:site:")
	cfg.Tracking.Cache.AlertSuffix = ":alerts"
	cfg.Tracking.Cache.AlertTTL = getEnvInt("CACHE_ALERT_TTL", 30)
	cfg.Tracking.Cache.StateTTL = getEnvInt("CACHE_STATE_TTL", 86400)
	cfg.Tracking.Cache.EventStream = getEnv("CACHE_EVENT_STREAM", "tracking:events")

	// 分发配置
	cfg.Tracking.Hub.QueueSize = getEnvInt("HUB_QUEUE_SIZE", 64)
	cfg.Tracking.Hub.MaxRetries = getEnvInt("HUB_MAX_RETRIES", 3)
	cfg.Tracking.Hub.RetryBackoffMillis = getEnvInt("HUB_RETRY_BACKOFF_MS", 200)
	cfg.Tracking.Hub.WriteTimeoutMillis = getEnvInt("HUB_WRITE_TIMEOUT_MS", 5000)

	// Webhook 配置
	cfg.Tracking.Webhook.Enabled = getEnv("WEBHOOK_ENABLED", "false") == "true"
	cfg.Tracking.Webhook.URL = getEnv("WEBHOOK_URL", "")
	cfg.Tracking.Webhook.TimeoutMillis = getEnvInt("WEBHOOK_TIMEOUT_MS", 5000)
	cfg.Tracking.Webhook.MaxRetries = getEnvInt("WEBHOOK_MAX_RETRIES", 2)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
