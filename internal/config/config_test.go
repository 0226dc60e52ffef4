package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查默认值
	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected DB_HOST default 'localhost', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Port != 5432 {
		t.Errorf("Expected DB_PORT default 5432, got %d", cfg.Database.Port)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Expected MQTT_BROKER default 'tcp://localhost:1883', got '%s'", cfg.MQTT.Broker)
	}

	if cfg.HTTP.Addr != ":8085" {
		t.Errorf("Expected HTTP_ADDR default ':8085', got '%s'", cfg.HTTP.Addr)
	}

	if cfg.Tracking.Ingest.AccuracyCeilingMeters != 50 {
		t.Errorf("Expected accuracy ceiling default 50, got %f", cfg.Tracking.Ingest.AccuracyCeilingMeters)
	}

	if cfg.Tracking.Ingest.SkewToleranceSeconds != 2 {
		t.Errorf("Expected skew tolerance default 2, got %d", cfg.Tracking.Ingest.SkewToleranceSeconds)
	}

	if cfg.Tracking.Evaluator.ConfirmSamples != 2 {
		t.Errorf("Expected confirm samples default 2, got %d", cfg.Tracking.Evaluator.ConfirmSamples)
	}

	if cfg.Tracking.Evaluator.DebounceSeconds != 10 {
		t.Errorf("Expected debounce default 10, got %d", cfg.Tracking.Evaluator.DebounceSeconds)
	}

	if cfg.Tracking.Cache.StateKeyPrefix != "tracking:state:" {
		t.Errorf("Expected state key prefix default 'tracking:state:', got '%s'", cfg.Tracking.Cache.StateKeyPrefix)
	}

	if cfg.Tracking.Cache.EventStream != "tracking:events" {
		t.Errorf("Expected event stream default 'tracking:events', got '%s'", cfg.Tracking.Cache.EventStream)
	}

	if cfg.Tracking.Hub.QueueSize != 64 {
		t.Errorf("Expected hub queue size default 64, got %d", cfg.Tracking.Hub.QueueSize)
	}

	if cfg.Tracking.Webhook.Enabled {
		t.Error("Expected webhook disabled by default")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("REDIS_ADDR", "redis:6380")
	os.Setenv("TRACKING_ACCURACY_CEILING_METERS", "25.5")
	os.Setenv("TRACKING_CONFIRM_SAMPLES", "3")
	os.Setenv("HUB_QUEUE_SIZE", "128")
	os.Setenv("WEBHOOK_ENABLED", "true")
	os.Setenv("WEBHOOK_URL", "https://hooks.example.com/alerts")
	os.Setenv("LOG_LEVEL", "debug")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Database.Host != "test-host" {
		t.Errorf("Expected DB_HOST 'test-host', got '%s'", cfg.Database.Host)
	}

	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Expected REDIS_ADDR 'redis:6380', got '%s'", cfg.Redis.Addr)
	}

	if cfg.Tracking.Ingest.AccuracyCeilingMeters != 25.5 {
		t.Errorf("Expected accuracy ceiling 25.5, got %f", cfg.Tracking.Ingest.AccuracyCeilingMeters)
	}

	if cfg.Tracking.Evaluator.ConfirmSamples != 3 {
		t.Errorf("Expected confirm samples 3, got %d", cfg.Tracking.Evaluator.ConfirmSamples)
	}

	if cfg.Tracking.Hub.QueueSize != 128 {
		t.Errorf("Expected hub queue size 128, got %d", cfg.Tracking.Hub.QueueSize)
	}

	if !cfg.Tracking.Webhook.Enabled {
		t.Error("Expected webhook enabled")
	}

	if cfg.Tracking.Webhook.URL != "https://hooks.example.com/alerts" {
		t.Errorf("Expected webhook URL override, got '%s'", cfg.Tracking.Webhook.URL)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestGetDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "db-host",
		Port:     5433,
		User:     "tracker",
		Password: "secret",
		Database: "tracking",
		SSLMode:  "require",
	}

	expected := "host=db-host port=5433 user=tracker password=secret dbname=tracking sslmode=require"
	if dsn := cfg.GetDSN(); dsn != expected {
		t.Errorf("Expected DSN '%s', got '%s'", expected, dsn)
	}
}
