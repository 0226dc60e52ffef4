package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-tracking/internal/models"
	"wisefido-tracking/internal/mqtt"

	"go.uber.org/zap"
)

// locationTopicPattern 设备定位上报主题：tracking/{agent_id}/location
const locationTopicPattern = "tracking/+/location"

// MQTTConsumer 设备定位样本的 MQTT 接入端
type MQTTConsumer struct {
	mqttClient *mqtt.Client
	ingestor   *Ingestor
	logger     *zap.Logger
}

// locationPayload MQTT 上报消息体
type locationPayload struct {
	SiteID         string  `json:"site_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters"`
	CapturedAt     string  `json:"captured_at"` // RFC3339
	BatteryLevel   *int    `json:"battery_level,omitempty"`
}

// NewMQTTConsumer 创建 MQTT 接入端
func NewMQTTConsumer(mqttClient *mqtt.Client, ingestor *Ingestor, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		mqttClient: mqttClient,
		ingestor:   ingestor,
		logger:     logger,
	}
}

// Start 订阅定位主题
func (c *MQTTConsumer) Start() error {
	if err := c.mqttClient.Subscribe(locationTopicPattern, 1, c.handleLocationMessage); err != nil {
		return fmt.Errorf("failed to subscribe to location topic: %w", err)
	}

	c.logger.Info("MQTT location consumer started",
		zap.String("topic", locationTopicPattern),
	)
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	return c.mqttClient.Unsubscribe(locationTopicPattern)
}

// handleLocationMessage 处理一条定位消息
func (c *MQTTConsumer) handleLocationMessage(topic string, payload []byte) error {
	agentID, err := parseAgentIDFromTopic(topic)
	if err != nil {
		return err
	}

	var msg locationPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse location payload: %w", err)
	}

	capturedAt, err := time.Parse(time.RFC3339, msg.CapturedAt)
	if err != nil {
		return fmt.Errorf("invalid captured_at %q: %w", msg.CapturedAt, err)
	}

	sample := &models.LocationSample{
		AgentID:        agentID,
		SiteID:         msg.SiteID,
		Latitude:       msg.Latitude,
		Longitude:      msg.Longitude,
		AccuracyMeters: msg.AccuracyMeters,
		CapturedAt:     capturedAt.UTC(),
		BatteryLevel:   msg.BatteryLevel,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.ingestor.Ingest(ctx, sample); err != nil {
		var rejection *models.RejectionError
		if errors.As(err, &rejection) {
			// 拒绝不算处理错误：指标已计数，乱序样本只需 debug 级记录
			c.logger.Debug("Location sample rejected",
				zap.String("agent_id", agentID),
				zap.String("reason", rejection.Reason),
			)
			return nil
		}
		return err
	}

	return nil
}

// parseAgentIDFromTopic 从 tracking/{agent_id}/location 提取 agent_id
func parseAgentIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "tracking" || parts[2] != "location" || parts[1] == "" {
		return "", fmt.Errorf("unexpected location topic: %s", topic)
	}
	return parts[1], nil
}
