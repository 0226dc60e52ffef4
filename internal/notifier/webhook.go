package notifier

import (
	"context"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 紧急报警的 webhook 出口
// 通知是尽力而为的：失败记日志与指标，不影响报警生命周期
type WebhookNotifier struct {
	config *config.Config
	client *resty.Client
	logger *zap.Logger
}

// NewWebhookNotifier 创建 webhook 出口
func NewWebhookNotifier(cfg *config.Config, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(time.Duration(cfg.Tracking.Webhook.TimeoutMillis) * time.Millisecond).
		SetRetryCount(cfg.Tracking.Webhook.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond)

	return &WebhookNotifier{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// NotifyAlert 推送一条紧急报警
func (n *WebhookNotifier) NotifyAlert(ctx context.Context, alert *models.EmergencyAlert) {
	if !n.config.Tracking.Webhook.Enabled || n.config.Tracking.Webhook.URL == "" {
		return
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"event":    "emergency_alert",
			"alert":    alert,
			"sent_at":  time.Now().UTC().Format(time.RFC3339),
			"severity": alert.Severity,
		}).
		Post(n.config.Tracking.Webhook.URL)

	if err != nil {
		n.logger.Error("Failed to deliver alert webhook",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
		return
	}

	if resp.IsError() {
		n.logger.Error("Alert webhook returned error status",
			zap.String("alert_id", alert.AlertID),
			zap.Int("status", resp.StatusCode()),
		)
		return
	}

	n.logger.Info("Alert webhook delivered",
		zap.String("alert_id", alert.AlertID),
		zap.Int("status", resp.StatusCode()),
	)
}
