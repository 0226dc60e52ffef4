package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/metrics"
	"wisefido-tracking/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn 订阅者连接（gorilla/websocket 的 *websocket.Conn 满足此接口）
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Subscriber 在线订阅者（连接级，断开即销毁，不持久化）
type Subscriber struct {
	ID        string
	UserID    string
	Roles     []string
	SiteScope []string

	conn  Conn
	queue chan *models.TrackingEvent
	done  chan struct{}

	needsResync atomic.Bool
	closeOnce   sync.Once
}

// Hub 报警分发中枢
// 按角色交集 + 站点范围做内容路由；每个订阅者独立的有界发送队列，
// 慢订阅者不会阻塞其他订阅者的投递
type Hub struct {
	config *config.Config
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	seq atomic.Uint64
}

// NewHub 创建分发中枢
func NewHub(cfg *config.Config, logger *zap.Logger) *Hub {
	return &Hub{
		config:      cfg,
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe 注册订阅者并开始缓冲事件
// writer 尚未启动：调用方先推送快照（SendDirect），再 StartWriter 开始流式投递，
// 保证快照与增量事件之间无缝隙
func (h *Hub) Subscribe(conn Conn, userID string, roles, siteScope []string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.New().String(),
		UserID:    userID,
		Roles:     roles,
		SiteScope: siteScope,
		conn:      conn,
		queue:     make(chan *models.TrackingEvent, h.config.Tracking.Hub.QueueSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Info("Subscriber connected",
		zap.String("subscriber_id", sub.ID),
		zap.String("user_id", userID),
		zap.Strings("roles", roles),
		zap.Strings("sites", siteScope),
	)

	return sub
}

// SendDirect 绕过队列直接写连接（连接时的快照推送）
func (h *Hub) SendDirect(sub *Subscriber, v interface{}) error {
	timeout := time.Duration(h.config.Tracking.Hub.WriteTimeoutMillis) * time.Millisecond
	_ = sub.conn.SetWriteDeadline(time.Now().Add(timeout))
	return sub.conn.WriteJSON(v)
}

// StartWriter 启动订阅者的投递循环
func (h *Hub) StartWriter(sub *Subscriber) {
	go h.writeLoop(sub)
}

// Unsubscribe 注销订阅者：取消其未投递的事件，关闭连接
// 不影响进行中的状态机转换，也不影响其他订阅者
func (h *Hub) Unsubscribe(subscriberID string) {
	h.mu.Lock()
	sub, ok := h.subscribers[subscriberID]
	if ok {
		delete(h.subscribers, subscriberID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	sub.closeOnce.Do(func() {
		close(sub.done)
		_ = sub.conn.Close()
	})

	h.logger.Info("Subscriber disconnected",
		zap.String("subscriber_id", subscriberID),
		zap.String("user_id", sub.UserID),
	)
}

// SubscriberCount 当前在线订阅者数
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// PublishEvent 投递事件给所有匹配的订阅者（非阻塞）
// 同一实体的事件由状态机按实体锁串行发布，每个订阅者队列 FIFO，
// 因此同一 violation/alert 的事件对单个订阅者保持因果序
func (h *Hub) PublishEvent(ctx context.Context, event *models.TrackingEvent) {
	event.Seq = h.seq.Add(1)

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if h.matches(sub, event) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		h.enqueue(sub, event)
	}
}

// matches 内容路由过滤：角色有交集且站点在订阅范围内
func (h *Hub) matches(sub *Subscriber, event *models.TrackingEvent) bool {
	if !rolesIntersect(sub.Roles, event.TargetRoles) {
		return false
	}
	return siteInScope(event.SiteID, sub.SiteScope)
}

// enqueue 入队；队列满时丢最旧的一条并标记订阅者需要重新同步
func (h *Hub) enqueue(sub *Subscriber, event *models.TrackingEvent) {
	select {
	case sub.queue <- event:
		return
	default:
	}

	// 队列满：丢最旧，腾出位置
	select {
	case <-sub.queue:
		metrics.EventsDropped.Inc()
	default:
	}

	select {
	case sub.queue <- event:
	default:
		metrics.EventsDropped.Inc()
	}

	if !sub.needsResync.Swap(true) {
		h.logger.Warn("Subscriber queue overflow, resync required",
			zap.String("subscriber_id", sub.ID),
			zap.String("user_id", sub.UserID),
		)
	}
}

// writeLoop 单订阅者投递循环：带重试与退避，重试耗尽即驱逐
func (h *Hub) writeLoop(sub *Subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.queue:
			// 溢出过的订阅者先收到 resync 指令，再继续增量流
			if sub.needsResync.Swap(false) {
				resync := &models.TrackingEvent{
					EventType: models.EventResyncRequired,
					TenantID:  event.TenantID,
					EmittedAt: time.Now().UTC(),
				}
				if !h.writeWithRetry(sub, resync) {
					return
				}
			}

			if !h.writeWithRetry(sub, event) {
				return
			}
		}
	}
}

// writeWithRetry 写一条事件；失败重试 MaxRetries 次后驱逐订阅者，返回 false
func (h *Hub) writeWithRetry(sub *Subscriber, event *models.TrackingEvent) bool {
	timeout := time.Duration(h.config.Tracking.Hub.WriteTimeoutMillis) * time.Millisecond
	backoff := time.Duration(h.config.Tracking.Hub.RetryBackoffMillis) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= h.config.Tracking.Hub.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-sub.done:
				return false
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}

		_ = sub.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := sub.conn.WriteJSON(event); err != nil {
			lastErr = err
			continue
		}
		return true
	}

	// 重试耗尽：驱逐连接（订阅者重连后通过快照重新同步）
	metrics.SubscribersEvicted.Inc()
	h.logger.Warn("Evicting subscriber after delivery retries exhausted",
		zap.String("subscriber_id", sub.ID),
		zap.String("user_id", sub.UserID),
		zap.String("event_type", string(event.EventType)),
		zap.Error(fmt.Errorf("%w: %v", models.ErrDispatchFailure, lastErr)),
	)
	h.Unsubscribe(sub.ID)
	return false
}

func rolesIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func siteInScope(siteID string, scope []string) bool {
	for _, s := range scope {
		if s == siteID || s == "*" {
			return true
		}
	}
	return false
}
