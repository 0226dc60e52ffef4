package consumer

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/metrics"
	"wisefido-tracking/internal/models"
	"wisefido-tracking/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SampleEvaluator 区域评估器接口（由 evaluator 包实现）
type SampleEvaluator interface {
	Evaluate(ctx context.Context, sample *models.LocationSample) ([]models.ZoneTransition, error)
}

// TransitionHandler 区域转换处理接口（由 lifecycle 包实现）
type TransitionHandler interface {
	RaiseViolation(ctx context.Context, t models.ZoneTransition) (*models.GeofenceViolation, bool, error)
}

// Ingestor 定位样本接入
// 每个 agent 一个 worker，样本按 captured_at 顺序串行评估（单写入者原则）；
// 不同 agent 的 worker 完全并行
type Ingestor struct {
	config       *config.Config
	locationRepo *repository.LocationLogRepository
	cacheManager *CacheManager
	evaluator    SampleEvaluator
	handler      TransitionHandler
	logger       *zap.Logger
	tenantID     string

	mu      sync.Mutex
	workers map[string]*agentWorker
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewIngestor 创建接入器
func NewIngestor(
	cfg *config.Config,
	locationRepo *repository.LocationLogRepository,
	cacheManager *CacheManager,
	evaluator SampleEvaluator,
	handler TransitionHandler,
	logger *zap.Logger,
	tenantID string,
) *Ingestor {
	return &Ingestor{
		config:       cfg,
		locationRepo: locationRepo,
		cacheManager: cacheManager,
		evaluator:    evaluator,
		handler:      handler,
		logger:       logger,
		tenantID:     tenantID,
		workers:      make(map[string]*agentWorker),
	}
}

// Start 绑定生命周期上下文（worker 按需创建）
func (i *Ingestor) Start(ctx context.Context) {
	i.ctx = ctx
}

// Wait 等待所有 worker 退出
func (i *Ingestor) Wait() {
	i.wg.Wait()
}

// Ingest 接入一条样本：校验 → 入队 agent worker
// 返回 nil 表示 Accepted；拒绝返回 *models.RejectionError
func (i *Ingestor) Ingest(ctx context.Context, sample *models.LocationSample) error {
	if sample == nil {
		return models.NewRejection(models.ErrValidation, "sample is required")
	}
	if sample.AgentID == "" {
		return models.NewRejection(models.ErrValidation, "agent_id is required")
	}
	if sample.SiteID == "" {
		return models.NewRejection(models.ErrValidation, "site_id is required")
	}
	if sample.Latitude < -90 || sample.Latitude > 90 ||
		sample.Longitude < -180 || sample.Longitude > 180 {
		metrics.SamplesRejected.WithLabelValues("implausible").Inc()
		return models.NewRejection(models.ErrValidation,
			"implausible coordinates (%f, %f)", sample.Latitude, sample.Longitude)
	}

	now := time.Now().UTC()

	// 精度超限：噪声定位，拒绝且不产生任何区域转换
	ceiling := i.config.Tracking.Ingest.AccuracyCeilingMeters
	if sample.AccuracyMeters > ceiling {
		metrics.SamplesRejected.WithLabelValues("accuracy").Inc()
		return models.NewRejection(models.ErrValidation,
			"accuracy %.1fm exceeds ceiling %.1fm", sample.AccuracyMeters, ceiling)
	}

	// 设备时钟超前超出容差
	futureTol := time.Duration(i.config.Tracking.Ingest.FutureToleranceSeconds) * time.Second
	if sample.CapturedAt.After(now.Add(futureTol)) {
		metrics.SamplesRejected.WithLabelValues("future").Inc()
		return models.NewRejection(models.ErrValidation,
			"captured_at %s is in the future", sample.CapturedAt.Format(time.RFC3339))
	}

	if sample.SampleID == "" {
		sample.SampleID = uuid.New().String()
	}
	sample.TenantID = i.tenantID
	sample.ReceivedAt = now

	skewTol := int64(i.config.Tracking.Ingest.SkewToleranceSeconds)

	for {
		worker := i.workerFor(sample.AgentID)

		worker.mu.Lock()
		if worker.stopping {
			// worker 正在退出：重新获取，workerFor 会创建新 worker
			worker.mu.Unlock()
			continue
		}

		// 乱序检查：落后于该 agent 最新样本超过容差的视为重放/乱序，静默丢弃
		if worker.latestCapturedUnix > 0 && sample.CapturedAt.Unix() < worker.latestCapturedUnix-skewTol {
			worker.mu.Unlock()
			metrics.SamplesRejected.WithLabelValues("stale").Inc()
			return models.NewRejection(models.ErrStaleSample,
				"captured_at older than latest accepted sample beyond tolerance")
		}

		select {
		case worker.queue <- sample:
			// 入队成功后才推进基线，被拒样本不抬高乱序判据
			if sample.CapturedAt.Unix() > worker.latestCapturedUnix {
				worker.latestCapturedUnix = sample.CapturedAt.Unix()
			}
			worker.mu.Unlock()
			metrics.SamplesAccepted.Inc()
			return nil
		default:
			// worker 队列满：该 agent 的流降级，不影响其他 agent
			worker.mu.Unlock()
			metrics.SamplesRejected.WithLabelValues("backlog").Inc()
			return models.NewRejection(models.ErrValidation, "agent sample queue is full")
		}
	}
}

// workerFor 获取或创建某 agent 的 worker
func (i *Ingestor) workerFor(agentID string) *agentWorker {
	i.mu.Lock()
	defer i.mu.Unlock()

	if w, ok := i.workers[agentID]; ok {
		w.mu.Lock()
		stopping := w.stopping
		w.mu.Unlock()
		if !stopping {
			return w
		}
	}

	w := &agentWorker{
		agentID: agentID,
		queue:   make(chan *models.LocationSample, i.config.Tracking.Ingest.WorkerQueueSize),
	}
	i.workers[agentID] = w

	i.wg.Add(1)
	go i.runWorker(w)

	return w
}

// agentWorker 单 agent 的样本处理器
type agentWorker struct {
	agentID string
	queue   chan *models.LocationSample

	mu                 sync.Mutex
	latestCapturedUnix int64
	stopping           bool

	pending  sampleHeap // captured_at 最小堆（乱序样本在容差窗口内重排）
	overflow []*models.LocationSample
}

// runWorker worker 主循环
// 样本先进入重排堆；更新的样本把窗口推过堆顶时按序弹出处理，
// 没有后继样本的堆顶在驻留满一个容差窗口后由定时器按序弹出
func (i *Ingestor) runWorker(w *agentWorker) {
	defer i.wg.Done()
	defer i.removeWorker(w)

	i.restoreBaseline(w)

	skewTol := time.Duration(i.config.Tracking.Ingest.SkewToleranceSeconds) * time.Second
	if skewTol <= 0 {
		skewTol = time.Second
	}
	idle := time.Duration(i.config.Tracking.Ingest.WorkerIdleSeconds) * time.Second

	flush := time.NewTicker(skewTol / 2)
	defer flush.Stop()

	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()

	for {
		select {
		case <-i.ctx.Done():
			w.markStopping()
			i.drainQueue(w)
			i.drainPending(w, true)
			return

		case sample := <-w.queue:
			heap.Push(&w.pending, sample)
			i.drainPending(w, false)
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(idle)

		case <-flush.C:
			i.drainPending(w, false)

		case <-idleTimer.C:
			w.markStopping()
			i.drainQueue(w)
			i.drainPending(w, true)
			return
		}
	}
}

// restoreBaseline 进程重启后从 location_log 恢复乱序判断基线
// 失败不致命：基线保持为内存中已见的最大 captured_at
func (i *Ingestor) restoreBaseline(w *agentWorker) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	latest, err := i.locationRepo.GetLatestCapturedAt(ctx, i.tenantID, w.agentID)
	if err != nil {
		i.logger.Warn("Failed to restore ordering baseline",
			zap.String("agent_id", w.agentID),
			zap.Error(err),
		)
		return
	}
	if latest.IsZero() {
		return
	}

	w.mu.Lock()
	if latest.Unix() > w.latestCapturedUnix {
		w.latestCapturedUnix = latest.Unix()
	}
	w.mu.Unlock()
}

func (w *agentWorker) markStopping() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
}

// drainQueue 退出前把接入队列清空进重排堆
// markStopping 之后 Ingest 不会再向本 worker 入队，已 Accepted 的样本不丢失
func (i *Ingestor) drainQueue(w *agentWorker) {
	for {
		select {
		case sample := <-w.queue:
			heap.Push(&w.pending, sample)
		default:
			return
		}
	}
}

func (i *Ingestor) removeWorker(w *agentWorker) {
	i.mu.Lock()
	if i.workers[w.agentID] == w {
		delete(i.workers, w.agentID)
	}
	i.mu.Unlock()
}

// drainPending 按 captured_at 顺序处理重排堆
// all=false 时堆顶出堆需满足其一：更新的样本已把窗口推过它（captured_at ≤
// 最新-容差），或它到达后已驻留满一个容差窗口——保证每个样本都有完整的
// 容差时间等待更早的迟到样本
func (i *Ingestor) drainPending(w *agentWorker, all bool) {
	w.mu.Lock()
	latest := w.latestCapturedUnix
	w.mu.Unlock()

	skewTol := int64(i.config.Tracking.Ingest.SkewToleranceSeconds)
	holdBack := time.Duration(skewTol) * time.Second

	for w.pending.Len() > 0 {
		next := w.pending[0]
		if !all {
			matured := next.CapturedAt.Unix() <= latest-skewTol
			heldOut := time.Now().UTC().Sub(next.ReceivedAt) >= holdBack
			if !matured && !heldOut {
				return
			}
		}
		heap.Pop(&w.pending)
		i.process(w, next)
	}
}

// process 处理单条样本：持久化 → 缓存 → 评估 → 转换入状态机
func (i *Ingestor) process(w *agentWorker, sample *models.LocationSample) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 先补写溢出缓冲里的历史样本，保持日志追加顺序
	i.drainOverflow(ctx, w)

	if err := i.appendWithRetry(ctx, sample); err != nil {
		// 持久化降级：样本进溢出缓冲，继续评估（实时安全优先于持久性）
		i.bufferOverflow(w, sample)
		i.logger.Error("Store unavailable, sample diverted to overflow buffer",
			zap.String("agent_id", sample.AgentID),
			zap.String("sample_id", sample.SampleID),
			zap.Error(err),
		)
	}

	if err := i.cacheManager.UpdateAgentLocation(ctx, sample); err != nil {
		i.logger.Warn("Failed to update location cache",
			zap.String("agent_id", sample.AgentID),
			zap.Error(err),
		)
	}

	transitions, err := i.evaluator.Evaluate(ctx, sample)
	if err != nil {
		i.logger.Error("Failed to evaluate sample",
			zap.String("agent_id", sample.AgentID),
			zap.String("sample_id", sample.SampleID),
			zap.Error(err),
		)
		return
	}

	for _, t := range transitions {
		_, created, err := i.handler.RaiseViolation(ctx, t)
		if err != nil {
			i.logger.Error("Failed to raise violation",
				zap.String("agent_id", t.AgentID),
				zap.String("zone_id", t.ZoneID),
				zap.String("transition", string(t.Type)),
				zap.Error(err),
			)
			continue
		}
		if created {
			metrics.ViolationsRaised.Inc()
		}
	}
}

// appendWithRetry 持久化写入，带有界重试与退避
func (i *Ingestor) appendWithRetry(ctx context.Context, sample *models.LocationSample) error {
	backoff := time.Duration(i.config.Tracking.Ingest.StoreBackoffMillis) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= i.config.Tracking.Ingest.StoreMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, lastErr)
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}

		if err := i.locationRepo.AppendSample(ctx, i.tenantID, sample); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, lastErr)
}

// bufferOverflow 样本进溢出缓冲；缓冲满时丢最旧并记日志（绝不静默丢弃）
func (i *Ingestor) bufferOverflow(w *agentWorker, sample *models.LocationSample) {
	metrics.StoreDegraded.Inc()

	if len(w.overflow) >= i.config.Tracking.Ingest.OverflowBufferSize {
		dropped := w.overflow[0]
		w.overflow = w.overflow[1:]
		metrics.OverflowDropped.Inc()
		i.logger.Error("Overflow buffer full, dropping oldest sample",
			zap.String("agent_id", dropped.AgentID),
			zap.String("sample_id", dropped.SampleID),
		)
	}

	w.overflow = append(w.overflow, sample)
}

// drainOverflow 尝试补写溢出缓冲（一次失败即停，下个样本再试）
func (i *Ingestor) drainOverflow(ctx context.Context, w *agentWorker) {
	for len(w.overflow) > 0 {
		sample := w.overflow[0]
		if err := i.locationRepo.AppendSample(ctx, i.tenantID, sample); err != nil {
			return
		}
		w.overflow = w.overflow[1:]
		i.logger.Info("Recovered sample from overflow buffer",
			zap.String("agent_id", sample.AgentID),
			zap.String("sample_id", sample.SampleID),
		)
	}
}

// sampleHeap captured_at 最小堆
type sampleHeap []*models.LocationSample

func (h sampleHeap) Len() int            { return len(h) }
func (h sampleHeap) Less(i, j int) bool  { return h[i].CapturedAt.Before(h[j].CapturedAt) }
func (h sampleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sampleHeap) Push(x interface{}) { *h = append(*h, x.(*models.LocationSample)) }
func (h *sampleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
