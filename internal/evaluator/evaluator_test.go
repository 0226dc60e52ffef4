package evaluator

import (
	"context"
	"testing"
	"time"

	"wisefido-tracking/internal/config"
	"wisefido-tracking/internal/consumer"
	"wisefido-tracking/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Tracking.Evaluator.ConfirmSamples = 2
	cfg.Tracking.Evaluator.DebounceSeconds = 10
	cfg.Tracking.Cache.StateKeyPrefix = "tracking:state:"
	cfg.Tracking.Cache.StateTTL = 86400
	return cfg
}

// newTestEvaluator 基于 miniredis 的评估器，区域快照直接注入
func newTestEvaluator(t *testing.T, cfg *config.Config, zones []*models.GeofenceZone) (*Evaluator, *consumer.StateManager) {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	logger := zap.NewNop()
	stateManager := consumer.NewStateManager(cfg, redisClient, logger)

	zoneCache := NewZoneCache(cfg, nil, logger, "tenant-1")
	bySite := make(map[string][]*models.GeofenceZone)
	for _, z := range zones {
		bySite[z.SiteID] = append(bySite[z.SiteID], z)
	}
	zoneCache.snapshot = &zoneSnapshot{version: 1, zonesBySite: bySite}

	return NewEvaluator(cfg, stateManager, zoneCache, logger), stateManager
}

// circleZone 以 (40.7128, -74.0060) 为圆心、100 米半径的测试区域
func circleZone(alerts models.AlertSettings, validation models.ValidationSettings) *models.GeofenceZone {
	return &models.GeofenceZone{
		ZoneID:   "zone-1",
		TenantID: "tenant-1",
		SiteID:   "site-1",
		ZoneName: "Courtyard",
		Shape: models.ZoneShape{
			Type:         models.ShapeCircle,
			Center:       &models.Point{Latitude: 40.7128, Longitude: -74.0060},
			RadiusMeters: 100,
		},
		IsActive:   true,
		Alerts:     alerts,
		Validation: validation,
	}
}

func sampleAt(id string, lat, lng float64, at time.Time) *models.LocationSample {
	return &models.LocationSample{
		SampleID:       id,
		TenantID:       "tenant-1",
		AgentID:        "agent-1",
		SiteID:         "site-1",
		Latitude:       lat,
		Longitude:      lng,
		AccuracyMeters: 5,
		CapturedAt:     at,
	}
}

// 区域内外的固定坐标（圆心 / 约 1.5 公里外）
const (
	insideLat  = 40.7128
	insideLng  = -74.0060
	outsideLat = 40.7260
	outsideLng = -74.0060
)

func TestEvaluate_EntryAfterConfirmation(t *testing.T) {
	eval, _ := newTestEvaluator(t, newTestConfig(),
		[]*models.GeofenceZone{circleZone(models.AlertSettings{EntryAlert: true}, models.ValidationSettings{})})

	ctx := context.Background()
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// 首次观察：基线 outside，不产生转换
	transitions, err := eval.Evaluate(ctx, sampleAt("s1", outsideLat, outsideLng, t0))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// 第一个 inside 样本：候选翻转，还未确认
	transitions, err = eval.Evaluate(ctx, sampleAt("s2", insideLat, insideLng, t0.Add(2*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// 第二个 inside 样本：确认，产生 ENTRY，时间取候选首次出现
	transitions, err = eval.Evaluate(ctx, sampleAt("s3", insideLat, insideLng, t0.Add(4*time.Second)))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.TransitionEntry, transitions[0].Type)
	assert.Equal(t, "agent-1", transitions[0].AgentID)
	assert.Equal(t, "zone-1", transitions[0].ZoneID)
	assert.Equal(t, t0.Add(2*time.Second).Unix(), transitions[0].OccurredAt.Unix())
}

func TestEvaluate_JitterSuppressed(t *testing.T) {
	eval, _ := newTestEvaluator(t, newTestConfig(),
		[]*models.GeofenceZone{circleZone(models.AlertSettings{EntryAlert: true, ExitAlert: true}, models.ValidationSettings{})})

	ctx := context.Background()
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// 基线 outside，然后边界抖动 in/out/in/out：没有连续确认，不产生转换
	coords := [][2]float64{
		{outsideLat, outsideLng},
		{insideLat, insideLng},
		{outsideLat, outsideLng},
		{insideLat, insideLng},
		{outsideLat, outsideLng},
	}
	for i, c := range coords {
		transitions, err := eval.Evaluate(ctx, sampleAt(
			"s", c[0], c[1], t0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		assert.Empty(t, transitions, "sample %d", i)
	}
}

func TestEvaluate_DebounceByCapturedAtTime(t *testing.T) {
	cfg := newTestConfig()
	cfg.Tracking.Evaluator.ConfirmSamples = 99 // 只走时间消抖路径

	eval, _ := newTestEvaluator(t, cfg,
		[]*models.GeofenceZone{circleZone(models.AlertSettings{EntryAlert: true}, models.ValidationSettings{})})

	ctx := context.Background()
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	_, err := eval.Evaluate(ctx, sampleAt("s1", outsideLat, outsideLng, t0))
	require.NoError(t, err)

	_, err = eval.Evaluate(ctx, sampleAt("s2", insideLat, insideLng, t0.Add(time.Second)))
	require.NoError(t, err)

	// 候选状态持续超过 DebounceSeconds（captured_at 时间）后生效
	transitions, err := eval.Evaluate(ctx, sampleAt("s3", insideLat, insideLng, t0.Add(12*time.Second)))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.TransitionEntry, transitions[0].Type)
}

func TestEvaluate_ExitTransition(t *testing.T) {
	eval, stateManager := newTestEvaluator(t, newTestConfig(),
		[]*models.GeofenceZone{circleZone(models.AlertSettings{ExitAlert: true}, models.ValidationSettings{})})

	ctx := context.Background()
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// 预置已确认的 inside 状态
	require.NoError(t, stateManager.SetZoneState(ctx, &models.AgentZoneState{
		AgentID:   "agent-1",
		ZoneID:    "zone-1",
		SiteID:    "site-1",
		Inside:    true,
		SinceUnix: t0.Unix(),
	}))

	_, err := eval.Evaluate(ctx, sampleAt("s1", outsideLat, outsideLng, t0.Add(time.Second)))
	require.NoError(t, err)

	transitions, err := eval.Evaluate(ctx, sampleAt("s2", outsideLat, outsideLng, t0.Add(2*time.Second)))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.TransitionExit, transitions[0].Type)
}

func TestEvaluate_DwellFiresOncePerEpisode(t *testing.T) {
	eval, stateManager := newTestEvaluator(t, newTestConfig(),
		[]*models.GeofenceZone{circleZone(models.AlertSettings{DwellAlert: true, DwellThresholdSeconds: 60}, models.ValidationSettings{})})

	ctx := context.Background()
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	require.NoError(t, stateManager.SetZoneState(ctx, &models.AgentZoneState{
		AgentID:   "agent-1",
		ZoneID:    "zone-1",
		SiteID:    "site-1",
		Inside:    true,
		SinceUnix: t0.Unix(),
	}))

	// 未达阈值
	transitions, err := eval.Evaluate(ctx, sampleAt("s1", insideLat, insideLng, t0.Add(30*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// 达到阈值：触发一次
	transitions, err = eval.Evaluate(ctx, sampleAt("s2", insideLat, insideLng, t0.Add(61*time.Second)))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.TransitionDwell, transitions[0].Type)

	// 持续在内：同一周期不再触发
	transitions, err = eval.Evaluate(ctx, sampleAt("s3", insideLat, insideLng, t0.Add(120*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestEvaluate_GracePeriodExpiry(t *testing.T) {
	eval, _ := newTestEvaluator(t, newTestConfig(),
		[]*models.GeofenceZone{circleZone(
			models.AlertSettings{},
			models.ValidationSettings{RequiresValidation: true, Method: "badge", GracePeriodSeconds: 30},
		)})

	ctx := context.Background()
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// 基线 outside，进入后确认（entry_alert 关闭，确认本身不产生转换）
	_, err := eval.Evaluate(ctx, sampleAt("s1", outsideLat, outsideLng, t0))
	require.NoError(t, err)
	_, err = eval.Evaluate(ctx, sampleAt("s2", insideLat, insideLng, t0.Add(time.Second)))
	require.NoError(t, err)
	transitions, err := eval.Evaluate(ctx, sampleAt("s3", insideLat, insideLng, t0.Add(2*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// 宽限期内无验证：到期样本触发越权进入
	transitions, err = eval.Evaluate(ctx, sampleAt("s4", insideLat, insideLng, t0.Add(40*time.Second)))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.TransitionUnauthorized, transitions[0].Type)

	// 已触发过：后续样本不重复
	transitions, err = eval.Evaluate(ctx, sampleAt("s5", insideLat, insideLng, t0.Add(50*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestEvaluate_ValidationCancelsGracePeriod(t *testing.T) {
	eval, _ := newTestEvaluator(t, newTestConfig(),
		[]*models.GeofenceZone{circleZone(
			models.AlertSettings{},
			models.ValidationSettings{RequiresValidation: true, Method: "badge", GracePeriodSeconds: 30},
		)})

	ctx := context.Background()
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	_, err := eval.Evaluate(ctx, sampleAt("s1", outsideLat, outsideLng, t0))
	require.NoError(t, err)
	_, err = eval.Evaluate(ctx, sampleAt("s2", insideLat, insideLng, t0.Add(time.Second)))
	require.NoError(t, err)
	_, err = eval.Evaluate(ctx, sampleAt("s3", insideLat, insideLng, t0.Add(2*time.Second)))
	require.NoError(t, err)

	// 宽限期内完成验证
	require.NoError(t, eval.RecordValidation(ctx, "agent-1", "zone-1"))

	// 到期后不再触发
	transitions, err := eval.Evaluate(ctx, sampleAt("s4", insideLat, insideLng, t0.Add(40*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestEvaluate_NoZonesForSite(t *testing.T) {
	eval, _ := newTestEvaluator(t, newTestConfig(), nil)

	transitions, err := eval.Evaluate(context.Background(),
		sampleAt("s1", insideLat, insideLng, time.Now().UTC()))
	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestRecordValidation_UnknownState(t *testing.T) {
	eval, _ := newTestEvaluator(t, newTestConfig(), nil)

	err := eval.RecordValidation(context.Background(), "agent-x", "zone-x")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
