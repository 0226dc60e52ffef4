package consumer

import (
	"context"
	"testing"
	"time"

	"wisefido-tracking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSweeper(t *testing.T) (*GraceSweeper, *StateManager, *fakeHandler) {
	t.Helper()

	stateManager := newTestStateManager(t)
	handler := &fakeHandler{}

	cfg := stateManager.config
	cfg.Tracking.Evaluator.GraceSweepSeconds = 10

	return NewGraceSweeper(cfg, stateManager, handler, zap.NewNop()), stateManager, handler
}

func TestGraceSweeper_RaisesExpiredGrace(t *testing.T) {
	sweeper, stateManager, handler := newTestSweeper(t)
	ctx := context.Background()

	deadline := time.Now().UTC().Add(-time.Minute).Unix()
	require.NoError(t, stateManager.SetZoneState(ctx, &models.AgentZoneState{
		AgentID:           "agent-1",
		ZoneID:            "zone-1",
		SiteID:            "site-1",
		Inside:            true,
		GraceDeadlineUnix: deadline,
		LastSampleID:      "sample-7",
	}))

	sweeper.sweep(ctx)

	require.Equal(t, 1, handler.count())
	raised := handler.raised[0]
	assert.Equal(t, models.TransitionUnauthorized, raised.Type)
	assert.Equal(t, "agent-1", raised.AgentID)
	assert.Equal(t, "site-1", raised.SiteID)
	assert.Equal(t, deadline, raised.OccurredAt.Unix())

	// deadline 已清除：重复巡检不再触发
	sweeper.sweep(ctx)
	assert.Equal(t, 1, handler.count())

	state, err := stateManager.GetZoneState(ctx, "agent-1", "zone-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, state.GraceDeadlineUnix)
}

func TestGraceSweeper_SkipsNonExpiredStates(t *testing.T) {
	sweeper, stateManager, handler := newTestSweeper(t)
	ctx := context.Background()

	now := time.Now().UTC()

	// 宽限期未到
	require.NoError(t, stateManager.SetZoneState(ctx, &models.AgentZoneState{
		AgentID: "agent-1", ZoneID: "zone-1", SiteID: "site-1",
		Inside: true, GraceDeadlineUnix: now.Add(time.Minute).Unix(),
	}))
	// 已验证
	require.NoError(t, stateManager.SetZoneState(ctx, &models.AgentZoneState{
		AgentID: "agent-2", ZoneID: "zone-1", SiteID: "site-1",
		Inside: true, GraceDeadlineUnix: now.Add(-time.Minute).Unix(), Validated: true,
	}))
	// 已离开区域
	require.NoError(t, stateManager.SetZoneState(ctx, &models.AgentZoneState{
		AgentID: "agent-3", ZoneID: "zone-1", SiteID: "site-1",
		Inside: false, GraceDeadlineUnix: now.Add(-time.Minute).Unix(),
	}))
	// 无待验证
	require.NoError(t, stateManager.SetZoneState(ctx, &models.AgentZoneState{
		AgentID: "agent-4", ZoneID: "zone-1", SiteID: "site-1", Inside: true,
	}))

	sweeper.sweep(ctx)
	assert.Equal(t, 0, handler.count())
}
