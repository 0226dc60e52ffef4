package lifecycle

import (
	"context"
	"testing"

	"wisefido-tracking/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRoleAuthorizer(t *testing.T) {
	a := NewRoleAuthorizer()

	ctx := models.WithUserRoles(context.Background(), []string{"supervisor"})
	assert.NoError(t, a.Authorize(ctx, "user-1", CapabilityAcknowledge))
	assert.NoError(t, a.Authorize(ctx, "user-1", CapabilityResolve))

	// 角色不具备能力
	ctx = models.WithUserRoles(context.Background(), []string{"caregiver"})
	assert.Error(t, a.Authorize(ctx, "user-1", CapabilityAcknowledge))

	// 上下文未携带角色
	assert.Error(t, a.Authorize(context.Background(), "user-1", CapabilityResolve))

	// 未知能力
	assert.Error(t, a.Authorize(ctx, "user-1", "tracking:unknown"))
}
