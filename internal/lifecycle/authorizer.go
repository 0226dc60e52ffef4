package lifecycle

import (
	"context"
	"fmt"

	"wisefido-tracking/internal/models"
)

// RoleAuthorizer 基于请求头角色的能力校验
// 认证由上游网关完成，网关把用户角色写入 X-User-Role；
// 本服务只检查角色是否具备所需能力
type RoleAuthorizer struct {
	capabilities map[string][]string // capability → 允许的角色
}

// NewRoleAuthorizer 创建角色鉴权器（默认能力表）
func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{
		capabilities: map[string][]string{
			CapabilityAcknowledge: {"admin", "supervisor"},
			CapabilityResolve:     {"admin", "supervisor"},
		},
	}
}

// Authorize 校验上下文中的角色是否具备能力
func (a *RoleAuthorizer) Authorize(ctx context.Context, userID, capability string) error {
	allowed, ok := a.capabilities[capability]
	if !ok {
		return fmt.Errorf("unknown capability %q", capability)
	}

	for _, role := range models.UserRolesFrom(ctx) {
		for _, want := range allowed {
			if role == want {
				return nil
			}
		}
	}
	return fmt.Errorf("no role grants %s", capability)
}
