package models

import "context"

type contextKey string

const userRolesKey contextKey = "user_roles"

// WithUserRoles 把操作人角色放入上下文（HTTP 层从 X-User-Role 头解析）
func WithUserRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, userRolesKey, roles)
}

// UserRolesFrom 取上下文中的操作人角色；未设置时返回 nil
func UserRolesFrom(ctx context.Context) []string {
	roles, _ := ctx.Value(userRolesKey).([]string)
	return roles
}
