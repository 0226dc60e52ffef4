package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"wisefido-tracking/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// userIDFrom 从请求头取操作人（上游网关完成认证后注入）
func userIDFrom(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

// operatorContext 请求上下文附加操作人角色（X-User-Role，逗号分隔），供能力校验使用
func operatorContext(r *http.Request) context.Context {
	return models.WithUserRoles(r.Context(), splitParam(r.Header.Get("X-User-Role")))
}
