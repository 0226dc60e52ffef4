package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wisefido-tracking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) Invalidate() { f.calls++ }

type fakeRecorder struct {
	agentID string
	zoneID  string
	err     error
}

func (f *fakeRecorder) RecordValidation(ctx context.Context, agentID, zoneID string) error {
	f.agentID = agentID
	f.zoneID = zoneID
	return f.err
}

func TestParseEntityAction(t *testing.T) {
	id, action, ok := parseEntityAction("/admin/api/v1/violations/v-1/acknowledge", "/admin/api/v1/violations/")
	require.True(t, ok)
	assert.Equal(t, "v-1", id)
	assert.Equal(t, "acknowledge", action)

	_, _, ok = parseEntityAction("/admin/api/v1/violations/v-1", "/admin/api/v1/violations/")
	assert.False(t, ok)

	_, _, ok = parseEntityAction("/admin/api/v1/violations//resolve", "/admin/api/v1/violations/")
	assert.False(t, ok)
}

func TestRefreshZones(t *testing.T) {
	invalidator := &fakeInvalidator{}
	h := &AdminHandler{zones: invalidator, logger: zap.NewNop()}

	req := httptest.NewRequest(http.MethodPost, "/admin/api/v1/zones/refresh", nil)
	rec := httptest.NewRecorder()
	h.RefreshZones(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, invalidator.calls)

	// 非 POST 拒绝
	req = httptest.NewRequest(http.MethodGet, "/admin/api/v1/zones/refresh", nil)
	rec = httptest.NewRecorder()
	h.RefreshZones(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 1, invalidator.calls)
}

func TestRecordValidation(t *testing.T) {
	recorder := &fakeRecorder{}
	h := &AdminHandler{validations: recorder, logger: zap.NewNop()}

	body := strings.NewReader(`{"agent_id":"agent-1","zone_id":"zone-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/api/v1/validations", body)
	rec := httptest.NewRecorder()
	h.RecordValidation(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agent-1", recorder.agentID)
	assert.Equal(t, "zone-1", recorder.zoneID)
}

func TestRecordValidation_BadRequest(t *testing.T) {
	h := &AdminHandler{validations: &fakeRecorder{}, logger: zap.NewNop()}

	body := strings.NewReader(`{"agent_id":"agent-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/api/v1/validations", body)
	rec := httptest.NewRecorder()
	h.RecordValidation(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordValidation_NotFound(t *testing.T) {
	recorder := &fakeRecorder{err: models.ErrNotFound}
	h := &AdminHandler{validations: recorder, logger: zap.NewNop()}

	body := strings.NewReader(`{"agent_id":"agent-x","zone_id":"zone-x"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/api/v1/validations", body)
	rec := httptest.NewRecorder()
	h.RecordValidation(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperatorContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/admin/api/v1/violations/v-1/acknowledge", nil)
	req.Header.Set("X-User-Role", "admin, supervisor")
	assert.Equal(t, []string{"admin", "supervisor"}, models.UserRolesFrom(operatorContext(req)))

	req.Header.Del("X-User-Role")
	assert.Nil(t, models.UserRolesFrom(operatorContext(req)))
}

func TestSplitParam(t *testing.T) {
	assert.Equal(t, []string{"admin", "supervisor"}, splitParam("admin, supervisor"))
	assert.Equal(t, []string{"*"}, splitParam("*"))
	assert.Nil(t, splitParam(""))
}
