package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wisefido-tracking/internal/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAlertsRepo(t *testing.T) (*AlertsRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAlertsRepository(db, zap.NewNop()), mock
}

func testAlert(sourceViolationID *string) *models.EmergencyAlert {
	now := time.Now().UTC()
	return &models.EmergencyAlert{
		AlertID:           "a-1",
		TenantID:          "tenant-1",
		SiteID:            "site-1",
		AgentID:           "agent-1",
		SourceViolationID: sourceViolationID,
		Severity:          models.SeverityCrit,
		Status:            models.AlertActive,
		TriggerData:       json.RawMessage(`{}`),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestCreateAlert_IdempotentOnSourceViolation(t *testing.T) {
	repo, mock := newAlertsRepo(t)
	ctx := context.Background()
	violationID := "v-1"

	mock.ExpectExec("INSERT INTO emergency_alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := repo.CreateAlert(ctx, "tenant-1", testAlert(&violationID))
	require.NoError(t, err)
	assert.True(t, created)

	// 同一违规的第二次镜像：WHERE 条件过滤，0 行插入
	mock.ExpectExec("INSERT INTO emergency_alerts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	created, err = repo.CreateAlert(ctx, "tenant-1", testAlert(&violationID))
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlertByViolation_NoneReturnsNil(t *testing.T) {
	repo, mock := newAlertsRepo(t)

	mock.ExpectQuery("SELECT(.|\n)*FROM emergency_alerts").
		WithArgs("tenant-1", "v-1").
		WillReturnRows(sqlmock.NewRows([]string{"alert_id"}))

	alert, err := repo.GetAlertByViolation(context.Background(), "tenant-1", "v-1")
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestResolveAlert_CAS(t *testing.T) {
	repo, mock := newAlertsRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE emergency_alerts").
		WithArgs("user-1", models.ResolutionResolved, now, "a-1", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	updated, err := repo.ResolveAlert(ctx, "tenant-1", "a-1", "user-1", models.ResolutionResolved, now)
	require.NoError(t, err)
	assert.True(t, updated)

	// 已终结：终态单调，0 行更新
	mock.ExpectExec("UPDATE emergency_alerts").
		WithArgs("user-2", models.ResolutionFalseAlarm, now, "a-1", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	updated, err = repo.ResolveAlert(ctx, "tenant-1", "a-1", "user-2", models.ResolutionFalseAlarm, now)
	require.NoError(t, err)
	assert.False(t, updated)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlert_InvalidResolution(t *testing.T) {
	repo, _ := newAlertsRepo(t)

	_, err := repo.ResolveAlert(context.Background(), "tenant-1", "a-1", "user-1",
		models.Resolution("MAYBE"), time.Now().UTC())
	assert.Error(t, err)
}

func TestListActiveBySite_ScansNullableFields(t *testing.T) {
	repo, mock := newAlertsRepo(t)
	now := time.Now().UTC()

	cols := []string{
		"alert_id", "tenant_id", "site_id", "agent_id", "source_violation_id",
		"severity", "status", "trigger_data",
		"acknowledged_by", "acknowledged_at", "resolved_by", "resolution", "resolved_at",
		"created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT(.|\n)*FROM emergency_alerts").
		WithArgs("tenant-1", "site-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a-1", "tenant-1", "site-1", "agent-1", "v-1",
				"CRIT", "ACTIVE", []byte(`{}`),
				nil, nil, nil, nil, nil, now, now).
			AddRow("a-2", "tenant-1", "site-1", "agent-2", nil,
				"CRIT", "ACKNOWLEDGED", nil,
				"user-1", now, nil, nil, nil, now, now))

	alerts, err := repo.ListActiveBySite(context.Background(), "tenant-1", "site-1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	require.NotNil(t, alerts[0].SourceViolationID)
	assert.Equal(t, "v-1", *alerts[0].SourceViolationID)

	// SOS 报警没有违规来源
	assert.Nil(t, alerts[1].SourceViolationID)
	require.NotNil(t, alerts[1].AcknowledgedBy)
	assert.Equal(t, models.AlertAcknowledged, alerts[1].Status)
}
