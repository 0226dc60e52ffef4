package repository

import (
	"context"
	"testing"
	"time"

	"wisefido-tracking/internal/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListActiveZones_ParsesJSONBColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewZonesRepository(db, zap.NewNop())
	now := time.Now().UTC()

	cols := []string{
		"zone_id", "tenant_id", "site_id", "zone_name",
		"shape", "is_active", "alert_settings", "validation", "updated_at",
	}
	mock.ExpectQuery("SELECT(.|\n)*FROM geofence_zones").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("zone-1", "tenant-1", "site-1", "Courtyard",
				[]byte(`{"type":"circle","center":{"latitude":40.7128,"longitude":-74.0060},"radius_meters":100}`),
				true,
				[]byte(`{"entry_alert":true,"dwell_alert":true,"dwell_threshold_seconds":300}`),
				[]byte(`{"requires_validation":false}`),
				now).
			AddRow("zone-2", "tenant-1", "site-2", "Pharmacy",
				[]byte(`{"type":"polygon","vertices":[{"latitude":1,"longitude":1},{"latitude":1,"longitude":2},{"latitude":2,"longitude":2}]}`),
				true,
				nil,
				[]byte(`{"requires_validation":true,"method":"badge","grace_period_seconds":60}`),
				now))

	zones, err := repo.ListActiveZones(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, zones, 2)

	circle := zones[0]
	assert.Equal(t, models.ShapeCircle, circle.Shape.Type)
	require.NotNil(t, circle.Shape.Center)
	assert.InDelta(t, 40.7128, circle.Shape.Center.Latitude, 0.0001)
	assert.EqualValues(t, 100, circle.Shape.RadiusMeters)
	assert.True(t, circle.Alerts.EntryAlert)
	assert.Equal(t, 300, circle.Alerts.DwellThresholdSeconds)
	assert.False(t, circle.Validation.RequiresValidation)

	polygon := zones[1]
	assert.Equal(t, models.ShapePolygon, polygon.Shape.Type)
	assert.Len(t, polygon.Shape.Vertices, 3)
	assert.True(t, polygon.Validation.RequiresValidation)
	assert.Equal(t, "badge", polygon.Validation.Method)
	assert.Equal(t, 60, polygon.Validation.GracePeriodSeconds)
}

func TestListActiveZonesBySite_RequiresArguments(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewZonesRepository(db, zap.NewNop())

	_, err = repo.ListActiveZonesBySite(context.Background(), "", "site-1")
	assert.Error(t, err)

	_, err = repo.ListActiveZonesBySite(context.Background(), "tenant-1", "")
	assert.Error(t, err)
}
