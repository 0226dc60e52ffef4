package evaluator

import (
	"testing"

	"wisefido-tracking/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters(t *testing.T) {
	// 同一点距离为 0
	p := models.Point{Latitude: 40.7128, Longitude: -74.0060}
	assert.InDelta(t, 0, HaversineMeters(p, p), 0.001)

	// 赤道上经度差 1 度约 111.19 公里
	a := models.Point{Latitude: 0, Longitude: 0}
	b := models.Point{Latitude: 0, Longitude: 1}
	assert.InDelta(t, 111195, HaversineMeters(a, b), 200)

	// 对称性
	assert.InDelta(t, HaversineMeters(a, b), HaversineMeters(b, a), 0.001)
}

func TestZoneContains_Circle(t *testing.T) {
	shape := models.ZoneShape{
		Type:         models.ShapeCircle,
		Center:       &models.Point{Latitude: 40.7128, Longitude: -74.0060},
		RadiusMeters: 100,
	}

	// 圆心在内
	assert.True(t, ZoneContains(shape, models.Point{Latitude: 40.7128, Longitude: -74.0060}))

	// 约 55 米外（纬度 0.0005 度 ≈ 55.6 米）在内
	assert.True(t, ZoneContains(shape, models.Point{Latitude: 40.7133, Longitude: -74.0060}))

	// 约 222 米外在外
	assert.False(t, ZoneContains(shape, models.Point{Latitude: 40.7148, Longitude: -74.0060}))
}

func TestZoneContains_Polygon(t *testing.T) {
	// 以 (40.7128, -74.0060) 为中心的方形
	shape := models.ZoneShape{
		Type: models.ShapePolygon,
		Vertices: []models.Point{
			{Latitude: 40.7120, Longitude: -74.0070},
			{Latitude: 40.7120, Longitude: -74.0050},
			{Latitude: 40.7136, Longitude: -74.0050},
			{Latitude: 40.7136, Longitude: -74.0070},
		},
	}

	assert.True(t, ZoneContains(shape, models.Point{Latitude: 40.7128, Longitude: -74.0060}))
	assert.False(t, ZoneContains(shape, models.Point{Latitude: 40.7150, Longitude: -74.0060}))
	assert.False(t, ZoneContains(shape, models.Point{Latitude: 40.7128, Longitude: -74.0090}))
}

func TestZoneContains_InvalidShape(t *testing.T) {
	// circle 缺少圆心视为不包含
	assert.False(t, ZoneContains(models.ZoneShape{Type: models.ShapeCircle}, models.Point{}))

	// polygon 顶点不足视为不包含
	assert.False(t, ZoneContains(models.ZoneShape{
		Type:     models.ShapePolygon,
		Vertices: []models.Point{{Latitude: 1, Longitude: 1}},
	}, models.Point{Latitude: 1, Longitude: 1}))
}
