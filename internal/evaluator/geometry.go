package evaluator

import (
	"math"

	"wisefido-tracking/internal/models"
)

const earthRadiusMeters = 6371000.0

// HaversineMeters 计算两点间大圆距离（米）
func HaversineMeters(a, b models.Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// pointInPolygon 射线法判断点是否在多边形内
// 在以点纬度做尺度修正的等距圆柱投影上计算，多边形尺度（站点级）下精度足够
func pointInPolygon(p models.Point, vertices []models.Point) bool {
	if len(vertices) < 3 {
		return false
	}

	cosLat := math.Cos(p.Latitude * math.Pi / 180)
	px := p.Longitude * cosLat
	py := p.Latitude

	inside := false
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		xi := vertices[i].Longitude * cosLat
		yi := vertices[i].Latitude
		xj := vertices[j].Longitude * cosLat
		yj := vertices[j].Latitude

		if (yi > py) != (yj > py) &&
			px < (xj-xi)*(py-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}

	return inside
}

// ZoneContains 判断点是否落在区域几何内
// circle：haversine 距离 <= 半径；polygon：射线法
func ZoneContains(shape models.ZoneShape, p models.Point) bool {
	switch shape.Type {
	case models.ShapeCircle:
		if shape.Center == nil || shape.RadiusMeters <= 0 {
			return false
		}
		return HaversineMeters(*shape.Center, p) <= shape.RadiusMeters
	case models.ShapePolygon:
		return pointInPolygon(p, shape.Vertices)
	default:
		return false
	}
}
