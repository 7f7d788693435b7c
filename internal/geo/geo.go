// Package geo holds the small set of geodesic helpers the pipeline needs:
// great-circle distances for dedup and constraint joins, and bounding boxes
// for radius pre-filtering.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/umahmood/haversine"
)

const earthRadiusM = 6371000.0

// DistanceKm returns the haversine distance between two points in kilometers.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: lat1, Lon: lng1},
		haversine.Coord{Lat: lat2, Lon: lng2},
	)
	return km
}

// DistanceM returns the haversine distance between two points in meters.
func DistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	return DistanceKm(lat1, lng1, lat2, lng2) * 1000
}

// WithinRadius reports whether two points are at most radiusM meters apart.
func WithinRadius(lat1, lng1, lat2, lng2, radiusM float64) bool {
	return DistanceM(lat1, lng1, lat2, lng2) <= radiusM
}

// Clamp forces coordinates into valid ranges: latitude clamped to [-90, 90],
// longitude wrapped into [-180, 180].
func Clamp(lat, lng float64) (float64, float64) {
	lat = math.Max(-90, math.Min(90, lat))
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lat, lng - 180
}

// BoundingBox returns the lat/lng bounds of the circle around (lat, lng) with
// the given radius. Near the poles the longitude span degenerates to the full
// [-180, 180] range.
func BoundingBox(lat, lng, radiusM float64) *geom.Bounds {
	angular := radiusM / earthRadiusM
	latRad := lat * math.Pi / 180
	lngRad := lng * math.Pi / 180

	minLat := latRad - angular
	maxLat := latRad + angular

	var minLng, maxLng float64
	if minLat > -math.Pi/2 && maxLat < math.Pi/2 {
		deltaLng := math.Asin(math.Sin(angular) / math.Cos(latRad))
		minLng = lngRad - deltaLng
		maxLng = lngRad + deltaLng
	} else {
		minLat = math.Max(minLat, -math.Pi/2)
		maxLat = math.Min(maxLat, math.Pi/2)
		minLng = -math.Pi
		maxLng = math.Pi
	}

	deg := 180 / math.Pi
	return geom.NewBounds(geom.XY).Set(minLng*deg, minLat*deg, maxLng*deg, maxLat*deg)
}

// ContainsPoint reports whether bounds contain the given point. This is a
// cheap rectangular check; callers that need an exact circle follow up with
// WithinRadius.
func ContainsPoint(b *geom.Bounds, lat, lng float64) bool {
	return b.OverlapsPoint(geom.XY, geom.Coord{lng, lat})
}
