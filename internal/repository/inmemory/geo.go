package inmemory

import (
	"math"

	"github.com/tidwall/geodesic"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

// metersPerDegreeLat is a lower bound of the meridian degree length, so the
// bounding boxes below always contain the search disc.
const metersPerDegreeLat = 110_574.0

// distanceMeters is the WGS84 ellipsoidal distance between two points.
func distanceMeters(a, b model.GeoPosition) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &s12, nil, nil)
	return s12
}

// boundingBox returns an R-tree search box ([lon, lat] order) containing
// every point within radiusM of center. Near the poles or across the
// antimeridian it widens to the full longitude range.
func boundingBox(center model.GeoPosition, radiusM float64) (lo, hi [2]float64) {
	dLat := radiusM/metersPerDegreeLat + 0.01
	minLat := math.Max(center.Lat-dLat, -90)
	maxLat := math.Min(center.Lat+dLat, 90)

	minLon, maxLon := -180.0, 180.0
	worstLat := math.Max(math.Abs(minLat), math.Abs(maxLat))
	if cos := math.Cos(worstLat * math.Pi / 180); cos > 1e-6 {
		dLon := radiusM/(metersPerDegreeLat*cos) + 0.01
		if center.Lon-dLon >= -180 && center.Lon+dLon <= 180 {
			minLon, maxLon = center.Lon-dLon, center.Lon+dLon
		}
	}
	return [2]float64{minLon, minLat}, [2]float64{maxLon, maxLat}
}

func point(p model.GeoPosition) [2]float64 { return [2]float64{p.Lon, p.Lat} }
