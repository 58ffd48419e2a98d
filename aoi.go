package soilfetch

import (
	"github.com/paulmach/orb"

	"soilfetch/internal/aoi"
	"soilfetch/internal/crs"
)

// AOI is a validated polygonal area of interest.
type AOI = aoi.AOI

// NewAOI wraps a polygon or multipolygon given in lon/lat (EPSG:4326).
func NewAOI(g orb.Geometry) (AOI, error) {
	return aoi.New(g, crs.WGS84)
}

// NewAOIInCRS wraps a geometry in an explicit CRS such as "EPSG:3857".
func NewAOIInCRS(g orb.Geometry, crsName string) (AOI, error) {
	c, err := crs.Parse(crsName)
	if err != nil {
		return AOI{}, err
	}
	return aoi.New(g, c)
}

// AOIFromGeoJSON parses a GeoJSON feature collection, feature or bare
// geometry into an AOI. Coordinates are lon/lat.
func AOIFromGeoJSON(raw []byte) (AOI, error) {
	return aoi.FromGeoJSON(raw)
}

// BufferPoint builds a circular AOI around a lon/lat point with the
// given radius in metres.
func BufferPoint(lon, lat, radiusMeters float64) (AOI, error) {
	return aoi.BufferPoint(lon, lat, radiusMeters, 0)
}
