// Package aoi resolves a caller-supplied area of interest into a
// validated geometry with a known coordinate reference system.
package aoi

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"soilfetch/internal/crs"
	"soilfetch/internal/errs"
)

// AOI is a polygonal area of interest in a known CRS.
type AOI struct {
	Geometry orb.Geometry
	CRS      crs.CRS
}

// New validates g and wraps it. Only polygons and multipolygons with
// nonzero area are accepted.
func New(g orb.Geometry, c crs.CRS) (AOI, error) {
	if g == nil {
		return AOI{}, fmt.Errorf("%w: nil geometry", errs.ErrInvalidAOI)
	}
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 || len(geom[0]) < 4 {
			return AOI{}, fmt.Errorf("%w: polygon has no ring", errs.ErrInvalidAOI)
		}
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return AOI{}, fmt.Errorf("%w: empty multipolygon", errs.ErrInvalidAOI)
		}
		for _, p := range geom {
			if len(p) == 0 || len(p[0]) < 4 {
				return AOI{}, fmt.Errorf("%w: multipolygon member has no ring", errs.ErrInvalidAOI)
			}
		}
	default:
		return AOI{}, fmt.Errorf("%w: geometry type %s, want Polygon or MultiPolygon", errs.ErrInvalidAOI, g.GeoJSONType())
	}
	if planar.Area(g) == 0 {
		return AOI{}, fmt.Errorf("%w: geometry has zero area", errs.ErrInvalidAOI)
	}
	return AOI{Geometry: g, CRS: c}, nil
}

// FromGeoJSON parses raw as a FeatureCollection, a Feature or a bare
// geometry, in that order, and validates the result. Coordinates are
// taken to be lon/lat per the GeoJSON spec. A FeatureCollection
// contributes all of its polygonal features as one multipolygon.
func FromGeoJSON(raw []byte) (AOI, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(raw); err == nil {
		var mp orb.MultiPolygon
		for _, f := range fc.Features {
			switch g := f.Geometry.(type) {
			case orb.Polygon:
				mp = append(mp, g)
			case orb.MultiPolygon:
				mp = append(mp, g...)
			}
		}
		if len(mp) == 0 {
			return AOI{}, fmt.Errorf("%w: feature collection has no polygonal features", errs.ErrInvalidAOI)
		}
		if len(mp) == 1 {
			return New(mp[0], crs.WGS84)
		}
		return New(mp, crs.WGS84)
	}
	if f, err := geojson.UnmarshalFeature(raw); err == nil {
		return New(f.Geometry, crs.WGS84)
	}
	if g, err := geojson.UnmarshalGeometry(raw); err == nil {
		return New(g.Geometry(), crs.WGS84)
	}
	if !json.Valid(raw) {
		return AOI{}, fmt.Errorf("%w: not valid JSON", errs.ErrInvalidAOI)
	}
	return AOI{}, fmt.Errorf("%w: not a GeoJSON geometry, feature or feature collection", errs.ErrInvalidAOI)
}

// BufferPoint builds a circular AOI of the given radius in metres around
// a lon/lat point, approximated by a regular polygon. segments <= 0
// selects a 64-gon.
func BufferPoint(lon, lat, radiusMeters float64, segments int) (AOI, error) {
	if radiusMeters <= 0 {
		return AOI{}, fmt.Errorf("%w: buffer radius %g must be positive", errs.ErrInvalidAOI, radiusMeters)
	}
	if math.Abs(lat) > 85 {
		return AOI{}, fmt.Errorf("%w: latitude %g outside the mercator domain", errs.ErrInvalidAOI, lat)
	}
	if segments <= 0 {
		segments = 64
	}
	c := crs.Transform(orb.Point{lon, lat}, crs.WGS84, crs.WebMercator)
	// Mercator metres stretch by 1/cos(lat); scale the radius so the ring
	// is the right size on the ground.
	r := radiusMeters / math.Cos(lat*math.Pi/180)
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		a := 2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, orb.Point{c[0] + r*math.Cos(a), c[1] + r*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return New(orb.Polygon{ring}, crs.WebMercator)
}

// Bound returns the envelope of the geometry in the AOI's CRS.
func (a AOI) Bound() orb.Bound { return a.Geometry.Bound() }

// Reproject returns a copy of the AOI in another CRS.
func (a AOI) Reproject(to crs.CRS) AOI {
	return AOI{Geometry: crs.TransformGeometry(a.Geometry, a.CRS, to), CRS: to}
}

// Contains reports whether a point in the AOI's CRS falls inside the
// geometry.
func (a AOI) Contains(p orb.Point) bool {
	switch g := a.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}
