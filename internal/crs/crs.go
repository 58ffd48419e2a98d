// Package crs provides the small set of coordinate reference systems the
// pipeline can transform between without an external projection engine.
package crs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"soilfetch/internal/errs"
)

// CRS identifies a coordinate reference system by EPSG code.
type CRS int

const (
	// WGS84 is geographic lon/lat, EPSG:4326.
	WGS84 CRS = 4326
	// WebMercator is spherical mercator in metres, EPSG:3857.
	WebMercator CRS = 3857
)

// Parse accepts "EPSG:4326", "epsg:3857" or a bare code.
func Parse(s string) (CRS, error) {
	code := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "EPSG:")
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed CRS %q", errs.ErrInvalidParameters, s)
	}
	c := CRS(n)
	switch c {
	case WGS84, WebMercator:
		return c, nil
	}
	return 0, fmt.Errorf("%w: unsupported CRS EPSG:%d", errs.ErrReprojectionFailure, n)
}

func (c CRS) String() string { return fmt.Sprintf("EPSG:%d", int(c)) }

// EPSG returns the numeric code.
func (c CRS) EPSG() int { return int(c) }

// Geographic reports whether coordinates are lon/lat degrees.
func (c CRS) Geographic() bool { return c == WGS84 }

// ToWGS84 transforms a point in c to lon/lat.
func (c CRS) ToWGS84(p orb.Point) orb.Point {
	if c == WebMercator {
		return project.Mercator.ToWGS84(p)
	}
	return p
}

// FromWGS84 transforms a lon/lat point into c.
func (c CRS) FromWGS84(p orb.Point) orb.Point {
	if c == WebMercator {
		return project.WGS84.ToMercator(p)
	}
	return p
}

// Transform converts a point between two systems via lon/lat.
func Transform(p orb.Point, from, to CRS) orb.Point {
	if from == to {
		return p
	}
	return to.FromWGS84(from.ToWGS84(p))
}

// TransformGeometry returns a projected copy; the input is never mutated.
func TransformGeometry(g orb.Geometry, from, to CRS) orb.Geometry {
	if from == to {
		return orb.Clone(g)
	}
	out := orb.Clone(g)
	if from == WebMercator {
		out = project.Geometry(out, project.Mercator.ToWGS84)
	}
	if to == WebMercator {
		out = project.Geometry(out, project.WGS84.ToMercator)
	}
	return out
}
