// Package mask clips a mosaic to an area of interest by writing nodata
// into every pixel outside (or, inverted, inside) the geometry.
package mask

import (
	"math"

	"github.com/paulmach/orb"

	"soilfetch/internal/aoi"
	"soilfetch/internal/mosaic"
	"soilfetch/pkg/geotiff"
)

// Apply masks m against a in place. The default rule keeps pixels whose
// center falls inside the geometry; allTouched keeps every pixel whose
// cell touches the geometry at all. invert masks the exact complement of
// whichever pixel set the rule selects, so applying both variants covers
// the full grid with no gap and no overlap. Masking an already-masked
// mosaic with the same arguments is a no-op.
func Apply(m *mosaic.Mosaic, a aoi.AOI, allTouched, invert bool) error {
	local := a.Reproject(m.Grid.CRS)

	fill := math.NaN()
	if m.NoData != nil {
		fill = *m.NoData
	} else if m.DataType != geotiff.Float32 {
		fill = 0 // integer rasters cannot hold NaN
	}

	polys := polygonsOf(local.Geometry)

	for row := 0; row < m.Grid.Height; row++ {
		for col := 0; col < m.Grid.Width; col++ {
			var in bool
			if allTouched {
				in = cellTouches(m, local, polys, col, row)
			} else {
				x, y := m.Grid.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
				in = local.Contains(orb.Point{x, y})
			}
			if in == invert {
				m.Set(col, row, fill)
			}
		}
	}
	return nil
}

func polygonsOf(g orb.Geometry) []orb.Polygon {
	switch geom := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{geom}
	case orb.MultiPolygon:
		return geom
	}
	return nil
}

// cellTouches reports whether the pixel cell (col,row) intersects the
// geometry: center inside, a geometry vertex inside the cell, or an edge
// crossing the cell boundary. A cell fully inside the geometry always has
// its center inside, so these three checks are exhaustive.
func cellTouches(m *mosaic.Mosaic, a aoi.AOI, polys []orb.Polygon, col, row int) bool {
	x0, y1 := m.Grid.Transform.Apply(float64(col), float64(row))
	x1, y0 := m.Grid.Transform.Apply(float64(col)+1, float64(row)+1)
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}

	if a.Contains(orb.Point{(x0 + x1) / 2, (y0 + y1) / 2}) {
		return true
	}
	for _, poly := range polys {
		for _, ring := range poly {
			for i := 0; i < len(ring); i++ {
				p := ring[i]
				if p[0] >= x0 && p[0] <= x1 && p[1] >= y0 && p[1] <= y1 {
					return true
				}
				if i+1 < len(ring) && segmentCrossesBox(p, ring[i+1], x0, y0, x1, y1) {
					return true
				}
			}
		}
	}
	return false
}

// segmentCrossesBox is a Liang-Barsky clip test: it reports whether any
// part of segment a-b lies within the axis-aligned box.
func segmentCrossesBox(a, b orb.Point, x0, y0, x1, y1 float64) bool {
	dx, dy := b[0]-a[0], b[1]-a[1]
	t0, t1 := 0.0, 1.0

	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return false
			}
			if t < t1 {
				t1 = t
			}
		}
		return true
	}

	return clip(-dx, a[0]-x0) && clip(dx, x1-a[0]) &&
		clip(-dy, a[1]-y0) && clip(dy, y1-a[1])
}
