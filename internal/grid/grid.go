// Package grid models pixel grids, their georeferencing and the
// partitioning of a grid into fetchable windows.
package grid

import (
	"fmt"

	"soilfetch/internal/crs"
)

// Grid is a georeferenced pixel grid: dimensions plus the transform that
// places pixel (0,0)'s top-left corner in CRS coordinates.
type Grid struct {
	Width, Height int
	CRS           crs.CRS
	Transform     Affine
}

// Bounds returns (minX, minY, maxX, maxY) of the full grid, assuming a
// north-up transform.
func (g Grid) Bounds() (minX, minY, maxX, maxY float64) {
	minX, maxY = g.Transform.Apply(0, 0)
	maxX, minY = g.Transform.Apply(float64(g.Width), float64(g.Height))
	return
}

// Window is a rectangular pixel sub-region of a grid, addressed by its
// tile position in the planner's row-major layout.
type Window struct {
	Col, Row   int // tile indices in the plan
	OffX, OffY int // pixel offset of the top-left corner
	Width      int
	Height     int
}

func (w Window) String() string {
	return fmt.Sprintf("tile (%d,%d) at px (%d,%d) %dx%d", w.Row, w.Col, w.OffX, w.OffY, w.Width, w.Height)
}

// Pixels returns the pixel area of the window.
func (w Window) Pixels() int { return w.Width * w.Height }

// Bounds returns the window's georeferenced extent within g.
func (g Grid) WindowBounds(w Window) (minX, minY, maxX, maxY float64) {
	minX, maxY = g.Transform.Apply(float64(w.OffX), float64(w.OffY))
	maxX, minY = g.Transform.Apply(float64(w.OffX+w.Width), float64(w.OffY+w.Height))
	return
}

// WindowTransform returns the geotransform of the sub-grid covered by w.
func (g Grid) WindowTransform(w Window) Affine {
	return g.Transform.Translate(w.OffX, w.OffY)
}
