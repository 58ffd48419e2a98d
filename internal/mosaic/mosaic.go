// Package mosaic assembles fetched tiles into one contiguous raster.
package mosaic

import (
	"fmt"
	"math"

	"soilfetch/internal/errs"
	"soilfetch/internal/grid"
	"soilfetch/pkg/geotiff"
)

// Mosaic is a single-band raster under assembly. Placement writes into
// disjoint windows, so concurrent PlaceTile calls for distinct windows
// are safe without locking.
type Mosaic struct {
	Grid     grid.Grid
	DataType geotiff.DataType
	NoData   *float64
	Pix      []float64
}

// New allocates a mosaic over g filled with the nodata value (or zero
// when the coverage has none).
func New(g grid.Grid, dt geotiff.DataType, nodata *float64) *Mosaic {
	m := &Mosaic{Grid: g, DataType: dt, NoData: nodata, Pix: make([]float64, g.Width*g.Height)}
	if nodata != nil && *nodata != 0 {
		for i := range m.Pix {
			m.Pix[i] = *nodata
		}
	}
	return m
}

// At returns the sample at (col,row).
func (m *Mosaic) At(col, row int) float64 { return m.Pix[row*m.Grid.Width+col] }

// Set writes the sample at (col,row).
func (m *Mosaic) Set(col, row int, v float64) { m.Pix[row*m.Grid.Width+col] = v }

// IsNoData reports whether v equals the mosaic's nodata value, treating
// NaN as equal to itself.
func (m *Mosaic) IsNoData(v float64) bool {
	if m.NoData == nil {
		return false
	}
	if math.IsNaN(*m.NoData) {
		return math.IsNaN(v)
	}
	return v == *m.NoData
}

// PlaceTile copies a decoded tile into its window. The tile must match
// the window's dimensions exactly; the planner guarantees windows are
// disjoint, so placement order never affects the result.
func (m *Mosaic) PlaceTile(w grid.Window, img *geotiff.Image) error {
	if img.Width != w.Width || img.Height != w.Height {
		return fmt.Errorf("%w: %s holds a %dx%d raster", errs.ErrCorruptResponse, w, img.Width, img.Height)
	}
	if w.OffX < 0 || w.OffY < 0 || w.OffX+w.Width > m.Grid.Width || w.OffY+w.Height > m.Grid.Height {
		return fmt.Errorf("%w: %s outside %dx%d mosaic", errs.ErrInvalidParameters, w, m.Grid.Width, m.Grid.Height)
	}
	for r := 0; r < w.Height; r++ {
		src := img.Pix[r*w.Width : (r+1)*w.Width]
		dst := m.Pix[(w.OffY+r)*m.Grid.Width+w.OffX:]
		copy(dst[:w.Width], src)
	}
	return nil
}

// ConvertUnits switches the mosaic to float32 mapped units: every valid
// sample is divided by factor and nodata becomes NaN.
func (m *Mosaic) ConvertUnits(factor float64) error {
	if factor == 0 {
		return fmt.Errorf("%w: zero conversion factor", errs.ErrInvalidParameters)
	}
	for i, v := range m.Pix {
		if m.IsNoData(v) {
			m.Pix[i] = math.NaN()
			continue
		}
		m.Pix[i] = v / factor
	}
	m.DataType = geotiff.Float32
	nan := math.NaN()
	m.NoData = &nan
	return nil
}
