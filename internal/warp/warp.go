// Package warp reprojects a mosaic between coordinate reference systems,
// resampling samples through a configurable kernel.
package warp

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"soilfetch/internal/crs"
	"soilfetch/internal/errs"
	"soilfetch/internal/grid"
	"soilfetch/internal/mosaic"
)

// Resampling selects the interpolation kernel.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
	Cubic
)

// ParseResampling maps the usual method names onto kernels.
func ParseResampling(s string) (Resampling, error) {
	switch s {
	case "", "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	case "cubic":
		return Cubic, nil
	}
	return 0, fmt.Errorf("%w: unknown resampling method %q", errs.ErrInvalidParameters, s)
}

func (r Resampling) String() string {
	switch r {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Cubic:
		return "cubic"
	}
	return fmt.Sprintf("Resampling(%d)", int(r))
}

// Reproject warps src into dstCRS. When the CRS already matches, src is
// returned unchanged; no resampling happens and values pass through
// exactly. The output grid preserves the source pixel count, with its
// extent derived by densified edge sampling so curved projections are
// covered.
func Reproject(src *mosaic.Mosaic, dstCRS crs.CRS, method Resampling) (*mosaic.Mosaic, error) {
	if src.Grid.CRS == dstCRS {
		return src, nil
	}

	minX, minY, maxX, maxY, err := projectedExtent(src.Grid, dstCRS)
	if err != nil {
		return nil, err
	}
	if maxX <= minX || maxY <= minY {
		return nil, fmt.Errorf("%w: degenerate extent in %s", errs.ErrReprojectionFailure, dstCRS)
	}

	dstGrid := grid.Grid{
		Width:  src.Grid.Width,
		Height: src.Grid.Height,
		CRS:    dstCRS,
		Transform: grid.NorthUp(minX, maxY,
			(maxX-minX)/float64(src.Grid.Width),
			(maxY-minY)/float64(src.Grid.Height)),
	}

	dst := mosaic.New(dstGrid, src.DataType, src.NoData)
	srcInv, err := src.Grid.Transform.Invert()
	if err != nil {
		return nil, err
	}

	fill := 0.0
	if src.NoData != nil {
		fill = *src.NoData
	}

	for row := 0; row < dstGrid.Height; row++ {
		for col := 0; col < dstGrid.Width; col++ {
			x, y := dstGrid.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
			p := crs.Transform(orb.Point{x, y}, dstCRS, src.Grid.CRS)
			fc, fr := srcInv.Apply(p[0], p[1])
			v, ok := sample(src, fc-0.5, fr-0.5, method)
			if !ok {
				v = fill
			}
			dst.Set(col, row, v)
		}
	}
	return dst, nil
}

// projectedExtent transforms the grid outline into the target CRS,
// walking each edge so projection curvature cannot clip the extent.
func projectedExtent(g grid.Grid, to crs.CRS) (minX, minY, maxX, maxY float64, err error) {
	const steps = 21
	first := true
	visit := func(col, row float64) {
		x, y := g.Transform.Apply(col, row)
		p := crs.Transform(orb.Point{x, y}, g.CRS, to)
		if math.IsInf(p[0], 0) || math.IsInf(p[1], 0) || math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return
		}
		if first {
			minX, maxX, minY, maxY = p[0], p[0], p[1], p[1]
			first = false
			return
		}
		minX = math.Min(minX, p[0])
		maxX = math.Max(maxX, p[0])
		minY = math.Min(minY, p[1])
		maxY = math.Max(maxY, p[1])
	}
	w, h := float64(g.Width), float64(g.Height)
	for i := 0; i <= steps; i++ {
		t := float64(i) / steps
		visit(t*w, 0)
		visit(t*w, h)
		visit(0, t*h)
		visit(w, t*h)
	}
	if first {
		return 0, 0, 0, 0, fmt.Errorf("%w: no finite coordinates in %s", errs.ErrReprojectionFailure, to)
	}
	return minX, minY, maxX, maxY, nil
}

// sample interpolates src at fractional pixel (fc,fr), pixel-center
// based. Nodata neighbours drop out of the kernel with their weight
// renormalised; a fully-nodata neighbourhood reports !ok.
func sample(src *mosaic.Mosaic, fc, fr float64, method Resampling) (float64, bool) {
	switch method {
	case Bilinear:
		return sampleKernel(src, fc, fr, 2, linearWeight)
	case Cubic:
		return sampleKernel(src, fc, fr, 4, cubicWeight)
	}
	col, row := int(math.Round(fc)), int(math.Round(fr))
	if col < 0 || row < 0 || col >= src.Grid.Width || row >= src.Grid.Height {
		return 0, false
	}
	v := src.At(col, row)
	if src.IsNoData(v) {
		return 0, false
	}
	return v, true
}

func linearWeight(d float64) float64 {
	d = math.Abs(d)
	if d >= 1 {
		return 0
	}
	return 1 - d
}

// cubicWeight is the Catmull-Rom kernel (a = -0.5).
func cubicWeight(d float64) float64 {
	d = math.Abs(d)
	switch {
	case d < 1:
		return 1.5*d*d*d - 2.5*d*d + 1
	case d < 2:
		return -0.5*d*d*d + 2.5*d*d - 4*d + 2
	}
	return 0
}

func sampleKernel(src *mosaic.Mosaic, fc, fr float64, width int, weight func(float64) float64) (float64, bool) {
	base := width/2 - 1
	c0 := int(math.Floor(fc)) - base
	r0 := int(math.Floor(fr)) - base

	var sum, wsum float64
	for dr := 0; dr < width; dr++ {
		for dc := 0; dc < width; dc++ {
			col, row := c0+dc, r0+dr
			if col < 0 || row < 0 || col >= src.Grid.Width || row >= src.Grid.Height {
				continue
			}
			v := src.At(col, row)
			if src.IsNoData(v) {
				continue
			}
			w := weight(fc-float64(col)) * weight(fr-float64(row))
			sum += v * w
			wsum += w
		}
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}
