package grid

import (
	"fmt"

	"soilfetch/internal/errs"
)

// Affine is a GDAL-style geotransform mapping pixel (col,row) to
// georeferenced (x,y):
//
//	x = C + col*A + row*B
//	y = F + col*D + row*E
//
// For north-up rasters B and D are zero and E is negative.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// NorthUp builds the common axis-aligned transform from an origin
// (top-left corner) and pixel sizes. resY is the positive pixel height.
func NorthUp(originX, originY, resX, resY float64) Affine {
	return Affine{A: resX, C: originX, E: -resY, F: originY}
}

// Apply maps pixel coordinates to georeferenced coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.C + col*t.A + row*t.B, t.F + col*t.D + row*t.E
}

// Invert returns the inverse transform.
func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return Affine{}, fmt.Errorf("%w: singular geotransform", errs.ErrReprojectionFailure)
	}
	inv := Affine{
		A: t.E / det,
		B: -t.B / det,
		D: -t.D / det,
		E: t.A / det,
	}
	inv.C = -(inv.A*t.C + inv.B*t.F)
	inv.F = -(inv.D*t.C + inv.E*t.F)
	return inv, nil
}

// Translate returns the transform of a sub-window whose top-left pixel is
// (col,row) in t's pixel space.
func (t Affine) Translate(col, row int) Affine {
	out := t
	out.C, out.F = t.Apply(float64(col), float64(row))
	return out
}

// GeoTransform returns the six coefficients in GDAL order.
func (t Affine) GeoTransform() [6]float64 {
	return [6]float64{t.C, t.A, t.B, t.F, t.D, t.E}
}

// FromGeoTransform builds an Affine from GDAL coefficient order.
func FromGeoTransform(gt [6]float64) Affine {
	return Affine{C: gt[0], A: gt[1], B: gt[2], F: gt[3], D: gt[4], E: gt[5]}
}
