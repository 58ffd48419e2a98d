package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilfetch/internal/crs"
	"soilfetch/internal/errs"
)

func TestAffineRoundTrip(t *testing.T) {
	tr := NorthUp(-180, 88, 1.0/480, 1.0/480)
	inv, err := tr.Invert()
	require.NoError(t, err)

	for _, px := range [][2]float64{{0, 0}, {100.5, 40.25}, {172800, 72000}} {
		x, y := tr.Apply(px[0], px[1])
		col, row := inv.Apply(x, y)
		assert.InDelta(t, px[0], col, 1e-6)
		assert.InDelta(t, px[1], row, 1e-6)
	}
}

func TestAffineInvertSingular(t *testing.T) {
	_, err := Affine{}.Invert()
	require.ErrorIs(t, err, errs.ErrReprojectionFailure)
}

func TestAffineTranslate(t *testing.T) {
	tr := NorthUp(10, 20, 0.5, 0.25)
	sub := tr.Translate(4, 8)

	x, y := sub.Apply(0, 0)
	wantX, wantY := tr.Apply(4, 8)
	assert.Equal(t, wantX, x)
	assert.Equal(t, wantY, y)

	// Pixel sizes are unchanged.
	assert.Equal(t, tr.A, sub.A)
	assert.Equal(t, tr.E, sub.E)
}

func TestGeoTransformRoundTrip(t *testing.T) {
	tr := NorthUp(5.1, 52.3, 0.01, 0.02)
	assert.Equal(t, tr, FromGeoTransform(tr.GeoTransform()))
}

func TestWindowBoundsAndTransform(t *testing.T) {
	g := Grid{
		Width: 100, Height: 100,
		CRS:       crs.WGS84,
		Transform: NorthUp(0, 50, 0.1, 0.1),
	}
	w := Window{Col: 1, Row: 2, OffX: 10, OffY: 20, Width: 30, Height: 40}

	minX, minY, maxX, maxY := g.WindowBounds(w)
	assert.InDelta(t, 1.0, minX, 1e-9)
	assert.InDelta(t, 4.0, maxX, 1e-9)
	assert.InDelta(t, 48.0, maxY, 1e-9)
	assert.InDelta(t, 44.0, minY, 1e-9)

	sub := g.WindowTransform(w)
	x, y := sub.Apply(0, 0)
	assert.InDelta(t, minX, x, 1e-9)
	assert.InDelta(t, maxY, y, 1e-9)
}
