package mosaic

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilfetch/internal/crs"
	"soilfetch/internal/errs"
	"soilfetch/internal/grid"
	"soilfetch/pkg/geotiff"
)

func testGrid(w, h int) grid.Grid {
	return grid.Grid{
		Width: w, Height: h,
		CRS:       crs.WGS84,
		Transform: grid.NorthUp(0, 10, 0.01, 0.01),
	}
}

func tileFor(w grid.Window, value float64) *geotiff.Image {
	img := &geotiff.Image{Width: w.Width, Height: w.Height, DataType: geotiff.Int16, Pix: make([]float64, w.Pixels())}
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

func TestPlacementOrderInvariant(t *testing.T) {
	windows, err := grid.Plan(100, 80, 32, 32)
	require.NoError(t, err)

	nodata := 0.0
	build := func(order []int) *Mosaic {
		m := New(testGrid(100, 80), geotiff.Int16, &nodata)
		for _, i := range order {
			require.NoError(t, m.PlaceTile(windows[i], tileFor(windows[i], float64(i+1))))
		}
		return m
	}

	forward := make([]int, len(windows))
	for i := range forward {
		forward[i] = i
	}
	shuffled := append([]int(nil), forward...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	assert.Equal(t, build(forward).Pix, build(shuffled).Pix)
}

func TestPlaceTileRejectsMismatch(t *testing.T) {
	nodata := 0.0
	m := New(testGrid(64, 64), geotiff.Int16, &nodata)
	w := grid.Window{OffX: 0, OffY: 0, Width: 32, Height: 32}

	err := m.PlaceTile(w, &geotiff.Image{Width: 16, Height: 32, Pix: make([]float64, 16*32)})
	require.ErrorIs(t, err, errs.ErrCorruptResponse)

	outside := grid.Window{OffX: 48, OffY: 0, Width: 32, Height: 32}
	err = m.PlaceTile(outside, tileFor(outside, 1))
	require.ErrorIs(t, err, errs.ErrInvalidParameters)
}

func TestNewFillsNodata(t *testing.T) {
	nodata := -999.0
	m := New(testGrid(4, 4), geotiff.Int16, &nodata)
	for _, v := range m.Pix {
		require.Equal(t, -999.0, v)
	}
}

func TestConvertUnits(t *testing.T) {
	nodata := 0.0
	m := New(testGrid(2, 2), geotiff.Int16, &nodata)
	m.Set(0, 0, 155)
	m.Set(1, 0, 20)
	// (0,1) and (1,1) stay nodata.

	require.NoError(t, m.ConvertUnits(10))

	assert.Equal(t, geotiff.Float32, m.DataType)
	require.NotNil(t, m.NoData)
	assert.True(t, math.IsNaN(*m.NoData))

	assert.InDelta(t, 15.5, m.At(0, 0), 1e-9)
	assert.InDelta(t, 2.0, m.At(1, 0), 1e-9)
	assert.True(t, math.IsNaN(m.At(0, 1)))
	assert.True(t, math.IsNaN(m.At(1, 1)))

	require.ErrorIs(t, m.ConvertUnits(0), errs.ErrInvalidParameters)
}

func TestIsNoDataNaN(t *testing.T) {
	nan := math.NaN()
	m := New(testGrid(1, 1), geotiff.Float32, &nan)
	assert.True(t, m.IsNoData(math.NaN()))
	assert.False(t, m.IsNoData(0))

	m.NoData = nil
	assert.False(t, m.IsNoData(math.NaN()))
}
