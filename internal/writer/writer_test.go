package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilfetch/internal/crs"
	"soilfetch/internal/errs"
	"soilfetch/internal/grid"
	"soilfetch/internal/mosaic"
	"soilfetch/pkg/geotiff"
)

func testMosaic() *mosaic.Mosaic {
	nodata := 0.0
	m := mosaic.New(grid.Grid{
		Width: 20, Height: 10,
		CRS:       crs.WGS84,
		Transform: grid.NorthUp(5, 52, 0.01, 0.01),
	}, geotiff.Int16, &nodata)
	for i := range m.Pix {
		m.Pix[i] = float64(i%300 + 1)
	}
	return m
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, Options{}.Validate())
	require.NoError(t, Options{Driver: "gtiff", Compression: "deflate", ZLevel: 9, BigTIFF: "auto"}.Validate())

	for _, bad := range []Options{
		{Driver: "netcdf"},
		{Compression: "lzw"},
		{ZLevel: 11},
		{BigTIFF: "yes"},
		{BigTIFF: "maybe"},
		{OverviewResampling: "cubic"},
		{Tiled: true, BlockWidth: 100},
	} {
		require.ErrorIs(t, bad.Validate(), errs.ErrInvalidParameters, "%+v", bad)
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clay.tif")
	m := testMosaic()

	require.NoError(t, Write(path, m, "clay|g/kg", Options{Compression: "deflate", Predictor: true}, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := geotiff.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.Pix, img.Pix)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "clay.tif", entries[0].Name())
}

func TestWriteOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tif")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, Write(path, testMosaic(), "", Options{}, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = geotiff.Decode(data)
	require.NoError(t, err)
}

func TestWriteFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "out.tif")

	err := Write(path, testMosaic(), "", Options{}, nil)
	require.ErrorIs(t, err, errs.ErrWriteFailure)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestInvalidOptionsLeaveNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tif")

	err := Write(path, testMosaic(), "", Options{BigTIFF: "yes"}, nil)
	require.ErrorIs(t, err, errs.ErrInvalidParameters)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestEncodeInMemory(t *testing.T) {
	data, err := Encode(testMosaic(), "desc", Options{Compression: "deflate"})
	require.NoError(t, err)
	img, err := geotiff.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Width)
	assert.Equal(t, 10, img.Height)
}
