package soilfetch

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilfetch/internal/progress"
	"soilfetch/pkg/geotiff"
)

// fakeService emulates the coverage endpoint: it parses the subset
// bounds out of each GetCoverage request and synthesises the tile at the
// service grid's native resolution. Pixel values are a function of the
// global pixel position, so a correctly assembled mosaic is verifiable
// regardless of how it was tiled.
type fakeService struct {
	calls atomic.Int32
	// fail decides per request whether to refuse it.
	fail func(minLon float64) bool
}

func globalValue(gcol, grow int) float64 { return float64((gcol+grow)%100 + 1) }

func (s *fakeService) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		q := r.URL.Query()
		require.Equal(t, "GetCoverage", q.Get("request"))
		require.Equal(t, "/map/clay.map", q.Get("map"))
		// The published identifier carries the service prefix even though
		// the catalog id does not.
		require.Equal(t, "clay_0-5cm_mean", q.Get("coverageId"))

		var minLon, maxLon, minLat, maxLat float64
		for _, sub := range q["subset"] {
			var lo, hi float64
			if n, _ := fmt.Sscanf(sub, "Long(%g,%g)", &lo, &hi); n == 2 {
				minLon, maxLon = lo, hi
			}
			if n, _ := fmt.Sscanf(sub, "Lat(%g,%g)", &lo, &hi); n == 2 {
				minLat, maxLat = lo, hi
			}
		}
		if s.fail != nil && s.fail(minLon) {
			http.Error(w, "service unavailable", http.StatusInternalServerError)
			return
		}

		const res = 1.0 / 480
		width := int(math.Round((maxLon - minLon) / res))
		height := int(math.Round((maxLat - minLat) / res))
		col0 := int(math.Round((minLon + 180) / res))
		row0 := int(math.Round((88 - maxLat) / res))

		nodata := 0.0
		pix := make([]float64, width*height)
		for row := 0; row < height; row++ {
			for col := 0; col < width; col++ {
				pix[row*width+col] = globalValue(col0+col, row0+row)
			}
		}
		var buf bytes.Buffer
		require.NoError(t, geotiff.Encode(&buf, pix, geotiff.Options{
			Width: width, Height: height,
			DataType:  geotiff.Int16,
			NoData:    &nodata,
			Transform: [6]float64{minLon, res, 0, maxLat, 0, -res},
			EPSG:      4326,
		}))
		w.Header().Set("Content-Type", "image/tiff")
		w.Write(buf.Bytes())
	}
}

func newTestClient(t *testing.T, svc *fakeService) (*Client, func()) {
	srv := httptest.NewServer(svc.handler(t))
	c := New(
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}),
	)
	return c, srv.Close
}

// squareAOI spans lon 5..5.05, lat 52..52.05: a 24x24 pixel window that
// splits into four 16px-bounded tiles.
func squareAOI(t *testing.T) AOI {
	t.Helper()
	a, err := NewAOI(orb.Polygon{{
		{5, 52}, {5.05, 52}, {5.05, 52.05}, {5, 52.05}, {5, 52},
	}})
	require.NoError(t, err)
	return a
}

func baseRequest(t *testing.T) Request {
	return Request{
		ServiceID:   "clay",
		CoverageID:  "0-5cm_mean",
		AOI:         squareAOI(t),
		BlockWidth:  16,
		BlockHeight: 16,
	}
}

func TestFetchAndWriteToFile(t *testing.T) {
	svc := &fakeService{}
	client, done := newTestClient(t, svc)
	defer done()

	path := filepath.Join(t.TempDir(), "clay.tif")
	req := baseRequest(t)
	req.DestinationPath = path

	raster, err := client.FetchAndWrite(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 4, svc.calls.Load(), "24x24 window with 16px blocks is four tiles")

	assert.Equal(t, path, raster.Path)
	assert.False(t, raster.InMemory())
	assert.Equal(t, 24, raster.Width)
	assert.Equal(t, 24, raster.Height)
	assert.Equal(t, "EPSG:4326", raster.CRS)
	assert.Equal(t, geotiff.Int16, raster.DataType)
	assert.Equal(t, "clay_0-5cm_mean|g/kg", raster.Description)

	img, err := raster.Open()
	require.NoError(t, err)
	col0 := int(math.Round((5.0 + 180) * 480))
	row0 := int(math.Round((88 - 52.05) * 480))
	for row := 0; row < 24; row++ {
		for col := 0; col < 24; col++ {
			require.Equal(t, globalValue(col0+col, row0+row), img.At(col, row),
				"pixel (%d,%d)", col, row)
		}
	}
}

func TestFetchInMemoryWhenNoDestination(t *testing.T) {
	svc := &fakeService{}
	client, done := newTestClient(t, svc)
	defer done()

	raster, err := client.FetchAndWrite(context.Background(), baseRequest(t))
	require.NoError(t, err)
	assert.True(t, raster.InMemory())
	assert.NotEmpty(t, raster.Bytes)

	img, err := raster.Open()
	require.NoError(t, err)
	assert.Equal(t, 24, img.Width)
}

func TestFetchConvertsUnits(t *testing.T) {
	svc := &fakeService{}
	client, done := newTestClient(t, svc)
	defer done()

	req := baseRequest(t)
	req.Convert = true
	raster, err := client.FetchAndWrite(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, geotiff.Float32, raster.DataType)
	assert.Equal(t, "clay_0-5cm_mean|%", raster.Description)
	require.NotNil(t, raster.NoData)
	assert.True(t, math.IsNaN(*raster.NoData))

	img, err := raster.Open()
	require.NoError(t, err)
	col0 := int(math.Round((5.0 + 180) * 480))
	row0 := int(math.Round((88 - 52.05) * 480))
	assert.InDelta(t, globalValue(col0, row0)/10, img.At(0, 0), 1e-6)
}

func TestFailingTileAbortsWholeFetch(t *testing.T) {
	svc := &fakeService{fail: func(minLon float64) bool { return minLon >= 5.025 }}
	client, done := newTestClient(t, svc)
	defer done()

	path := filepath.Join(t.TempDir(), "clay.tif")
	req := baseRequest(t)
	req.DestinationPath = path

	_, err := client.FetchAndWrite(context.Background(), req)
	require.ErrorIs(t, err, ErrNetworkFailure)
	assert.Contains(t, err.Error(), "tile (", "the error must name the failed tile")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no partial output may exist")
}

func TestProgressObservationDoesNotChangeOutput(t *testing.T) {
	svc := &fakeService{}
	client, done := newTestClient(t, svc)
	defer done()

	silent := baseRequest(t)
	silent.DestinationOptions.Compression = "deflate"
	quiet, err := client.FetchAndWrite(context.Background(), silent)
	require.NoError(t, err)

	var display strings.Builder
	observed := baseRequest(t)
	observed.DestinationOptions.Compression = "deflate"
	observed.Progress = progress.NewTerminal(&display, false)
	loud, err := client.FetchAndWrite(context.Background(), observed)
	require.NoError(t, err)

	assert.Equal(t, quiet.Bytes, loud.Bytes, "progress reporting must not affect the raster")
	assert.NotEmpty(t, display.String())
	assert.Contains(t, display.String(), "fetch")
	assert.Contains(t, display.String(), "4/4")
}

func TestMaskClipsToAOI(t *testing.T) {
	svc := &fakeService{}
	client, done := newTestClient(t, svc)
	defer done()

	// A triangle over half the square leaves the other half nodata.
	tri, err := NewAOI(orb.Polygon{{
		{5, 52}, {5.05, 52}, {5, 52.05}, {5, 52},
	}})
	require.NoError(t, err)

	req := baseRequest(t)
	req.AOI = tri
	raster, err := client.FetchAndWrite(context.Background(), req)
	require.NoError(t, err)

	img, err := raster.Open()
	require.NoError(t, err)
	valid := 0
	for _, v := range img.Pix {
		if v != 0 {
			valid++
		}
	}
	assert.Greater(t, valid, 0)
	assert.Less(t, valid, 24*24, "pixels outside the triangle must be nodata")
	// The far corner is outside the triangle.
	assert.Equal(t, 0.0, img.At(23, 0))
}

func TestInvertedMaskIsComplement(t *testing.T) {
	svc := &fakeService{}
	client, done := newTestClient(t, svc)
	defer done()

	tri, err := NewAOI(orb.Polygon{{
		{5, 52}, {5.05, 52}, {5, 52.05}, {5, 52},
	}})
	require.NoError(t, err)

	fetch := func(invert bool) *geotiff.Image {
		req := baseRequest(t)
		req.AOI = tri
		req.Invert = invert
		raster, err := client.FetchAndWrite(context.Background(), req)
		require.NoError(t, err)
		img, err := raster.Open()
		require.NoError(t, err)
		return img
	}

	keep, drop := fetch(false), fetch(true)
	for i := range keep.Pix {
		require.NotEqual(t, keep.Pix[i] != 0, drop.Pix[i] != 0,
			"pixel %d present in both or neither", i)
	}
}

func TestReprojectedOutput(t *testing.T) {
	svc := &fakeService{}
	client, done := newTestClient(t, svc)
	defer done()

	req := baseRequest(t)
	req.TargetCRS = "EPSG:3857"
	req.Resampling = "bilinear"
	raster, err := client.FetchAndWrite(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3857", raster.CRS)

	img, err := raster.Open()
	require.NoError(t, err)
	assert.Equal(t, 3857, img.EPSG)
}

func TestRequestValidation(t *testing.T) {
	client, done := newTestClient(t, &fakeService{})
	defer done()
	ctx := context.Background()

	bad := baseRequest(t)
	bad.ServiceID = "gold"
	_, err := client.FetchAndWrite(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidParameters)

	bad = baseRequest(t)
	bad.CoverageID = "sand_0-5cm_mean"
	_, err = client.FetchAndWrite(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidParameters)

	// The service prefix belongs to the published identifier, not the
	// catalog id.
	bad = baseRequest(t)
	bad.CoverageID = "clay_0-5cm_mean"
	_, err = client.FetchAndWrite(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidParameters)

	bad = baseRequest(t)
	bad.AOI = AOI{}
	_, err = client.FetchAndWrite(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidAOI)

	bad = baseRequest(t)
	bad.Resampling = "fancy"
	_, err = client.FetchAndWrite(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidParameters)

	bad = baseRequest(t)
	bad.BlockWidth = -4
	_, err = client.FetchAndWrite(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidParameters)

	bad = baseRequest(t)
	bad.DestinationOptions.BigTIFF = "yes"
	_, err = client.FetchAndWrite(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidParameters)

	// South of the coverage extent entirely.
	antarctic, err := NewAOI(orb.Polygon{{
		{10, -80}, {11, -80}, {11, -79}, {10, -79}, {10, -80},
	}})
	require.NoError(t, err)
	bad = baseRequest(t)
	bad.AOI = antarctic
	_, err = client.FetchAndWrite(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidAOI)
}

func TestAllTouchedPadsWindow(t *testing.T) {
	svc := &fakeService{}
	client, done := newTestClient(t, svc)
	defer done()

	req := baseRequest(t)
	req.AllTouched = true
	raster, err := client.FetchAndWrite(context.Background(), req)
	require.NoError(t, err)

	// The half-pixel pad pulls in one extra row and column on each side.
	assert.Equal(t, 26, raster.Width)
	assert.Equal(t, 26, raster.Height)

	img, err := raster.Open()
	require.NoError(t, err)
	valid := 0
	for _, v := range img.Pix {
		if v != 0 {
			valid++
		}
	}
	// All 24x24 interior pixels plus the touched boundary ring survive.
	assert.GreaterOrEqual(t, valid, 24*24)
}
