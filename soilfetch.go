// Package soilfetch retrieves gridded soil property rasters for an area
// of interest from a remote coverage service. A fetch plans the covered
// pixel window into bounded tiles, downloads them concurrently with
// retries, assembles the mosaic, then optionally reprojects, converts to
// conventional units, clips to the area of interest and writes a
// GeoTIFF.
package soilfetch

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"soilfetch/internal/coverage"
	"soilfetch/internal/crs"
	"soilfetch/internal/errs"
	"soilfetch/internal/grid"
	"soilfetch/internal/mask"
	"soilfetch/internal/mosaic"
	"soilfetch/internal/progress"
	"soilfetch/internal/warp"
	"soilfetch/internal/writer"
)

const defaultBlockSize = 1024

// Client fetches soil property rasters. The zero configuration talks to
// the public service with four concurrent workers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	workers    int
	retry      RetryPolicy
}

// New builds a Client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     zap.NewNop(),
		workers:    4,
		retry:      coverage.DefaultRetryPolicy,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request describes one fetch.
type Request struct {
	ServiceID  string
	CoverageID string
	AOI        AOI

	// DestinationPath receives the GeoTIFF; empty keeps the raster in
	// memory.
	DestinationPath string

	// TargetCRS reprojects the output, e.g. "EPSG:3857". Empty keeps the
	// service's native CRS.
	TargetCRS string
	// Resampling is "nearest" (default), "bilinear" or "cubic"; it only
	// applies when TargetCRS differs from the service CRS.
	Resampling string

	// Convert maps stored integers to conventional units: float32
	// samples, NaN nodata, values divided by the property's factor.
	Convert bool

	// AllTouched keeps every pixel whose cell touches the geometry
	// instead of only pixels whose center is inside.
	AllTouched bool
	// Invert masks the inside of the geometry instead of the outside.
	Invert bool

	// BlockWidth and BlockHeight bound tile size in pixels; 0 means 1024.
	BlockWidth  int
	BlockHeight int

	DestinationOptions DestinationOptions

	// ShowProgress enables a terminal progress line on stderr;
	// TransientProgress rewrites it in place and clears it when done.
	// Progress, when set, receives the events instead. Progress
	// observation never changes the result.
	ShowProgress      bool
	TransientProgress bool
	Progress          progress.Reporter
}

func (r *Request) reporter() progress.Reporter {
	if r.Progress != nil {
		return r.Progress
	}
	if r.ShowProgress {
		return progress.NewTerminal(os.Stderr, r.TransientProgress)
	}
	return progress.Nop()
}

// FetchAndWrite runs the full pipeline for one coverage and returns a
// handle to the finished raster. On any failure no destination file is
// created and the returned error wraps one of the package's error
// categories.
func (c *Client) FetchAndWrite(ctx context.Context, req Request) (*Raster, error) {
	prop, err := LookupProperty(req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !HasCoverage(req.ServiceID, req.CoverageID) {
		return nil, fmt.Errorf("%w: service %q has no coverage %q", errs.ErrInvalidParameters, req.ServiceID, req.CoverageID)
	}
	if req.AOI.Geometry == nil {
		return nil, fmt.Errorf("%w: no geometry", errs.ErrInvalidAOI)
	}
	resampling, err := warp.ParseResampling(req.Resampling)
	if err != nil {
		return nil, err
	}
	targetCRS := crs.WGS84
	if req.TargetCRS != "" {
		if targetCRS, err = crs.Parse(req.TargetCRS); err != nil {
			return nil, err
		}
	}
	if err := req.DestinationOptions.Validate(); err != nil {
		return nil, err
	}
	bw, bh := req.BlockWidth, req.BlockHeight
	if bw == 0 {
		bw = defaultBlockSize
	}
	if bh == 0 {
		bh = defaultBlockSize
	}
	if bw < 0 || bh < 0 {
		return nil, fmt.Errorf("%w: block size %dx%d must be positive", errs.ErrInvalidParameters, bw, bh)
	}

	sub, err := c.coveredWindow(req.AOI, req.AllTouched)
	if err != nil {
		return nil, err
	}

	windows, err := grid.Plan(sub.Width, sub.Height, bw, bh)
	if err != nil {
		return nil, err
	}

	rep := req.reporter()
	rep.Start(len(windows))
	defer rep.Done()

	c.logger.Info("fetching coverage",
		zap.String("service", req.ServiceID),
		zap.String("coverage", req.CoverageID),
		zap.Int("width", sub.Width),
		zap.Int("height", sub.Height),
		zap.Int("tiles", len(windows)))

	rep.Stage("fetch")
	nodata := prop.NoData
	m := mosaic.New(sub, prop.DataType, &nodata)
	if err := c.fetchTiles(ctx, req, sub, windows, m, rep); err != nil {
		return nil, err
	}

	if targetCRS != sub.CRS {
		rep.Stage("reproject")
		if m, err = warp.Reproject(m, targetCRS, resampling); err != nil {
			return nil, err
		}
	}

	unit := prop.NativeUnit
	if req.Convert {
		rep.Stage("convert")
		if err := m.ConvertUnits(prop.Factor); err != nil {
			return nil, err
		}
		unit = prop.MappedUnit
	}

	rep.Stage("mask")
	if err := mask.Apply(m, req.AOI, req.AllTouched, req.Invert); err != nil {
		return nil, err
	}

	rep.Stage("write")
	description := fmt.Sprintf("%s_%s|%s", req.ServiceID, req.CoverageID, unit)
	raster := &Raster{
		Path:        req.DestinationPath,
		Width:       m.Grid.Width,
		Height:      m.Grid.Height,
		CRS:         m.Grid.CRS.String(),
		Transform:   m.Grid.Transform.GeoTransform(),
		DataType:    m.DataType,
		NoData:      m.NoData,
		Description: description,
	}
	if req.DestinationPath == "" || req.DestinationOptions.Driver == "mem" {
		raster.Path = ""
		if raster.Bytes, err = writer.Encode(m, description, req.DestinationOptions); err != nil {
			return nil, err
		}
		return raster, nil
	}
	if err := writer.Write(req.DestinationPath, m, description, req.DestinationOptions, c.logger); err != nil {
		return nil, err
	}
	return raster, nil
}

// coveredWindow resolves the AOI onto the service grid: its envelope in
// the service CRS, padded half a pixel when allTouched so boundary cells
// survive, snapped outward to pixel edges and clipped to the coverage
// extent.
func (c *Client) coveredWindow(a AOI, allTouched bool) (grid.Grid, error) {
	service := serviceGrid()
	bound := a.Reproject(service.CRS).Bound()

	pad := 0.0
	if allTouched {
		pad = 0.5 * gridResolution
	}
	minX, maxX := bound.Min[0]-pad, bound.Max[0]+pad
	minY, maxY := bound.Min[1]-pad, bound.Max[1]+pad

	inv, err := service.Transform.Invert()
	if err != nil {
		return grid.Grid{}, err
	}
	c0f, r0f := inv.Apply(minX, maxY)
	c1f, r1f := inv.Apply(maxX, minY)

	col0 := clamp(int(math.Floor(c0f)), 0, service.Width)
	row0 := clamp(int(math.Floor(r0f)), 0, service.Height)
	col1 := clamp(int(math.Ceil(c1f)), 0, service.Width)
	row1 := clamp(int(math.Ceil(r1f)), 0, service.Height)

	if col1 <= col0 || row1 <= row0 {
		return grid.Grid{}, fmt.Errorf("%w: geometry lies outside the coverage extent", errs.ErrInvalidAOI)
	}
	return grid.Grid{
		Width:     col1 - col0,
		Height:    row1 - row0,
		CRS:       service.CRS,
		Transform: service.Transform.Translate(col0, row0),
	}, nil
}

// fetchTiles downloads every planned window concurrently and places the
// results. The first failure cancels the remaining fetches and is
// reported with its tile position.
func (c *Client) fetchTiles(ctx context.Context, req Request, sub grid.Grid, windows []grid.Window, m *mosaic.Mosaic, rep progress.Reporter) error {
	client := coverage.NewClient(c.baseURL, c.httpClient, c.retry, c.logger)
	remoteID := remoteCoverageID(req.ServiceID, req.CoverageID)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, w := range windows {
		w := w
		g.Go(func() error {
			minX, minY, maxX, maxY := sub.WindowBounds(w)
			img, err := client.Fetch(ctx, coverage.Request{
				ServiceID:  req.ServiceID,
				CoverageID: remoteID,
				MinX:       minX,
				MinY:       minY,
				MaxX:       maxX,
				MaxY:       maxY,
				CRS:        sub.CRS,
				Width:      w.Width,
				Height:     w.Height,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", w, err)
			}
			if err := m.PlaceTile(w, img); err != nil {
				return err
			}
			rep.Advance(1)
			return nil
		})
	}
	return g.Wait()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
