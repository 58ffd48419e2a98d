// Package writer persists a finished mosaic as a GeoTIFF, either
// atomically to disk or into memory when no destination is given.
package writer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"soilfetch/internal/errs"
	"soilfetch/internal/mosaic"
	"soilfetch/pkg/geotiff"
)

// Options mirror the common raster creation options. The zero value
// writes an uncompressed, strip-organised GeoTIFF.
type Options struct {
	// Driver selects the output driver: "gtiff" (default) or "mem".
	Driver string

	// Compression is "none" (default) or "deflate".
	Compression string
	// ZLevel tunes deflate, 1 (fast) to 9 (small). 0 picks the default.
	ZLevel int
	// Predictor enables horizontal differencing before compression.
	// Integer data only.
	Predictor bool

	// Tiled switches from strips to square tiles.
	Tiled bool
	// BlockWidth and BlockHeight size tiles (multiples of 16) or, for
	// strips, BlockHeight sets rows per strip.
	BlockWidth, BlockHeight int

	// Overviews adds that many factor-of-two reduced-resolution levels.
	Overviews int
	// OverviewResampling is "average" (default) or "nearest".
	OverviewResampling string
	// OverviewCompression overrides Compression for overview levels;
	// empty inherits it.
	OverviewCompression string

	// Sparse omits blocks that are entirely nodata.
	Sparse bool
	// Statistics embeds band statistics in the output metadata.
	Statistics bool

	// BigTIFF is "no" (default), "auto" or "yes". Only classic TIFF
	// output is implemented, so "yes" is rejected and "auto" behaves
	// like "no".
	BigTIFF string

	// NumThreads bounds parallel block compression. 0 means sequential.
	NumThreads int

	// Metadata items are stored verbatim in the raster's metadata.
	Metadata map[string]string
}

// Validate rejects option combinations the writer cannot honour.
func (o Options) Validate() error {
	switch o.Driver {
	case "", "gtiff", "mem":
	default:
		return fmt.Errorf("%w: unknown driver %q", errs.ErrInvalidParameters, o.Driver)
	}
	switch o.Compression {
	case "", "none", "deflate":
	default:
		return fmt.Errorf("%w: unknown compression %q", errs.ErrInvalidParameters, o.Compression)
	}
	if o.ZLevel < 0 || o.ZLevel > 9 {
		return fmt.Errorf("%w: zlevel %d out of range", errs.ErrInvalidParameters, o.ZLevel)
	}
	switch o.BigTIFF {
	case "", "no", "auto":
	case "yes":
		return fmt.Errorf("%w: BigTIFF output is not supported", errs.ErrInvalidParameters)
	default:
		return fmt.Errorf("%w: unknown BigTIFF mode %q", errs.ErrInvalidParameters, o.BigTIFF)
	}
	switch o.OverviewResampling {
	case "", "nearest", "average":
	default:
		return fmt.Errorf("%w: unknown overview resampling %q", errs.ErrInvalidParameters, o.OverviewResampling)
	}
	switch o.OverviewCompression {
	case "", "none", "deflate":
	default:
		return fmt.Errorf("%w: unknown overview compression %q", errs.ErrInvalidParameters, o.OverviewCompression)
	}
	if o.Tiled {
		bw, bh := o.BlockWidth, o.BlockHeight
		if bw == 0 {
			bw = 256
		}
		if bh == 0 {
			bh = 256
		}
		if bw%16 != 0 || bh%16 != 0 {
			return fmt.Errorf("%w: tile size %dx%d must be a multiple of 16", errs.ErrInvalidParameters, bw, bh)
		}
	}
	return nil
}

func (o Options) encodeOptions(m *mosaic.Mosaic, description string) geotiff.Options {
	comp := geotiff.CompressionNone
	if o.Compression == "deflate" {
		comp = geotiff.CompressionDeflate
	}
	ovrComp := comp
	switch o.OverviewCompression {
	case "none":
		ovrComp = geotiff.CompressionNone
	case "deflate":
		ovrComp = geotiff.CompressionDeflate
	}
	return geotiff.Options{
		Width:               m.Grid.Width,
		Height:              m.Grid.Height,
		DataType:            m.DataType,
		NoData:              m.NoData,
		Transform:           m.Grid.Transform.GeoTransform(),
		EPSG:                m.Grid.CRS.EPSG(),
		Description:         description,
		Metadata:            o.Metadata,
		Compression:         comp,
		ZLevel:              o.ZLevel,
		Predictor:           o.Predictor && m.DataType != geotiff.Float32,
		Tiled:               o.Tiled,
		BlockWidth:          o.BlockWidth,
		BlockHeight:         o.BlockHeight,
		Overviews:           o.Overviews,
		OverviewResampling:  o.OverviewResampling,
		OverviewCompression: ovrComp,
		Sparse:              o.Sparse,
		Statistics:          o.Statistics,
		NumThreads:          o.NumThreads,
	}
}

// Encode renders the mosaic into memory.
func Encode(m *mosaic.Mosaic, description string, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := geotiff.Encode(&buf, m.Pix, opts.encodeOptions(m, description)); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrWriteFailure, err)
	}
	return buf.Bytes(), nil
}

// Write encodes the mosaic and atomically replaces path with the result.
// The bytes land in a temporary file first, so a failure at any point
// leaves no partial output behind.
func Write(path string, m *mosaic.Mosaic, description string, opts Options, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := Encode(m, description, opts)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrWriteFailure, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrWriteFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrWriteFailure, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", errs.ErrWriteFailure, err)
	}

	logger.Debug("raster written",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.Int("width", m.Grid.Width),
		zap.Int("height", m.Grid.Height))
	return nil
}
