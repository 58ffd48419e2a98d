// Package geotiff reads and writes single-band georeferenced TIFF files.
//
// It covers exactly the subset of the format the fetch pipeline needs:
// classic (non-Big) TIFF, one band, uint8/int16/float32 samples, strip or
// tile layout, none/deflate compression with optional horizontal predictor,
// reduced-resolution overview IFDs, GDAL nodata and metadata tags, and the
// GeoTIFF georeferencing tags.
package geotiff

import (
	"fmt"
	"math"
)

// DataType is the pixel sample type of a raster.
type DataType int

const (
	Uint8 DataType = iota
	Int16
	Float32
)

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// Size returns the sample size in bytes.
func (d DataType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16:
		return 2
	case Float32:
		return 4
	}
	return 0
}

// Clamp coerces v into the representable range of d. Float32 passes
// through unchanged.
func (d DataType) Clamp(v float64) float64 {
	switch d {
	case Uint8:
		return math.Min(255, math.Max(0, math.Round(v)))
	case Int16:
		return math.Min(32767, math.Max(-32768, math.Round(v)))
	}
	return v
}

// Compression selects the block codec.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionDeflate
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionDeflate:
		return "deflate"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// Image is a decoded single-band raster with its georeferencing.
// Pix is row-major float64 regardless of the on-disk sample type, which
// represents every supported type exactly.
type Image struct {
	Width, Height int
	DataType      DataType
	NoData        *float64
	Transform     [6]float64 // GDAL geotransform order
	EPSG          int
	Pix           []float64
}

// At returns the sample at (col,row). No bounds checking.
func (im *Image) At(col, row int) float64 { return im.Pix[row*im.Width+col] }

// TIFF tag and type constants shared by the encoder and decoder.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeDouble   = 12

	tagNewSubfileType            = 254
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagImageDescription          = 270
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagXResolution               = 282
	tagYResolution               = 283
	tagPlanarConfiguration       = 284
	tagResolutionUnit            = 296
	tagSoftware                  = 305
	tagPredictor                 = 317
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagSampleFormat              = 339

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALMetadata    = 42112
	tagGDALNoData      = 42113

	compressionRawTag     = 1
	compressionLZWTag     = 5
	compressionDeflateTag = 8
	compressionOldDeflate = 32946

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

func (d DataType) bits() uint16 {
	return uint16(d.Size() * 8)
}

func (d DataType) sampleFormat() uint16 {
	switch d {
	case Int16:
		return sampleFormatInt
	case Float32:
		return sampleFormatFloat
	}
	return sampleFormatUint
}
