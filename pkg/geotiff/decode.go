package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

// Decode parses a single-band classic TIFF from b. It reads the first
// (full resolution) IFD only; overview IFDs are ignored. Both byte orders
// are accepted since remote services are free to emit either.
func Decode(b []byte) (*Image, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("truncated TIFF header")
	}
	var order binary.ByteOrder
	switch {
	case b[0] == 'I' && b[1] == 'I':
		order = binary.LittleEndian
	case b[0] == 'M' && b[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file")
	}
	if order.Uint16(b[2:]) != 42 {
		return nil, fmt.Errorf("unsupported TIFF version %d", order.Uint16(b[2:]))
	}

	d := &decoder{buf: b, order: order}
	if err := d.readIFD(order.Uint32(b[4:])); err != nil {
		return nil, err
	}
	return d.decodeImage()
}

type decoder struct {
	buf   []byte
	order binary.ByteOrder

	width, height int
	bits          uint16
	format        uint16
	compression   uint16
	predictor     uint16
	samples       uint16

	rowsPerStrip          int
	tileWidth, tileHeight int
	offsets, counts       []uint32

	pixelScale []float64
	tiepoint   []float64
	geoKeys    []uint16
	nodata     *float64
}

type rawField struct {
	typ   uint16
	count uint32
	data  []byte
}

func typeSize(typ uint16) int {
	switch typ {
	case typeByte, typeASCII:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeRational, typeDouble:
		return 8
	}
	return 0
}

func (d *decoder) readIFD(offset uint32) error {
	b := d.buf
	if int(offset)+2 > len(b) {
		return fmt.Errorf("IFD offset %d out of range", offset)
	}
	n := int(d.order.Uint16(b[offset:]))
	pos := int(offset) + 2
	if pos+12*n+4 > len(b) {
		return fmt.Errorf("truncated IFD")
	}

	for i := 0; i < n; i++ {
		e := b[pos+12*i:]
		tag := d.order.Uint16(e)
		f := rawField{typ: d.order.Uint16(e[2:]), count: d.order.Uint32(e[4:])}
		size := typeSize(f.typ)
		if size == 0 {
			continue
		}
		byteLen := size * int(f.count)
		if byteLen <= 4 {
			f.data = e[8 : 8+byteLen]
		} else {
			off := int(d.order.Uint32(e[8:]))
			if off+byteLen > len(b) {
				return fmt.Errorf("tag %d value out of range", tag)
			}
			f.data = b[off : off+byteLen]
		}
		if err := d.applyField(tag, f); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) applyField(tag uint16, f rawField) error {
	switch tag {
	case tagImageWidth:
		d.width = int(d.intAt(f, 0))
	case tagImageLength:
		d.height = int(d.intAt(f, 0))
	case tagBitsPerSample:
		d.bits = uint16(d.intAt(f, 0))
	case tagSampleFormat:
		d.format = uint16(d.intAt(f, 0))
	case tagCompression:
		d.compression = uint16(d.intAt(f, 0))
	case tagPredictor:
		d.predictor = uint16(d.intAt(f, 0))
	case tagSamplesPerPixel:
		d.samples = uint16(d.intAt(f, 0))
	case tagRowsPerStrip:
		d.rowsPerStrip = int(d.intAt(f, 0))
	case tagTileWidth:
		d.tileWidth = int(d.intAt(f, 0))
	case tagTileLength:
		d.tileHeight = int(d.intAt(f, 0))
	case tagStripOffsets, tagTileOffsets:
		d.offsets = d.ints(f)
	case tagStripByteCounts, tagTileByteCounts:
		d.counts = d.ints(f)
	case tagModelPixelScale:
		d.pixelScale = d.doubles(f)
	case tagModelTiepoint:
		d.tiepoint = d.doubles(f)
	case tagGeoKeyDirectory:
		d.geoKeys = d.shorts(f)
	case tagGDALNoData:
		s := strings.TrimRight(string(f.data), "\x00")
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "nan") {
			v := math.NaN()
			d.nodata = &v
		} else if v, err := strconv.ParseFloat(s, 64); err == nil {
			d.nodata = &v
		}
	}
	return nil
}

func (d *decoder) intAt(f rawField, i int) uint32 {
	switch f.typ {
	case typeByte:
		return uint32(f.data[i])
	case typeShort:
		return uint32(d.order.Uint16(f.data[i*2:]))
	case typeLong:
		return d.order.Uint32(f.data[i*4:])
	}
	return 0
}

func (d *decoder) ints(f rawField) []uint32 {
	out := make([]uint32, f.count)
	for i := range out {
		out[i] = d.intAt(f, i)
	}
	return out
}

func (d *decoder) shorts(f rawField) []uint16 {
	out := make([]uint16, f.count)
	for i := range out {
		out[i] = uint16(d.intAt(f, i))
	}
	return out
}

func (d *decoder) doubles(f rawField) []float64 {
	if f.typ != typeDouble {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(f.data[i*8:]))
	}
	return out
}

func (d *decoder) dataType() (DataType, error) {
	if d.format == 0 {
		d.format = sampleFormatUint
	}
	switch {
	case d.bits == 8 && d.format == sampleFormatUint:
		return Uint8, nil
	case d.bits == 16 && d.format == sampleFormatInt:
		return Int16, nil
	case d.bits == 32 && d.format == sampleFormatFloat:
		return Float32, nil
	}
	return 0, fmt.Errorf("unsupported sample type: %d bits, format %d", d.bits, d.format)
}

func (d *decoder) decodeImage() (*Image, error) {
	if d.width <= 0 || d.height <= 0 {
		return nil, fmt.Errorf("missing image dimensions")
	}
	if d.samples > 1 {
		return nil, fmt.Errorf("%d samples per pixel, want single band", d.samples)
	}
	dt, err := d.dataType()
	if err != nil {
		return nil, err
	}
	if len(d.offsets) == 0 || len(d.offsets) != len(d.counts) {
		return nil, fmt.Errorf("inconsistent block tables: %d offsets, %d counts", len(d.offsets), len(d.counts))
	}

	im := &Image{Width: d.width, Height: d.height, DataType: dt, NoData: d.nodata, Pix: make([]float64, d.width*d.height)}
	d.fillGeo(im)

	// A sparse block (offset and count both zero) stays at the nodata fill.
	if d.nodata != nil {
		for i := range im.Pix {
			im.Pix[i] = *d.nodata
		}
	}

	tiled := d.tileWidth > 0
	bw, bh := d.width, d.rowsPerStrip
	if tiled {
		bw, bh = d.tileWidth, d.tileHeight
	} else if bh == 0 {
		bh = d.height
	}
	if bw <= 0 || bh <= 0 {
		return nil, fmt.Errorf("invalid block size %dx%d", bw, bh)
	}
	across := ceilDiv(d.width, bw)

	for i := range d.offsets {
		if d.offsets[i] == 0 && d.counts[i] == 0 {
			continue
		}
		offX := (i % across) * bw
		offY := (i / across) * bh
		rows := bh
		if !tiled && offY+rows > d.height {
			rows = d.height - offY
		}
		raw, err := d.blockData(i, bw*rows*dt.Size())
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		d.placeBlock(im, raw, dt, offX, offY, bw, rows)
	}
	return im, nil
}

func (d *decoder) blockData(i, want int) ([]byte, error) {
	off, cnt := int(d.offsets[i]), int(d.counts[i])
	if off+cnt > len(d.buf) {
		return nil, fmt.Errorf("data out of range")
	}
	raw := d.buf[off : off+cnt]

	switch d.compression {
	case 0, compressionRawTag:
	case compressionLZWTag:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		out := make([]byte, want)
		if _, err := io.ReadFull(r, out); err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		raw = out
	case compressionDeflateTag, compressionOldDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		out := make([]byte, want)
		if _, err := io.ReadFull(zr, out); err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		raw = out
	default:
		return nil, fmt.Errorf("unsupported compression %d", d.compression)
	}

	if len(raw) < want {
		return nil, fmt.Errorf("short block: %d bytes, want %d", len(raw), want)
	}
	return raw, nil
}

func (d *decoder) placeBlock(im *Image, raw []byte, dt DataType, offX, offY, bw, rows int) {
	size := dt.Size()
	// Horizontal differencing is undone on the raw sample bits modulo
	// the sample width, matching how it was applied.
	mask := uint32(1)<<uint(dt.bits()) - 1
	for r := 0; r < rows; r++ {
		prev := uint32(0)
		for c := 0; c < bw; c++ {
			bits := d.rawSample(raw[(r*bw+c)*size:], dt)
			if d.predictor == 2 {
				bits = (bits + prev) & mask
				prev = bits
			}
			x, y := offX+c, offY+r
			if x >= im.Width || y >= im.Height {
				continue
			}
			im.Pix[y*im.Width+x] = sampleValue(dt, bits)
		}
	}
}

func (d *decoder) rawSample(b []byte, dt DataType) uint32 {
	switch dt {
	case Uint8:
		return uint32(b[0])
	case Int16:
		return uint32(d.order.Uint16(b))
	}
	return d.order.Uint32(b)
}

func sampleValue(dt DataType, bits uint32) float64 {
	switch dt {
	case Uint8:
		return float64(uint8(bits))
	case Int16:
		return float64(int16(uint16(bits)))
	}
	return float64(math.Float32frombits(bits))
}

// fillGeo derives the geotransform and EPSG code from the GeoTIFF tags.
// Rasters without georeferencing decode with a zero transform.
func (d *decoder) fillGeo(im *Image) {
	if len(d.pixelScale) >= 2 && len(d.tiepoint) >= 6 {
		im.Transform = [6]float64{
			d.tiepoint[3] - d.tiepoint[0]*d.pixelScale[0], d.pixelScale[0], 0,
			d.tiepoint[4] + d.tiepoint[1]*d.pixelScale[1], 0, -d.pixelScale[1],
		}
	}
	// GeoKey directory entries are quads: key, location, count, value.
	var model, geogCS, projCS uint16
	for i := 4; i+3 < len(d.geoKeys); i += 4 {
		if d.geoKeys[i+1] != 0 {
			continue
		}
		switch d.geoKeys[i] {
		case 1024:
			model = d.geoKeys[i+3]
		case 2048:
			geogCS = d.geoKeys[i+3]
		case 3072:
			projCS = d.geoKeys[i+3]
		}
	}
	switch model {
	case 1:
		im.EPSG = int(projCS)
	case 2:
		im.EPSG = int(geogCS)
	}
}
