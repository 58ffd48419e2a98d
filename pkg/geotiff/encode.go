package geotiff

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

var enc = binary.LittleEndian

// classicTIFFLimit is the largest file a classic (non-Big) TIFF can
// address with its 32-bit offsets.
const classicTIFFLimit = 1<<32 - 1

// Options control how Encode lays out the file.
type Options struct {
	Width, Height int
	DataType      DataType
	NoData        *float64
	Transform     [6]float64 // GDAL geotransform order
	EPSG          int

	Description string
	Metadata    map[string]string // emitted as GDAL metadata items

	Compression Compression
	ZLevel      int  // 1..9, 0 means the zlib default
	Predictor   bool // horizontal differencing, integer types only

	Tiled                   bool
	BlockWidth, BlockHeight int // tile dims (multiples of 16); strip rows via BlockHeight when untiled

	Overviews          int
	OverviewResampling string // "nearest" or "average" (default)
	// OverviewCompression is the codec for the reduced-resolution
	// levels; it is independent of Compression.
	OverviewCompression Compression

	Sparse     bool // omit blocks that are entirely nodata
	Statistics bool // compute and embed band statistics
	NumThreads int  // parallel block compression, <=1 is sequential
}

func (o *Options) validate(pixLen int) error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", o.Width, o.Height)
	}
	if pixLen != o.Width*o.Height {
		return fmt.Errorf("pixel buffer has %d samples, want %d", pixLen, o.Width*o.Height)
	}
	if o.DataType.Size() == 0 {
		return fmt.Errorf("unknown data type %v", o.DataType)
	}
	if o.ZLevel < 0 || o.ZLevel > 9 {
		return fmt.Errorf("deflate level %d out of range", o.ZLevel)
	}
	if o.Tiled {
		bw, bh := o.blockDims()
		if bw%16 != 0 || bh%16 != 0 {
			return fmt.Errorf("tile size %dx%d must be a multiple of 16", bw, bh)
		}
	}
	if o.Predictor && o.DataType == Float32 {
		return fmt.Errorf("horizontal predictor requires an integer data type")
	}
	if o.Overviews < 0 {
		return fmt.Errorf("overview count %d must not be negative", o.Overviews)
	}
	switch o.OverviewResampling {
	case "", "nearest", "average":
	default:
		return fmt.Errorf("unknown overview resampling %q", o.OverviewResampling)
	}
	return nil
}

func (o *Options) blockDims() (bw, bh int) {
	if o.Tiled {
		bw, bh = o.BlockWidth, o.BlockHeight
		if bw == 0 {
			bw = 256
		}
		if bh == 0 {
			bh = 256
		}
		return bw, bh
	}
	bw = o.Width
	bh = o.BlockHeight
	if bh == 0 {
		// Aim for ~64 KiB strips, the usual library default.
		rowBytes := o.Width * o.DataType.Size()
		bh = 1
		if rowBytes > 0 && 65536/rowBytes > 1 {
			bh = 65536 / rowBytes
		}
	}
	if bh > o.Height {
		bh = o.Height
	}
	return bw, bh
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

type byTag []ifdEntry

func (d byTag) Len() int           { return len(d) }
func (d byTag) Less(i, j int) bool { return d[i].tag < d[j].tag }
func (d byTag) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

type level struct {
	width, height int
	pix           []float64
	blocks        [][]byte // compressed; nil means a sparse (all nodata) block
}

// Encode writes pix as a single-band GeoTIFF. pix is row-major with
// Width*Height samples; values are clamped to the sample type's range.
// Output is byte-for-byte deterministic for identical inputs.
func Encode(w io.Writer, pix []float64, opt Options) error {
	if err := opt.validate(len(pix)); err != nil {
		return err
	}

	levels := buildLevels(pix, opt)
	for i, lv := range levels {
		if err := compressLevel(lv, opt, opt.compressionFor(i)); err != nil {
			return err
		}
	}

	// File layout: header, then per level the IFD table, its external
	// values, and its block data; each IFD's next pointer chains to the
	// following level.
	var out bytes.Buffer
	out.Write([]byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00})

	offset := uint32(8)
	for i, lv := range levels {
		entries := levelEntries(lv, opt, i)
		sort.Sort(byTag(entries))

		tableSize := uint32(2 + 12*len(entries) + 4)
		extSize := uint32(0)
		for _, e := range entries {
			if len(e.data) > 4 {
				extSize += uint32(len(e.data) + len(e.data)%2)
			}
		}
		dataStart := offset + tableSize + extSize

		fillBlockLayout(entries, lv, dataStart)

		var dataSize uint32
		for _, b := range lv.blocks {
			if b != nil {
				dataSize += uint32(len(b) + len(b)%2)
			}
		}
		if uint64(dataStart)+uint64(dataSize) > classicTIFFLimit {
			return fmt.Errorf("raster exceeds the 4 GiB classic TIFF limit")
		}

		next := uint32(0)
		if i < len(levels)-1 {
			next = dataStart + dataSize
		}

		writeIFD(&out, entries, offset+tableSize, next)
		for _, b := range lv.blocks {
			if b == nil {
				continue
			}
			out.Write(b)
			if len(b)%2 == 1 {
				out.WriteByte(0)
			}
		}
		offset = dataStart + dataSize
	}

	_, err := w.Write(out.Bytes())
	return err
}

// buildLevels returns the full-resolution raster followed by its
// overviews, each downsampled by a factor of two from the previous one.
func buildLevels(pix []float64, opt Options) []*level {
	levels := []*level{{width: opt.Width, height: opt.Height, pix: pix}}
	nodata := math.NaN()
	hasNodata := opt.NoData != nil
	if hasNodata {
		nodata = *opt.NoData
	}
	for i := 0; i < opt.Overviews; i++ {
		prev := levels[len(levels)-1]
		w := (prev.width + 1) / 2
		h := (prev.height + 1) / 2
		down := &level{width: w, height: h, pix: make([]float64, w*h)}
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				down.pix[row*w+col] = downsample(prev, col, row, opt.OverviewResampling, nodata, hasNodata)
			}
		}
		levels = append(levels, down)
	}
	return levels
}

func downsample(src *level, col, row int, method string, nodata float64, hasNodata bool) float64 {
	if method == "nearest" {
		return src.pix[(row*2)*src.width+col*2]
	}
	var sum float64
	var n int
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			x, y := col*2+dx, row*2+dy
			if x >= src.width || y >= src.height {
				continue
			}
			v := src.pix[y*src.width+x]
			if hasNodata && sameValue(v, nodata) {
				continue
			}
			sum += v
			n++
		}
	}
	if n == 0 {
		if hasNodata {
			return nodata
		}
		return 0
	}
	return sum / float64(n)
}

func sameValue(a, b float64) bool {
	if math.IsNaN(b) {
		return math.IsNaN(a)
	}
	return a == b
}

func (o *Options) compressionFor(levelIdx int) Compression {
	if levelIdx > 0 {
		return o.OverviewCompression
	}
	return o.Compression
}

// compressLevel serialises and compresses every block of a level. Blocks
// are independent, so the work fans out across NumThreads workers.
func compressLevel(lv *level, opt Options, comp Compression) error {
	bw, bh := blockDimsFor(lv, opt)
	across := ceilDiv(lv.width, bw)
	down := ceilDiv(lv.height, bh)
	lv.blocks = make([][]byte, across*down)

	g, _ := errgroup.WithContext(context.Background())
	limit := opt.NumThreads
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range lv.blocks {
		idx := i
		g.Go(func() error {
			raw, allNodata := blockBytes(lv, opt, (idx%across)*bw, (idx/across)*bh, bw, bh)
			if opt.Sparse && allNodata {
				return nil
			}
			if comp != CompressionDeflate {
				lv.blocks[idx] = raw
				return nil
			}
			zl := opt.ZLevel
			if zl == 0 {
				zl = zlib.DefaultCompression
			}
			var buf bytes.Buffer
			zw, err := zlib.NewWriterLevel(&buf, zl)
			if err != nil {
				return err
			}
			if _, err := zw.Write(raw); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			lv.blocks[idx] = buf.Bytes()
			return nil
		})
	}
	return g.Wait()
}

func blockDimsFor(lv *level, opt Options) (int, int) {
	if opt.Tiled {
		return opt.blockDims()
	}
	// Strips always span the level's full width.
	_, bh := opt.blockDims()
	if bh > lv.height {
		bh = lv.height
	}
	return lv.width, bh
}

// blockBytes serialises one block. Tiles are padded to their nominal size
// with nodata; strips are clipped at the bottom edge.
func blockBytes(lv *level, opt Options, offX, offY, bw, bh int) (raw []byte, allNodata bool) {
	rows := bh
	if !opt.Tiled && offY+rows > lv.height {
		rows = lv.height - offY
	}
	size := opt.DataType.Size()
	raw = make([]byte, bw*rows*size)

	fill := math.NaN()
	hasNodata := opt.NoData != nil
	if hasNodata {
		fill = *opt.NoData
	}

	// Horizontal differencing works on the raw sample bits modulo the
	// sample width, resetting at each row.
	mask := uint32(1)<<uint(opt.DataType.bits()) - 1
	allNodata = hasNodata
	for r := 0; r < rows; r++ {
		prev := uint32(0)
		for c := 0; c < bw; c++ {
			v := fill
			x, y := offX+c, offY+r
			if x < lv.width && y < lv.height {
				v = lv.pix[y*lv.width+x]
			}
			if allNodata && !sameValue(v, fill) {
				allNodata = false
			}
			bits := sampleBits(opt.DataType, opt.DataType.Clamp(v))
			if opt.Predictor {
				bits, prev = (bits-prev)&mask, bits
			}
			putSample(raw[(r*bw+c)*size:], opt.DataType, bits)
		}
	}
	return raw, allNodata
}

// sampleBits returns the on-disk bit pattern of a clamped sample.
func sampleBits(dt DataType, v float64) uint32 {
	switch dt {
	case Uint8:
		return uint32(uint8(int16(v)))
	case Int16:
		return uint32(uint16(int16(v)))
	}
	return math.Float32bits(float32(v))
}

func putSample(dst []byte, dt DataType, bits uint32) {
	switch dt {
	case Uint8:
		dst[0] = uint8(bits)
	case Int16:
		enc.PutUint16(dst, uint16(bits))
	case Float32:
		enc.PutUint32(dst, bits)
	}
}

// levelEntries builds the IFD entries for one level. Georeferencing and
// descriptive tags go on the first IFD only, matching GDAL's layout.
func levelEntries(lv *level, opt Options, levelIdx int) []ifdEntry {
	var entries []ifdEntry
	add := func(tag, typ uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, typ, count, data})
	}
	addASCII := func(tag uint16, s string) {
		b := append([]byte(s), 0)
		add(tag, typeASCII, uint32(len(b)), b)
	}

	if levelIdx > 0 {
		add(tagNewSubfileType, typeLong, 1, enc32(1)) // reduced-resolution image
	}
	add(tagImageWidth, typeLong, 1, enc32(uint32(lv.width)))
	add(tagImageLength, typeLong, 1, enc32(uint32(lv.height)))
	add(tagBitsPerSample, typeShort, 1, enc16(opt.DataType.bits()))
	if opt.compressionFor(levelIdx) == CompressionDeflate {
		add(tagCompression, typeShort, 1, enc16(compressionDeflateTag))
	} else {
		add(tagCompression, typeShort, 1, enc16(compressionRawTag))
	}
	add(tagPhotometricInterpretation, typeShort, 1, enc16(1)) // BlackIsZero
	add(tagSamplesPerPixel, typeShort, 1, enc16(1))
	add(tagPlanarConfiguration, typeShort, 1, enc16(1))
	add(tagSampleFormat, typeShort, 1, enc16(opt.DataType.sampleFormat()))
	if opt.Predictor {
		add(tagPredictor, typeShort, 1, enc16(2))
	}

	bw, bh := blockDimsFor(lv, opt)
	n := uint32(len(lv.blocks))
	if opt.Tiled {
		add(tagTileWidth, typeLong, 1, enc32(uint32(bw)))
		add(tagTileLength, typeLong, 1, enc32(uint32(bh)))
		add(tagTileOffsets, typeLong, n, make([]byte, 4*n))
		add(tagTileByteCounts, typeLong, n, make([]byte, 4*n))
	} else {
		add(tagRowsPerStrip, typeLong, 1, enc32(uint32(bh)))
		add(tagStripOffsets, typeLong, n, make([]byte, 4*n))
		add(tagStripByteCounts, typeLong, n, make([]byte, 4*n))
	}

	if levelIdx > 0 {
		return entries
	}

	add(tagXResolution, typeRational, 1, encRational(72, 1))
	add(tagYResolution, typeRational, 1, encRational(72, 1))
	add(tagResolutionUnit, typeShort, 1, enc16(2))
	addASCII(tagSoftware, "soilfetch")
	if opt.Description != "" {
		addASCII(tagImageDescription, opt.Description)
	}

	gt := opt.Transform
	add(tagModelPixelScale, typeDouble, 3, encDoubles([]float64{gt[1], -gt[5], 0}))
	add(tagModelTiepoint, typeDouble, 6, encDoubles([]float64{0, 0, 0, gt[0], gt[3], 0}))
	if keys := geoKeys(opt.EPSG); keys != nil {
		add(tagGeoKeyDirectory, typeShort, uint32(len(keys)), enc16s(keys))
	}

	if opt.NoData != nil {
		addASCII(tagGDALNoData, formatNoData(*opt.NoData))
	}
	if xml := gdalMetadata(lv, opt); xml != "" {
		addASCII(tagGDALMetadata, xml)
	}
	return entries
}

func geoKeys(epsg int) []uint16 {
	switch epsg {
	case 4326:
		return []uint16{
			1, 1, 0, 3,
			1024, 0, 1, 2, // geographic model
			1025, 0, 1, 1, // pixel is area
			2048, 0, 1, 4326,
		}
	case 3857:
		return []uint16{
			1, 1, 0, 4,
			1024, 0, 1, 1, // projected model
			1025, 0, 1, 1,
			3072, 0, 1, 3857,
			3076, 0, 1, 9001, // linear metre
		}
	}
	return nil
}

func formatNoData(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// gdalMetadata renders band statistics and caller metadata as the XML
// document GDAL stores in tag 42112.
func gdalMetadata(lv *level, opt Options) string {
	var items []string
	if opt.Statistics {
		if min, max, mean, stddev, ok := bandStats(lv.pix, opt.NoData); ok {
			items = append(items,
				statItem("STATISTICS_MINIMUM", min),
				statItem("STATISTICS_MAXIMUM", max),
				statItem("STATISTICS_MEAN", mean),
				statItem("STATISTICS_STDDEV", stddev),
			)
		}
	}
	keys := make([]string, 0, len(opt.Metadata))
	for k := range opt.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		items = append(items, fmt.Sprintf("  <Item name=%q>%s</Item>", k, opt.Metadata[k]))
	}
	if len(items) == 0 {
		return ""
	}
	return "<GDALMetadata>\n" + strings.Join(items, "\n") + "\n</GDALMetadata>\n"
}

func statItem(name string, v float64) string {
	return fmt.Sprintf("  <Item name=%q sample=\"0\">%s</Item>", name, strconv.FormatFloat(v, 'g', -1, 64))
}

func bandStats(pix []float64, nodata *float64) (min, max, mean, stddev float64, ok bool) {
	var sum, sumSq float64
	var n int
	for _, v := range pix {
		if nodata != nil && sameValue(v, *nodata) {
			continue
		}
		if n == 0 || v < min {
			min = v
		}
		if n == 0 || v > max {
			max = v
		}
		sum += v
		sumSq += v * v
		n++
	}
	if n == 0 {
		return 0, 0, 0, 0, false
	}
	mean = sum / float64(n)
	stddev = math.Sqrt(math.Max(0, sumSq/float64(n)-mean*mean))
	return min, max, mean, stddev, true
}

// fillBlockLayout patches the offset/count arrays once the position of
// the block data area is known. Sparse blocks keep offset and count zero.
func fillBlockLayout(entries []ifdEntry, lv *level, dataStart uint32) {
	off := dataStart
	offsets := make([]byte, 4*len(lv.blocks))
	counts := make([]byte, 4*len(lv.blocks))
	for i, b := range lv.blocks {
		if b == nil {
			continue
		}
		enc.PutUint32(offsets[4*i:], off)
		enc.PutUint32(counts[4*i:], uint32(len(b)))
		off += uint32(len(b) + len(b)%2)
	}
	for i := range entries {
		switch entries[i].tag {
		case tagStripOffsets, tagTileOffsets:
			copy(entries[i].data, offsets)
		case tagStripByteCounts, tagTileByteCounts:
			copy(entries[i].data, counts)
		}
	}
}

func writeIFD(out *bytes.Buffer, entries []ifdEntry, extStart, next uint32) {
	var ext bytes.Buffer

	binary.Write(out, enc, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(out, enc, e.tag)
		binary.Write(out, enc, e.typ)
		binary.Write(out, enc, e.count)
		var val [4]byte
		if len(e.data) <= 4 {
			copy(val[:], e.data)
		} else {
			enc.PutUint32(val[:], extStart+uint32(ext.Len()))
			ext.Write(e.data)
			if len(e.data)%2 == 1 {
				ext.WriteByte(0)
			}
		}
		out.Write(val[:])
	}
	binary.Write(out, enc, next)
	ext.WriteTo(out)
}

// Helpers

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	enc.PutUint32(b[:4], num)
	enc.PutUint32(b[4:], den)
	return b
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
