package soilfetch

import (
	"fmt"
	"os"

	"soilfetch/pkg/geotiff"
)

// Raster is the handle returned by a completed fetch. Exactly one of
// Path or Bytes is set: Path when a destination was given, Bytes when
// the raster stayed in memory.
type Raster struct {
	Path  string
	Bytes []byte

	Width, Height int
	CRS           string
	Transform     [6]float64 // GDAL geotransform order
	DataType      geotiff.DataType
	NoData        *float64
	// Description is the band label, "{service}_{coverage}|{unit}".
	Description string
}

// InMemory reports whether the raster was kept in memory.
func (r *Raster) InMemory() bool { return r.Path == "" }

// Open decodes the raster back into pixel form, from memory or disk.
func (r *Raster) Open() (*geotiff.Image, error) {
	data := r.Bytes
	if !r.InMemory() {
		var err error
		data, err = os.ReadFile(r.Path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", r.Path, err)
		}
	}
	return geotiff.Decode(data)
}
