package soilfetch

import (
	"fmt"
	"sort"

	"soilfetch/internal/crs"
	"soilfetch/internal/errs"
	"soilfetch/internal/grid"
	"soilfetch/pkg/geotiff"
)

// DefaultBaseURL is the public WCS endpoint serving the soil property
// coverages. Each service is one mapfile selected by the request's map
// parameter.
const DefaultBaseURL = "https://maps.isric.org/mapserv"

// The service grid all soil property coverages share: global EPSG:4326
// at 1/480 degree (roughly 250 m at the equator).
const (
	gridResolution = 1.0 / 480
	gridMinLon     = -180.0
	gridMaxLon     = 180.0
	gridMinLat     = -62.0
	gridMaxLat     = 88.0
)

// Property describes one soil property service: the units its coverages
// are stored in, the factor that maps stored integers to conventional
// units, and the storage details the pipeline needs.
type Property struct {
	Name        string
	Description string
	NativeUnit  string  // unit of the stored integer values
	MappedUnit  string  // unit after dividing by Factor
	Factor      float64 // stored value / Factor = mapped value
	DataType    geotiff.DataType
	NoData      float64 // stored sentinel for missing samples
}

// Depths are the standard depth intervals most properties publish.
var Depths = []string{"0-5cm", "5-15cm", "15-30cm", "30-60cm", "60-100cm", "100-200cm"}

// Statistics are the per-depth layers each property carries.
var Statistics = []string{"mean", "uncertainty", "Q0.05", "Q0.5", "Q0.95"}

var properties = map[string]Property{
	"bdod":     {"bdod", "Bulk density of the fine earth fraction", "cg/cm³", "kg/dm³", 100, geotiff.Int16, 0},
	"cec":      {"cec", "Cation exchange capacity at pH 7", "mmol(c)/kg", "cmol(c)/kg", 10, geotiff.Int16, 0},
	"cfvo":     {"cfvo", "Volumetric fraction of coarse fragments", "cm³/dm³", "cm³/100cm³", 10, geotiff.Int16, 0},
	"clay":     {"clay", "Clay content in the fine earth fraction", "g/kg", "%", 10, geotiff.Int16, 0},
	"landmask": {"landmask", "Land mask", "flag", "flag", 1, geotiff.Uint8, 0},
	"nitrogen": {"nitrogen", "Total nitrogen", "cg/kg", "g/kg", 100, geotiff.Int16, 0},
	"ocd":      {"ocd", "Organic carbon density", "hg/m³", "kg/m³", 10, geotiff.Int16, 0},
	"ocs":      {"ocs", "Organic carbon stock", "t/ha", "kg/m²", 10, geotiff.Int16, 0},
	"phh2o":    {"phh2o", "Soil pH in water", "pH*10", "pH", 10, geotiff.Int16, 0},
	"sand":     {"sand", "Sand content in the fine earth fraction", "g/kg", "%", 10, geotiff.Int16, 0},
	"silt":     {"silt", "Silt content in the fine earth fraction", "g/kg", "%", 10, geotiff.Int16, 0},
	"soc":      {"soc", "Soil organic carbon in the fine earth fraction", "dg/kg", "g/kg", 10, geotiff.Int16, 0},
	"wrb":      {"wrb", "World Reference Base soil class", "class", "class", 1, geotiff.Uint8, 255},
	"wv0010":   {"wv0010", "Volumetric water content at 10 kPa", "0.1 v%", "v%", 10, geotiff.Int16, 0},
	"wv0033":   {"wv0033", "Volumetric water content at 33 kPa", "0.1 v%", "v%", 10, geotiff.Int16, 0},
	"wv1500":   {"wv1500", "Volumetric water content at 1500 kPa", "0.1 v%", "v%", 10, geotiff.Int16, 0},
}

// Services lists the available soil property services, sorted.
func Services() []string {
	out := make([]string, 0, len(properties))
	for name := range properties {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LookupProperty returns the catalog entry for a service.
func LookupProperty(serviceID string) (Property, error) {
	p, ok := properties[serviceID]
	if !ok {
		return Property{}, fmt.Errorf("%w: unknown service %q", errs.ErrInvalidParameters, serviceID)
	}
	return p, nil
}

// Describe returns a service's catalog entry together with its coverage
// list.
func Describe(serviceID string) (Property, []string, error) {
	p, err := LookupProperty(serviceID)
	if err != nil {
		return Property{}, nil, err
	}
	covs, err := Coverages(serviceID)
	if err != nil {
		return Property{}, nil, err
	}
	return p, covs, nil
}

// wrbClasses are the per-class probability layers of the soil class
// service, plus the most-probable-class layer.
var wrbClasses = []string{
	"Acrisols", "Albeluvisols", "Alisols", "Andosols", "Arenosols",
	"Calcisols", "Cambisols", "Chernozems", "Cryosols", "Durisols",
	"Ferralsols", "Fluvisols", "Gleysols", "Gypsisols", "Histosols",
	"Kastanozems", "Leptosols", "Lixisols", "Luvisols", "MostProbable",
	"Nitisols", "Phaeozems", "Planosols", "Plinthosols", "Podzols",
	"Regosols", "Solonchaks", "Solonetz", "Stagnosols", "Umbrisols",
	"Vertisols",
}

// Coverages lists the coverage identifiers a service publishes, in
// depth-major order, e.g. "0-5cm_mean". Three services break the
// depth-by-statistic grid: organic carbon stock is only computed for
// 0-30cm, the soil class service publishes per-class probability layers
// plus MostProbable, and the land mask is one release snapshot.
func Coverages(serviceID string) ([]string, error) {
	if _, err := LookupProperty(serviceID); err != nil {
		return nil, err
	}
	depths := Depths
	switch serviceID {
	case "ocs":
		depths = []string{"0-30cm"}
	case "wrb":
		out := make([]string, len(wrbClasses))
		copy(out, wrbClasses)
		return out, nil
	case "landmask":
		return []string{"SG_052020_COG512"}, nil
	}
	out := make([]string, 0, len(depths)*len(Statistics))
	for _, d := range depths {
		for _, s := range Statistics {
			out = append(out, fmt.Sprintf("%s_%s", d, s))
		}
	}
	return out, nil
}

// HasCoverage reports whether a service publishes the given coverage.
func HasCoverage(serviceID, coverageID string) bool {
	covs, err := Coverages(serviceID)
	if err != nil {
		return false
	}
	for _, c := range covs {
		if c == coverageID {
			return true
		}
	}
	return false
}

// remoteCoverageID maps a catalog coverage id to the identifier the
// service publishes it under. The depth-by-statistic services prefix
// the service name ("clay" + "0-5cm_mean" -> "clay_0-5cm_mean"); the
// categorical services publish under the bare id.
func remoteCoverageID(serviceID, coverageID string) string {
	switch serviceID {
	case "wrb", "landmask":
		return coverageID
	}
	return serviceID + "_" + coverageID
}

// serviceGrid returns the full pixel grid a service's coverages live on.
func serviceGrid() grid.Grid {
	return grid.Grid{
		Width:     int((gridMaxLon - gridMinLon) / gridResolution),
		Height:    int((gridMaxLat - gridMinLat) / gridResolution),
		CRS:       crs.WGS84,
		Transform: grid.NorthUp(gridMinLon, gridMaxLat, gridResolution, gridResolution),
	}
}
