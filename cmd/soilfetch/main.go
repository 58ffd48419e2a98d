// Command soilfetch downloads soil property rasters for an area of
// interest and writes them as GeoTIFF.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"soilfetch"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "soilfetch",
		Short:         "Fetch gridded soil property data as GeoTIFF",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(fetchCmd(), servicesCmd(), coveragesCmd())
	return root
}

func servicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List available soil property services",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range soilfetch.Services() {
				p, _ := soilfetch.LookupProperty(s)
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s [%s]\n", s, p.Description, p.MappedUnit)
			}
			return nil
		},
	}
}

func coveragesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coverages <service>",
		Short: "List the coverages a service publishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			covs, err := soilfetch.Coverages(args[0])
			if err != nil {
				return err
			}
			for _, c := range covs {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

type fetchFlags struct {
	service    string
	coverage   string
	aoiPath    string
	point      []float64
	radius     float64
	out        string
	targetCRS  string
	resampling string
	convert    bool
	allTouched bool
	invert     bool
	blockSize  int
	workers    int
	timeout    time.Duration
	baseURL    string

	compression string
	zlevel      int
	predictor   bool
	tiled       bool
	overviews   int
	sparse      bool
	stats       bool

	quiet   bool
	verbose bool
}

func fetchCmd() *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one coverage clipped to an area of interest",
		Example: `  soilfetch fetch --service clay --coverage 0-5cm_mean \
      --aoi field.geojson --out clay.tif --convert
  soilfetch fetch --service phh2o --coverage 0-5cm_Q0.5 \
      --point 5.9,52.1 --radius 2000 --out ph.tif`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.service, "service", "", "soil property service, e.g. clay")
	fl.StringVar(&f.coverage, "coverage", "", "coverage id, e.g. 0-5cm_mean")
	fl.StringVar(&f.aoiPath, "aoi", "", "GeoJSON file with the area of interest")
	fl.Float64SliceVar(&f.point, "point", nil, "lon,lat center of a circular area of interest")
	fl.Float64Var(&f.radius, "radius", 1000, "radius in metres around --point")
	fl.StringVar(&f.out, "out", "", "output path (omit to print raster info only)")
	fl.StringVar(&f.targetCRS, "crs", "", "target CRS, e.g. EPSG:3857 (default: service CRS)")
	fl.StringVar(&f.resampling, "resampling", "nearest", "resampling method: nearest, bilinear, cubic")
	fl.BoolVar(&f.convert, "convert", false, "convert stored integers to conventional units")
	fl.BoolVar(&f.allTouched, "all-touched", false, "keep every pixel the geometry touches")
	fl.BoolVar(&f.invert, "invert", false, "mask inside the geometry instead of outside")
	fl.IntVar(&f.blockSize, "block-size", 0, "tile size in pixels (default 1024)")
	fl.IntVar(&f.workers, "workers", 4, "concurrent tile downloads")
	fl.DurationVar(&f.timeout, "timeout", 2*time.Minute, "per-tile request timeout")
	fl.StringVar(&f.baseURL, "base-url", "", "override the coverage service endpoint")

	fl.StringVar(&f.compression, "compression", "deflate", "output compression: none, deflate")
	fl.IntVar(&f.zlevel, "zlevel", 0, "deflate level 1-9")
	fl.BoolVar(&f.predictor, "predictor", true, "horizontal predictor for integer output")
	fl.BoolVar(&f.tiled, "tiled", false, "tiled instead of stripped output")
	fl.IntVar(&f.overviews, "overviews", 0, "number of overview levels")
	fl.BoolVar(&f.sparse, "sparse", false, "omit all-nodata blocks")
	fl.BoolVar(&f.stats, "stats", false, "embed band statistics")

	fl.BoolVarP(&f.quiet, "quiet", "q", false, "suppress the progress line")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	cmd.MarkFlagRequired("service")
	cmd.MarkFlagRequired("coverage")
	return cmd
}

func runFetch(cmd *cobra.Command, f fetchFlags) error {
	aoi, err := resolveAOI(f)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if f.verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
		defer logger.Sync()
	}

	opts := []soilfetch.Option{
		soilfetch.WithLogger(logger),
		soilfetch.WithWorkers(f.workers),
		soilfetch.WithTimeout(f.timeout),
	}
	if f.baseURL != "" {
		opts = append(opts, soilfetch.WithBaseURL(f.baseURL))
	}
	client := soilfetch.New(opts...)

	raster, err := client.FetchAndWrite(cmd.Context(), soilfetch.Request{
		ServiceID:       f.service,
		CoverageID:      f.coverage,
		AOI:             aoi,
		DestinationPath: f.out,
		TargetCRS:       f.targetCRS,
		Resampling:      f.resampling,
		Convert:         f.convert,
		AllTouched:      f.allTouched,
		Invert:          f.invert,
		BlockWidth:      f.blockSize,
		BlockHeight:     f.blockSize,
		DestinationOptions: soilfetch.DestinationOptions{
			Compression: f.compression,
			ZLevel:      f.zlevel,
			Predictor:   f.predictor,
			Tiled:       f.tiled,
			Overviews:   f.overviews,
			Sparse:      f.sparse,
			Statistics:  f.stats,
		},
		ShowProgress:      !f.quiet,
		TransientProgress: true,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if raster.InMemory() {
		fmt.Fprintf(out, "%s: %dx%d %s %s (%d bytes, in memory)\n",
			raster.Description, raster.Width, raster.Height, raster.DataType, raster.CRS, len(raster.Bytes))
		return nil
	}
	fmt.Fprintf(out, "%s: %dx%d %s %s -> %s\n",
		raster.Description, raster.Width, raster.Height, raster.DataType, raster.CRS, raster.Path)
	return nil
}

func resolveAOI(f fetchFlags) (soilfetch.AOI, error) {
	switch {
	case f.aoiPath != "" && len(f.point) > 0:
		return soilfetch.AOI{}, fmt.Errorf("--aoi and --point are mutually exclusive")
	case f.aoiPath != "":
		raw, err := os.ReadFile(f.aoiPath)
		if err != nil {
			return soilfetch.AOI{}, err
		}
		return soilfetch.AOIFromGeoJSON(raw)
	case len(f.point) == 2:
		return soilfetch.BufferPoint(f.point[0], f.point[1], f.radius)
	case len(f.point) > 0:
		return soilfetch.AOI{}, fmt.Errorf("--point wants lon,lat")
	}
	return soilfetch.AOI{}, fmt.Errorf("an area of interest is required: --aoi or --point")
}
