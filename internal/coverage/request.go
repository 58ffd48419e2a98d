// Package coverage talks to a WCS-style coverage service: it turns
// grid windows into GetCoverage requests and decodes the returned
// rasters, retrying transient failures.
package coverage

import (
	"fmt"
	"net/url"

	"soilfetch/internal/crs"
)

// Request describes one rectangular coverage subset.
type Request struct {
	ServiceID  string
	CoverageID string

	// Georeferenced extent of the subset in CRS.
	MinX, MinY, MaxX, MaxY float64
	CRS                    crs.CRS

	// Expected pixel dimensions of the response.
	Width, Height int
}

// URL renders the WCS 2.0.1 GetCoverage query against the endpoint.
// The service selects its mapfile through the map parameter. Axis
// labels follow the usual convention: Lat/Long for geographic systems,
// X/Y for projected ones.
func (r Request) URL(base string) string {
	q := url.Values{}
	q.Set("map", fmt.Sprintf("/map/%s.map", r.ServiceID))
	q.Set("service", "WCS")
	q.Set("version", "2.0.1")
	q.Set("request", "GetCoverage")
	q.Set("coverageId", r.CoverageID)
	q.Set("format", "image/tiff")

	if r.CRS.Geographic() {
		q.Add("subset", fmt.Sprintf("Lat(%g,%g)", r.MinY, r.MaxY))
		q.Add("subset", fmt.Sprintf("Long(%g,%g)", r.MinX, r.MaxX))
	} else {
		q.Add("subset", fmt.Sprintf("X(%g,%g)", r.MinX, r.MaxX))
		q.Add("subset", fmt.Sprintf("Y(%g,%g)", r.MinY, r.MaxY))
	}
	q.Set("subsettingCrs", fmt.Sprintf("http://www.opengis.net/def/crs/EPSG/0/%d", r.CRS.EPSG()))

	return fmt.Sprintf("%s?%s", base, q.Encode())
}
