package crs

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilfetch/internal/errs"
)

func TestParse(t *testing.T) {
	for _, s := range []string{"EPSG:4326", "epsg:4326", " 4326 "} {
		c, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, WGS84, c)
	}

	c, err := Parse("EPSG:3857")
	require.NoError(t, err)
	assert.Equal(t, WebMercator, c)

	_, err = Parse("EPSG:banana")
	require.ErrorIs(t, err, errs.ErrInvalidParameters)

	_, err = Parse("EPSG:32633")
	require.ErrorIs(t, err, errs.ErrReprojectionFailure)
}

func TestTransformRoundTrip(t *testing.T) {
	p := orb.Point{5.9, 52.1}
	out := Transform(Transform(p, WGS84, WebMercator), WebMercator, WGS84)
	assert.InDelta(t, p[0], out[0], 1e-8)
	assert.InDelta(t, p[1], out[1], 1e-8)

	// Same-CRS transform is the identity.
	assert.Equal(t, p, Transform(p, WGS84, WGS84))
}

func TestTransformGeometryDoesNotMutate(t *testing.T) {
	ring := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	poly := orb.Polygon{ring}

	out := TransformGeometry(poly, WGS84, WebMercator)
	require.IsType(t, orb.Polygon{}, out)
	assert.Equal(t, orb.Point{0, 0}, poly[0][0], "input mutated")
	assert.NotEqual(t, poly[0][2], out.(orb.Polygon)[0][2])
}

func TestGeographic(t *testing.T) {
	assert.True(t, WGS84.Geographic())
	assert.False(t, WebMercator.Geographic())
	assert.Equal(t, "EPSG:3857", WebMercator.String())
	assert.Equal(t, 4326, WGS84.EPSG())
}
