package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilfetch/internal/errs"
)

func TestPlanPartitionsExactly(t *testing.T) {
	windows, err := Plan(1000, 700, 256, 256)
	require.NoError(t, err)
	require.Len(t, windows, 4*3)

	// Every pixel is covered exactly once.
	seen := make([]int, 1000*700)
	for _, w := range windows {
		assert.LessOrEqual(t, w.Width, 256)
		assert.LessOrEqual(t, w.Height, 256)
		assert.Positive(t, w.Pixels())
		for y := w.OffY; y < w.OffY+w.Height; y++ {
			for x := w.OffX; x < w.OffX+w.Width; x++ {
				seen[y*1000+x]++
			}
		}
	}
	for i, n := range seen {
		require.Equal(t, 1, n, "pixel %d covered %d times", i, n)
	}
}

func TestPlanTrailingWindowsClipped(t *testing.T) {
	windows, err := Plan(100, 50, 64, 64)
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, 64, windows[0].Width)
	assert.Equal(t, 50, windows[0].Height)
	assert.Equal(t, 36, windows[1].Width)
	assert.Equal(t, 50, windows[1].Height)
}

func TestPlanSingleWindowWhenBlockCoversGrid(t *testing.T) {
	windows, err := Plan(100, 100, 1024, 1024)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, Window{Col: 0, Row: 0, OffX: 0, OffY: 0, Width: 100, Height: 100}, windows[0])
}

func TestPlanDeterministicRowMajor(t *testing.T) {
	a, err := Plan(513, 300, 128, 128)
	require.NoError(t, err)
	b, err := Plan(513, 300, 128, 128)
	require.NoError(t, err)
	require.Equal(t, a, b)

	// Row-major: the offsets never move backwards.
	for i := 1; i < len(a); i++ {
		prev, cur := a[i-1], a[i]
		if cur.Row == prev.Row {
			assert.Greater(t, cur.OffX, prev.OffX)
		} else {
			assert.Equal(t, prev.Row+1, cur.Row)
			assert.Zero(t, cur.OffX)
		}
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	for _, tc := range [][4]int{
		{0, 100, 64, 64},
		{100, 0, 64, 64},
		{100, 100, 0, 64},
		{100, 100, 64, -1},
	} {
		_, err := Plan(tc[0], tc[1], tc[2], tc[3])
		require.ErrorIs(t, err, errs.ErrInvalidParameters)
	}
}
