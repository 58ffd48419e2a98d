package grid

import (
	"fmt"

	"soilfetch/internal/errs"
)

// Plan partitions a width x height pixel grid into windows of at most
// blockWidth x blockHeight pixels, in row-major order (top-left to
// bottom-right). Trailing windows are clipped, never padded, so the
// windows exactly tile the grid with no gaps or overlaps. The sequence is
// deterministic for a given input, which keeps progress totals and mosaic
// placement reproducible.
func Plan(width, height, blockWidth, blockHeight int) ([]Window, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d has no pixels", errs.ErrInvalidParameters, width, height)
	}
	if blockWidth <= 0 || blockHeight <= 0 {
		return nil, fmt.Errorf("%w: block size %dx%d must be positive", errs.ErrInvalidParameters, blockWidth, blockHeight)
	}

	cols := (width + blockWidth - 1) / blockWidth
	rows := (height + blockHeight - 1) / blockHeight

	windows := make([]Window, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			w := Window{
				Col:    col,
				Row:    row,
				OffX:   col * blockWidth,
				OffY:   row * blockHeight,
				Width:  blockWidth,
				Height: blockHeight,
			}
			if w.OffX+w.Width > width {
				w.Width = width - w.OffX
			}
			if w.OffY+w.Height > height {
				w.Height = height - w.OffY
			}
			windows = append(windows, w)
		}
	}
	return windows, nil
}
