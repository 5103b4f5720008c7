// Package tiler computes the fallback arrangement the compositor uses for
// mapped surfaces while no frontend is attached. It is a plain gapped
// grid, enough to keep every surface visible and usable until a frontend
// connects and takes over geometry.
package tiler

import (
	"math"

	"github.com/ezemtsov/ewm-sub001/geom"
)

// Dimensions returns the grid shape for n surfaces. Columns grow as the
// ceiling of the square root so the grid stays near square and fills
// left to right before it grows downward.
func Dimensions(n int) (rows, cols int) {
	if n <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = int(math.Ceil(float64(n) / float64(cols)))
	return rows, cols
}

// Grid returns one rect per surface, row-major inside area with gap
// pixels between cells and against the edges. A final row holding fewer
// surfaces than the grid has columns stretches its cells to fill the full
// width. Cells never come out smaller than 1x1 even when area is tiny, so
// every surface keeps a positive footprint.
func Grid(n int, area geom.Rect, gap int) []geom.Rect {
	if n <= 0 {
		return nil
	}
	rows, cols := Dimensions(n)

	cellWidth := clampPositive((area.Width - (cols+1)*gap) / cols)
	cellHeight := clampPositive((area.Height - (rows+1)*gap) / rows)

	lastRow := rows - 1
	inLastRow := n - lastRow*cols
	lastRowWidth := cellWidth
	if inLastRow < cols {
		lastRowWidth = clampPositive((area.Width - (inLastRow+1)*gap) / inLastRow)
	}

	rects := make([]geom.Rect, n)
	for i := 0; i < n; i++ {
		row := i / cols
		col := i % cols
		width := cellWidth
		if row == lastRow && inLastRow < cols {
			col = i - lastRow*cols
			width = lastRowWidth
		}
		rects[i] = geom.Rect{
			X:      area.X + gap + col*(width+gap),
			Y:      area.Y + gap + row*(cellHeight+gap),
			Width:  width,
			Height: cellHeight,
		}
	}
	return rects
}

func clampPositive(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
