// Package geom holds the small geometry types shared between the wire
// protocol, the surface registry and the render pipeline.
package geom

import (
	"fmt"
	"strconv"
	"strings"
)

// Rect is a pixel rectangle in the compositor-wide coordinate space,
// top-left origin. Width and Height are never negative; a zero area is
// legal and means the surface is currently hidden.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Zero reports whether the rect has no visible area.
func (r Rect) Zero() bool {
	return r.Width == 0 || r.Height == 0
}

// String renders the rect in the wire/log form "<x>,<y> <w>x<h>".
func (r Rect) String() string {
	return fmt.Sprintf("%d,%d %dx%d", r.X, r.Y, r.Width, r.Height)
}

// ParseRect parses the two wire fields of a rect, "<x>,<y>" and "<w>x<h>".
// Positions may be negative (a surface can hang off the left/top edge of
// the layout), dimensions may not.
func ParseRect(pos, size string) (Rect, error) {
	xs, ys, ok := strings.Cut(pos, ",")
	if !ok {
		return Rect{}, fmt.Errorf("position %q is not of the form <x>,<y>", pos)
	}
	ws, hs, ok := strings.Cut(size, "x")
	if !ok {
		return Rect{}, fmt.Errorf("size %q is not of the form <w>x<h>", size)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return Rect{}, fmt.Errorf("bad x coordinate %q", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return Rect{}, fmt.Errorf("bad y coordinate %q", ys)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w < 0 {
		return Rect{}, fmt.Errorf("bad width %q", ws)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 {
		return Rect{}, fmt.Errorf("bad height %q", hs)
	}
	return Rect{X: x, Y: y, Width: w, Height: h}, nil
}
