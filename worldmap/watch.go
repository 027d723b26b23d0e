package worldmap

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/logs"
)

// CellDetector reports the cell an observer entered when moving from one
// position to another. Changed is false while the observer stays in the same
// cell.
type CellDetector func(from, to Point) (cell Point, changed bool)

// GridCells returns a CellDetector that quantizes positions into square cells
// of the given size. The reported cell is the cell origin. A size less than
// or equal to zero makes every distinct position its own cell.
func GridCells(size float64) CellDetector {
	return func(from, to Point) (Point, bool) {
		if size <= 0 {
			return to, from != to
		}

		f := cellOrigin(from, size)
		t := cellOrigin(to, size)
		return t, f != t
	}
}

func cellOrigin(p Point, size float64) Point {
	return Point{
		X: math.Floor(p.X/size) * size,
		Y: math.Floor(p.Y/size) * size,
	}
}

// Window returns the square window of the given half extent centered on c.
func Window(c Point, half float64) Rect {
	return Rect{
		Left:   c.X - half,
		Right:  c.X + half,
		Top:    c.Y - half,
		Bottom: c.Y + half,
	}
}

// NextWindow returns the window to apply when an observer moves from one
// position to another, or false when the observer did not change cell.
func NextWindow(from, to Point, half float64, detect CellDetector) (Rect, bool) {
	cell, changed := detect(from, to)
	if !changed {
		return Rect{}, false
	}
	return Window(cell, half), true
}

// Watch returns a function that resizes the area around an observer each
// time it enters a new cell.
func (a *Area) Watch(observer string, half float64, detect CellDetector) func(from, to Point) error {
	return func(from, to Point) error {
		window, ok := NextWindow(from, to, half, detect)
		if !ok {
			return nil
		}

		logs.WithTag("observer", observer).
			WithTag("range", window.String()).
			Debug("observer entered a new cell")
		return a.Resize(window)
	}
}
