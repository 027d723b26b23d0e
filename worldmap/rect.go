package worldmap

import (
	"fmt"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Infinite is the rectangle covering the whole world. Elements without bounds
// use it and are members of every area.
var Infinite = Rect{
	Left:   math.Inf(-1),
	Right:  math.Inf(1),
	Top:    math.Inf(-1),
	Bottom: math.Inf(1),
}

// Rect is an axis-aligned rectangle in world space. Edges are inclusive and
// the vertical axis grows downward: Top <= Bottom.
type Rect struct {
	Left   float64
	Right  float64
	Top    float64
	Bottom float64
}

// Intersects reports whether r and o overlap. Touching edges count as an
// intersection.
func (r Rect) Intersects(o Rect) bool {
	return r.Left <= o.Right &&
		r.Right >= o.Left &&
		r.Top <= o.Bottom &&
		r.Bottom >= o.Top
}

// Degenerate reports whether r has no extent on one of its axes.
func (r Rect) Degenerate() bool {
	return r.Left == r.Right || r.Top == r.Bottom
}

// Validate returns an error typed ErrTypeInvalidRange when r has a NaN edge or
// inverted bounds. Infinite edges are valid.
func (r Rect) Validate() error {
	if math.IsNaN(r.Left) || math.IsNaN(r.Right) || math.IsNaN(r.Top) || math.IsNaN(r.Bottom) {
		return errors.New("range has a NaN edge").
			WithType(ErrTypeInvalidRange).
			WithTag("range", r.String())
	}

	if r.Left > r.Right || r.Top > r.Bottom {
		return errors.New("range has inverted edges").
			WithType(ErrTypeInvalidRange).
			WithTag("range", r.String())
	}

	return nil
}

func (r Rect) String() string {
	return fmt.Sprintf("[%g, %g]x[%g, %g]", r.Left, r.Right, r.Top, r.Bottom)
}

// Point is a position in world space.
type Point struct {
	X float64
	Y float64
}
