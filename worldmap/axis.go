package worldmap

import "math"

const (
	axisX = "x"
	axisY = "y"
)

// axis is the sorted sequence of lines of one axis, bounded by a line at
// negative infinity and a line at positive infinity. Positions are strictly
// increasing.
type axis struct {
	name  string
	lines []*line

	// Incremented each time a line is inserted or pruned, so that cached line
	// indices can be detected as stale.
	generation uint64
}

func newAxis(name string) *axis {
	return &axis{
		name: name,
		lines: []*line{
			{position: math.Inf(-1)},
			{position: math.Inf(1)},
		},
	}
}

// lowerBound returns the index of the first line whose position is greater
// than or equal to p.
func (a *axis) lowerBound(p float64) int {
	lo, hi := 0, len(a.lines)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if a.lines[mid].position < p {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound returns the index of the first line whose position is strictly
// greater than p.
func (a *axis) upperBound(p float64) int {
	lo, hi := 0, len(a.lines)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if a.lines[mid].position <= p {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (a *axis) find(p float64) (int, bool) {
	i := a.lowerBound(p)
	return i, i < len(a.lines) && a.lines[i].position == p
}

// insertOrFind returns the line at position p, creating it when needed. p must
// not be NaN.
func (a *axis) insertOrFind(p float64) *line {
	i, ok := a.find(p)
	if ok {
		return a.lines[i]
	}

	l := &line{position: p}
	a.lines = append(a.lines, nil)
	copy(a.lines[i+1:], a.lines[i:])
	a.lines[i] = l
	a.generation++

	instrumentLines(a.name, 1)
	return l
}

// prune removes the line at index i when it is empty. Sentinels are never
// removed.
func (a *axis) prune(i int) bool {
	if i <= 0 || i >= len(a.lines)-1 || !a.lines[i].empty() {
		return false
	}

	copy(a.lines[i:], a.lines[i+1:])
	a.lines[len(a.lines)-1] = nil
	a.lines = a.lines[:len(a.lines)-1]
	a.generation++

	instrumentLines(a.name, -1)
	return true
}

func (a *axis) positions() []float64 {
	positions := make([]float64, len(a.lines))
	for i, l := range a.lines {
		positions[i] = l.position
	}
	return positions
}
