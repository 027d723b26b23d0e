package worldmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGridCells(t *testing.T) {
	tests := []struct {
		name    string
		size    float64
		from    Point
		to      Point
		cell    Point
		changed bool
	}{
		{
			name: "same cell",
			size: 10,
			from: Point{X: 1, Y: 1},
			to:   Point{X: 9, Y: 9.5},
		},
		{
			name:    "next cell",
			size:    10,
			from:    Point{X: 9, Y: 1},
			to:      Point{X: 10, Y: 1},
			cell:    Point{X: 10, Y: 0},
			changed: true,
		},
		{
			name:    "negative coordinates",
			size:    10,
			from:    Point{X: 1, Y: 1},
			to:      Point{X: -0.5, Y: -12},
			cell:    Point{X: -10, Y: -20},
			changed: true,
		},
		{
			name:    "no grid",
			size:    0,
			from:    Point{X: 1, Y: 1},
			to:      Point{X: 1.5, Y: 1},
			cell:    Point{X: 1.5, Y: 1},
			changed: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cell, changed := GridCells(test.size)(test.from, test.to)
			require.Equal(t, test.changed, changed)
			if changed {
				require.Equal(t, test.cell, cell)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	a := Window(Point{X: 10, Y: 20}, 5)
	b := Window(Point{X: 0, Y: 0}, 1)

	require.Equal(t, rect(5, 15, 15, 25), a)
	require.Equal(t, rect(-1, 1, -1, 1), b)
}

func TestNextWindow(t *testing.T) {
	detect := GridCells(4)

	_, ok := NextWindow(Point{X: 1, Y: 1}, Point{X: 2, Y: 2}, 8, detect)
	require.False(t, ok)

	r, ok := NextWindow(Point{X: 1, Y: 1}, Point{X: 5, Y: 2}, 8, detect)
	require.True(t, ok)
	require.Equal(t, rect(-4, 12, -8, 8), r)
}

func TestAreaWatch(t *testing.T) {
	w := New()
	require.NoError(t, w.Register(testElement{id: 1, rect: rect(0, 1, 0, 1)}))
	require.NoError(t, w.Register(testElement{id: 2, rect: rect(30, 31, 0, 1)}))

	a, err := w.Query(Window(Point{}, 5))
	require.NoError(t, err)

	var r recorder
	a.Subscribe(r.record)
	require.Equal(t, []string{"add:A"}, r.summary())

	move := a.Watch("observer", 5, GridCells(10))

	require.NoError(t, move(Point{X: 0, Y: 0}, Point{X: 5, Y: 5}))
	require.Equal(t, Window(Point{}, 5), a.Range())
	require.Len(t, r.events, 1)

	require.NoError(t, move(Point{X: 5, Y: 5}, Point{X: 32, Y: 3}))
	require.Equal(t, Window(Point{X: 30, Y: 0}, 5), a.Range())
	require.Equal(t, []ID{2}, memberIDs(a))
	require.Equal(t, []string{"add:A", "remove:A", "add:B", "update:B"}, r.summary())

	// Two observers driving separate areas do not share state.
	b, err := w.Query(Window(Point{}, 5))
	require.NoError(t, err)
	other := b.Watch("other", 2, GridCells(10))

	require.NoError(t, other(Point{}, Point{X: 12, Y: 0}))
	require.NoError(t, move(Point{X: 32, Y: 3}, Point{X: 1, Y: 1}))
	require.Equal(t, Window(Point{X: 10, Y: 0}, 2), b.Range())
	require.Equal(t, Window(Point{}, 5), a.Range())
	require.Equal(t, []ID{1}, memberIDs(a))
	require.Empty(t, memberIDs(b))

	a.Close()
	require.Error(t, move(Point{X: 1, Y: 1}, Point{X: 50, Y: 50}))
}
