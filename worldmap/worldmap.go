// Package worldmap implements a live 2D range index over axis-aligned
// rectangles.
//
// Each axis is a sorted sequence of lines, one per distinct edge coordinate,
// recording which elements begin and end there. An Area is a query window
// whose membership is kept up to date as the window is resized or as elements
// are registered, moved and unregistered. Resizing an area only scans the
// lines crossed by its moving edges.
//
// A WorldMap and its areas are not safe for concurrent use: all calls must come
// from a single writer. Callbacks may call back into the index.
package worldmap

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// ID identifies an element. It must be unique within a WorldMap and stable
// for the element's lifetime.
type ID uint32

// Element is an entity indexed by a WorldMap.
type Element interface {
	// Returns the element identifier.
	ElementID() ID

	// Returns the element rectangle. Elements without bounds return Infinite.
	Bounds() Rect
}

// Option configures a WorldMap.
type Option func(*WorldMap)

// WithLinePruning sets whether lines left empty by Unregister or Move are
// removed from the axes. It is enabled by default. Disabling it lets lines
// accumulate for the lifetime of the WorldMap.
func WithLinePruning(v bool) Option {
	return func(w *WorldMap) {
		w.pruneLines = v
	}
}

// WorldMap is the spatial index. It owns one axis per dimension and keeps
// track of the areas created from it.
type WorldMap struct {
	x *axis
	y *axis

	elements   map[ID]*entry
	areas      []*Area
	pruneLines bool
}

// New creates an empty WorldMap.
func New(opts ...Option) *WorldMap {
	w := &WorldMap{
		x:          newAxis(axisX),
		y:          newAxis(axisY),
		elements:   make(map[ID]*entry),
		pruneLines: true,
	}

	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register adds an element to the index. Live areas that intersect the
// element are notified with an Add event.
//
// Elements with a degenerate rectangle are recorded but never indexed on
// either axis: they are not members of any area.
func (w *WorldMap) Register(e Element) error {
	id := e.ElementID()
	rect := e.Bounds()
	if err := rect.Validate(); err != nil {
		return err
	}

	if _, ok := w.elements[id]; ok {
		return errors.New("element is already registered").
			WithType(ErrTypeDuplicateElement).
			WithTag("element_id", id)
	}

	en := &entry{
		elem: e,
		rect: rect,
	}
	w.elements[id] = en
	w.index(en)
	instrumentElements(1)

	areas := w.areas
	for _, a := range areas {
		a.include(en)
	}
	for _, a := range areas {
		a.flush()
	}
	return nil
}

// Unregister removes an element from the index. Areas holding the element are
// notified with a Remove event.
func (w *WorldMap) Unregister(id ID) error {
	en, ok := w.elements[id]
	if !ok {
		return errors.New("element is not registered").
			WithType(ErrTypeElementNotFound).
			WithTag("element_id", id)
	}

	delete(w.elements, id)
	w.unindex(en)
	instrumentElements(-1)

	areas := w.areas
	for _, a := range areas {
		a.exclude(id)
	}
	for _, a := range areas {
		a.flush()
	}
	return nil
}

// Move updates the rectangle of a registered element from e.Bounds(). Areas
// are notified only when the element enters or leaves them.
func (w *WorldMap) Move(e Element) error {
	id := e.ElementID()
	en, ok := w.elements[id]
	if !ok {
		return errors.New("element is not registered").
			WithType(ErrTypeElementNotFound).
			WithTag("element_id", id)
	}

	rect := e.Bounds()
	if err := rect.Validate(); err != nil {
		return err
	}

	w.unindex(en)
	en.elem = e
	en.rect = rect
	w.index(en)

	areas := w.areas
	for _, a := range areas {
		a.refresh(en)
	}
	for _, a := range areas {
		a.flush()
	}
	return nil
}

// Query creates an area covering r with a full sweep of the index. The area
// stays attached to the WorldMap until it is closed.
func (w *WorldMap) Query(r Rect) (*Area, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	a := newArea(w, r)

	// Every element intersecting r has its left edge at or before r.Right, so
	// the entering sets up to there hold all candidates.
	for _, l := range w.x.lines {
		if l.position > r.Right {
			break
		}

		for _, en := range l.entering {
			if en.rect.Intersects(r) {
				a.members[en.id()] = en
			}
		}
	}

	a.anchor()
	w.areas = append(w.areas, a)
	instrumentAreas(1)
	return a, nil
}

// Close closes the live areas and drops every element and line, leaving the
// WorldMap empty. Areas are not notified.
func (w *WorldMap) Close() {
	for _, a := range w.areas {
		a.Close()
	}

	instrumentElements(-float64(len(w.elements)))
	instrumentLines(axisX, -float64(len(w.x.lines)-2))
	instrumentLines(axisY, -float64(len(w.y.lines)-2))

	w.elements = make(map[ID]*entry)
	w.x = newAxis(axisX)
	w.y = newAxis(axisY)
}

// Element returns the registered element with the given id.
func (w *WorldMap) Element(id ID) (Element, bool) {
	en, ok := w.elements[id]
	if !ok {
		return nil, false
	}
	return en.elem, true
}

// Len returns the number of registered elements.
func (w *WorldMap) Len() int {
	return len(w.elements)
}

// Lines returns the line positions of the horizontal (x) and vertical (y)
// axes, sentinels included.
func (w *WorldMap) Lines() (x []float64, y []float64) {
	return w.x.positions(), w.y.positions()
}

func (w *WorldMap) index(en *entry) {
	if en.rect.Degenerate() {
		en.indexed = false
		return
	}

	w.x.insertOrFind(en.rect.Left).entering.add(en)
	w.x.insertOrFind(en.rect.Right).leaving.add(en)
	w.y.insertOrFind(en.rect.Top).entering.add(en)
	w.y.insertOrFind(en.rect.Bottom).leaving.add(en)
	en.indexed = true
}

func (w *WorldMap) unindex(en *entry) {
	if !en.indexed {
		return
	}

	id := en.id()
	w.unlink(w.x, en.rect.Left, id, true)
	w.unlink(w.x, en.rect.Right, id, false)
	w.unlink(w.y, en.rect.Top, id, true)
	w.unlink(w.y, en.rect.Bottom, id, false)
	en.indexed = false
}

func (w *WorldMap) unlink(a *axis, position float64, id ID, entering bool) {
	i, ok := a.find(position)
	if !ok {
		return
	}

	l := a.lines[i]
	if entering {
		l.entering.remove(id)
	} else {
		l.leaving.remove(id)
	}

	if w.pruneLines {
		a.prune(i)
	}
}

func (w *WorldMap) detach(a *Area) {
	for i, area := range w.areas {
		if area != a {
			continue
		}

		areas := make([]*Area, 0, len(w.areas)-1)
		areas = append(areas, w.areas[:i]...)
		areas = append(areas, w.areas[i+1:]...)
		w.areas = areas
		instrumentAreas(-1)
		return
	}
}
