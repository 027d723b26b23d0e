package worldmap

import (
	"sort"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Kind is the kind of an area event.
type Kind int

const (
	// The zero value. No event has this kind.
	Unknown Kind = iota

	// An element entered the area.
	Add

	// An element left the area.
	Remove

	// The area was resized and the element is still a member.
	Update
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Update:
		return "update"
	default:
		return "unknown"
	}
}

// Event describes a membership change of an area.
type Event struct {
	Kind    Kind
	Element Element

	// The area range once the operation that produced the event completed.
	Range Rect

	// The range before the resize. Only set for Update events.
	Previous Rect
}

// Callback receives area events.
type Callback func(Event)

// Subscription is the handle of a callback subscribed to an area.
type Subscription struct {
	area   *Area
	cb     Callback
	since  uint64
	active bool
}

// Unsubscribe is a shortcut for Area.Unsubscribe.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.area == nil {
		return
	}
	s.area.Unsubscribe(s)
}

type notification struct {
	seq    uint64
	event  Event
	target *Subscription
}

type lineIndexRange struct {
	left   int
	right  int
	top    int
	bottom int
}

// Area is a query window over a WorldMap whose membership is maintained
// incrementally.
//
// Events are queued while the area state changes and delivered once the
// operation completes, in queue order. When a callback triggers another
// operation, the resulting events are appended to the queue being delivered.
// A subscription only receives the events queued after it was created.
type Area struct {
	world *WorldMap
	rng   Rect

	// Left and right are the x axis lines bounding the range, top and bottom
	// the y axis ones. Left and top index the first line at or after the
	// edge, right and bottom the last line at or before it.
	lines       lineIndexRange
	xGeneration uint64
	yGeneration uint64

	members map[ID]*entry
	subs    []*Subscription

	queue    []notification
	seq      uint64
	flushing bool
	closed   bool
}

func newArea(w *WorldMap, r Rect) *Area {
	return &Area{
		world:   w,
		rng:     r,
		members: make(map[ID]*entry),
	}
}

// Range returns the current area window.
func (a *Area) Range() Rect {
	return a.rng
}

// Len returns the number of members.
func (a *Area) Len() int {
	return len(a.members)
}

// Contains reports whether the element with the given id is a member.
func (a *Area) Contains(id ID) bool {
	_, ok := a.members[id]
	return ok
}

// Members returns the elements currently in the area, sorted by id. The
// returned slice is a snapshot.
func (a *Area) Members() []Element {
	entries := a.sortedMembers()
	elements := make([]Element, len(entries))
	for i, en := range entries {
		elements[i] = en.elem
	}
	return elements
}

// Resize moves the area window to r. Each edge is processed in turn (left,
// right, top, bottom) by scanning only the lines between its previous and
// new position. Members that are still in the area afterwards receive an
// Update event.
func (a *Area) Resize(r Rect) error {
	if a.closed {
		return errors.New("area is closed").
			WithType(ErrTypeAreaClosed).
			WithTag("range", r.String())
	}

	if err := r.Validate(); err != nil {
		return err
	}

	prev := a.rng
	a.revalidate()

	x := a.world.x
	y := a.world.y

	scanned := a.moveLowEdge(x, &a.lines.left, prev.Left, r.Left, r)
	scanned += a.moveHighEdge(x, &a.lines.right, prev.Right, r.Right, r)
	scanned += a.moveLowEdge(y, &a.lines.top, prev.Top, r.Top, r)
	scanned += a.moveHighEdge(y, &a.lines.bottom, prev.Bottom, r.Bottom, r)
	instrumentScannedLines(scanned)

	a.rng = r
	for _, en := range a.sortedMembers() {
		a.enqueue(Event{
			Kind:     Update,
			Element:  en.elem,
			Range:    r,
			Previous: prev,
		})
	}

	a.flush()
	return nil
}

// Subscribe registers cb and replays an Add event to it for every current
// member.
func (a *Area) Subscribe(cb Callback) *Subscription {
	s := &Subscription{
		area:   a,
		cb:     cb,
		since:  a.seq,
		active: true,
	}

	subs := make([]*Subscription, 0, len(a.subs)+1)
	subs = append(subs, a.subs...)
	a.subs = append(subs, s)

	for _, en := range a.sortedMembers() {
		a.queue = append(a.queue, notification{
			event: Event{
				Kind:    Add,
				Element: en.elem,
				Range:   a.rng,
			},
			target: s,
		})
	}

	a.flush()
	return s
}

// Unsubscribe removes a subscription. Events still queued are not delivered
// to it. Unknown subscriptions are ignored.
func (a *Area) Unsubscribe(s *Subscription) {
	if s == nil || s.area != a || !s.active {
		return
	}
	s.active = false

	subs := make([]*Subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		if sub != s {
			subs = append(subs, sub)
		}
	}
	a.subs = subs
}

// Close detaches the area from its WorldMap. The membership is frozen and
// further resizes fail. Subscriptions are left untouched.
func (a *Area) Close() {
	if a.closed {
		return
	}

	a.closed = true
	a.world.detach(a)
}

// moveLowEdge moves a left or top edge. Elements crossing it are found in the
// leaving sets, at the lines holding their right or bottom edge.
func (a *Area) moveLowEdge(ax *axis, anchor *int, from, to float64, r Rect) int {
	lines := ax.lines
	scanned := 0

	switch {
	case to < from:
		i := *anchor - 1
		for ; i >= 0 && lines[i].position >= to; i-- {
			for _, en := range lines[i].leaving {
				a.check(en, r)
			}
			scanned++
		}
		*anchor = i + 1

	case to > from:
		i := *anchor
		for ; i < len(lines) && lines[i].position < to; i++ {
			for _, en := range lines[i].leaving {
				a.drop(en.id(), r)
			}
			scanned++
		}
		*anchor = i
	}

	return scanned
}

// moveHighEdge moves a right or bottom edge. Elements crossing it are found in
// the entering sets, at the lines holding their left or top edge.
func (a *Area) moveHighEdge(ax *axis, anchor *int, from, to float64, r Rect) int {
	lines := ax.lines
	scanned := 0

	switch {
	case to > from:
		i := *anchor + 1
		for ; i < len(lines) && lines[i].position <= to; i++ {
			for _, en := range lines[i].entering {
				a.check(en, r)
			}
			scanned++
		}
		*anchor = i - 1

	case to < from:
		i := *anchor
		for ; i >= 0 && lines[i].position > to; i-- {
			for _, en := range lines[i].entering {
				a.drop(en.id(), r)
			}
			scanned++
		}
		*anchor = i
	}

	return scanned
}

// anchor computes the line indices bounding the current range.
func (a *Area) anchor() {
	x := a.world.x
	y := a.world.y

	a.lines = lineIndexRange{
		left:   x.lowerBound(a.rng.Left),
		right:  x.upperBound(a.rng.Right) - 1,
		top:    y.lowerBound(a.rng.Top),
		bottom: y.upperBound(a.rng.Bottom) - 1,
	}
	a.xGeneration = x.generation
	a.yGeneration = y.generation
}

// revalidate recomputes the line indices when lines were inserted or pruned
// since they were cached.
func (a *Area) revalidate() {
	if a.xGeneration != a.world.x.generation || a.yGeneration != a.world.y.generation {
		a.anchor()
	}
}

// check adds en when it intersects r and removes it otherwise.
func (a *Area) check(en *entry, r Rect) {
	if !en.rect.Intersects(r) {
		a.drop(en.id(), r)
		return
	}

	if _, ok := a.members[en.id()]; !ok {
		a.add(en, r)
	}
}

func (a *Area) add(en *entry, r Rect) {
	a.members[en.id()] = en
	a.enqueue(Event{
		Kind:    Add,
		Element: en.elem,
		Range:   r,
	})
}

func (a *Area) drop(id ID, r Rect) {
	en, ok := a.members[id]
	if !ok {
		return
	}

	delete(a.members, id)
	a.enqueue(Event{
		Kind:    Remove,
		Element: en.elem,
		Range:   r,
	})
}

// include adds a newly registered element when it lies in the area.
func (a *Area) include(en *entry) {
	if a.closed || !en.indexed {
		return
	}
	if en.rect.Intersects(a.rng) {
		a.add(en, a.rng)
	}
}

// exclude removes an unregistered element.
func (a *Area) exclude(id ID) {
	if a.closed {
		return
	}
	a.drop(id, a.rng)
}

// refresh updates the membership of a moved element.
func (a *Area) refresh(en *entry) {
	if a.closed {
		return
	}

	_, member := a.members[en.id()]
	inside := en.indexed && en.rect.Intersects(a.rng)

	switch {
	case member && !inside:
		a.drop(en.id(), a.rng)

	case !member && inside:
		a.add(en, a.rng)

	case member:
		a.members[en.id()] = en
	}
}

func (a *Area) enqueue(e Event) {
	a.queue = append(a.queue, notification{
		seq:   a.seq,
		event: e,
	})
	a.seq++
	instrumentNotification(e.Kind)
}

// flush delivers queued events. It returns immediately when called from a
// callback: the delivery in progress picks up the new events.
func (a *Area) flush() {
	if a.flushing {
		return
	}

	a.flushing = true
	defer func() {
		a.flushing = false
	}()

	for len(a.queue) != 0 {
		n := a.queue[0]
		a.queue[0] = notification{}
		a.queue = a.queue[1:]
		a.deliver(n)
	}
	a.queue = nil
}

func (a *Area) deliver(n notification) {
	if n.target != nil {
		if n.target.active {
			n.target.cb(n.event)
		}
		return
	}

	for _, s := range a.subs {
		if s.active && n.seq >= s.since {
			s.cb(n.event)
		}
	}
}

func (a *Area) sortedMembers() []*entry {
	entries := make([]*entry, 0, len(a.members))
	for _, en := range a.members {
		entries = append(entries, en)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].id() < entries[j].id()
	})
	return entries
}
