package worldmap

import "sort"

// entry is the index bookkeeping of a registered element. The rectangle is
// the one the element had when it was registered or last moved.
type entry struct {
	elem    Element
	rect    Rect
	indexed bool
}

func (e *entry) id() ID {
	return e.elem.ElementID()
}

// elementSet is a set of entries kept sorted by element id.
type elementSet []*entry

func (s elementSet) search(id ID) (int, bool) {
	i := sort.Search(len(s), func(i int) bool {
		return s[i].id() >= id
	})
	return i, i < len(s) && s[i].id() == id
}

func (s *elementSet) add(e *entry) {
	i, ok := s.search(e.id())
	if ok {
		(*s)[i] = e
		return
	}

	*s = append(*s, nil)
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = e
}

func (s *elementSet) remove(id ID) bool {
	i, ok := s.search(id)
	if !ok {
		return false
	}

	copy((*s)[i:], (*s)[i+1:])
	(*s)[len(*s)-1] = nil
	*s = (*s)[:len(*s)-1]
	return true
}

// line is a breakpoint on one axis. Entering holds the elements whose lower
// edge lies at position, leaving the elements whose upper edge lies there.
type line struct {
	position float64
	entering elementSet
	leaving  elementSet
}

func (l *line) empty() bool {
	return len(l.entering) == 0 && len(l.leaving) == 0
}
