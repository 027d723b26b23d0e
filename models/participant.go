package models

import (
	"sort"
	"sync"

	"github.com/aukilabs/worldmap/worldmap"
)

// AreaEvent is an event of an area opened by a participant. Bounds is the
// element rectangle when the event occurred.
type AreaEvent struct {
	AreaID uint32
	Bounds worldmap.Rect
	worldmap.Event
}

// A session participant.
type Participant struct {
	ID uint32

	mutex      sync.Mutex
	entityIDs  map[uint32]struct{}
	areaIDs    map[uint32]struct{}
	areaEvents []AreaEvent
}

func (p *Participant) AddEntity(e *Entity) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.entityIDs == nil {
		p.entityIDs = make(map[uint32]struct{})
	}
	p.entityIDs[e.ID] = struct{}{}
}

func (p *Participant) RemoveEntity(e *Entity) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	delete(p.entityIDs, e.ID)
}

// EntityIDs returns the ids of the entities added by the participant, in
// ascending order.
func (p *Participant) EntityIDs() []uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return sortedIDs(p.entityIDs)
}

func (p *Participant) addArea(id uint32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.areaIDs == nil {
		p.areaIDs = make(map[uint32]struct{})
	}
	p.areaIDs[id] = struct{}{}
}

func (p *Participant) removeArea(id uint32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	delete(p.areaIDs, id)
}

// AreaIDs returns the ids of the areas opened by the participant, in
// ascending order.
func (p *Participant) AreaIDs() []uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return sortedIDs(p.areaIDs)
}

// PushAreaEvent buffers an event until the next call to PopAreaEvents.
func (p *Participant) PushAreaEvent(areaID uint32, e worldmap.Event) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.areaEvents = append(p.areaEvents, AreaEvent{
		AreaID: areaID,
		Bounds: e.Element.Bounds(),
		Event:  e,
	})
}

// PopAreaEvents returns and clears the buffered area events, in the order
// they were pushed.
func (p *Participant) PopAreaEvents() []AreaEvent {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	events := p.areaEvents
	p.areaEvents = nil
	return events
}

func sortedIDs(m map[uint32]struct{}) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}
