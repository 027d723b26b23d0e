package models

import (
	"sync"

	"github.com/aukilabs/worldmap/worldmap"
)

// Entity is a rectangle placed in a session world by a participant. It is the
// element indexed by the session WorldMap.
type Entity struct {
	ID            uint32
	ParticipantID uint32

	// Persisted entities stay in the session when their participant leaves.
	Persist bool

	mutex sync.RWMutex
	rect  worldmap.Rect
}

// NewEntity creates an entity covering the given rectangle.
func NewEntity(id, participantID uint32, rect worldmap.Rect) *Entity {
	return &Entity{
		ID:            id,
		ParticipantID: participantID,
		rect:          rect,
	}
}

func (e *Entity) ElementID() worldmap.ID {
	return worldmap.ID(e.ID)
}

func (e *Entity) Bounds() worldmap.Rect {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.rect
}

// SetRect changes the entity rectangle. The session index is only updated
// through Session.MoveEntity.
func (e *Entity) SetRect(v worldmap.Rect) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.rect = v
}
