package models

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/worldmap/worldmap"
	"github.com/google/uuid"
)

// AreaCallback receives the events of an area opened in a session.
type AreaCallback func(areaID uint32, e worldmap.Event)

// Session represents a session that contains a world shared by its
// participants. Participants place entities in the world and open areas to
// follow the entities within a window.
//
// All world changes are serialized by the session. Area callbacks are called
// while the world is locked and must not call back into the session.
type Session struct {
	ID          uint32
	SessionUUID string

	AppKey string

	participantIDs   SequentialIDGenerator
	participantMutex sync.RWMutex
	participants     map[uint32]*Participant

	entityIDs   SequentialIDGenerator
	entityMutex sync.RWMutex
	entities    map[uint32]*Entity

	worldMutex sync.Mutex
	world      *worldmap.WorldMap
	areaIDs    SequentialIDGenerator
	areas      map[uint32]*sessionArea

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

type sessionArea struct {
	id      uint32
	ownerID uint32
	area    *worldmap.Area

	// Set once the area follows an observer.
	watch    func(from, to worldmap.Point) error
	observer worldmap.Point
}

func NewSession(id uint32, frameDuration time.Duration, opts ...worldmap.Option) *Session {
	return &Session{
		ID:             id,
		SessionUUID:    uuid.New().String(),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(frameDuration),
		participants:   make(map[uint32]*Participant),
		entities:       make(map[uint32]*Entity),
		world:          worldmap.New(opts...),
		areas:          make(map[uint32]*sessionArea),
		frameHandlers:  make(map[uint32]func()),
	}
}

// Close stops the frame dispatch, closes the session areas and empties the
// session world.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}

		s.worldMutex.Lock()
		defer s.worldMutex.Unlock()

		for id, a := range s.areas {
			a.area.Close()
			delete(s.areas, id)
		}
		s.world.Close()
	})
}

func (s *Session) NewParticipantID() uint32 {
	return s.participantIDs.New()
}

func (s *Session) AddParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	if _, ok := s.participants[p.ID]; !ok {
		instrumentParticipantGauge(s.AppKey, 1)
	}
	s.participants[p.ID] = p
}

func (s *Session) RemoveParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	if _, ok := s.participants[p.ID]; ok {
		instrumentParticipantGauge(s.AppKey, -1)
	}
	delete(s.participants, p.ID)
}

func (s *Session) GetParticipants() []*Participant {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		participants = append(participants, p)
	}
	return participants
}

func (s *Session) ParticipantCount() int {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	return len(s.participants)
}

func (s *Session) NewEntityID() uint32 {
	return s.entityIDs.New()
}

// AddEntity places an entity in the session world. Areas covering the entity
// receive an add event.
func (s *Session) AddEntity(e *Entity) error {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	if err := s.world.Register(e); err != nil {
		return err
	}

	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	s.entities[e.ID] = e
	return nil
}

// MoveEntity changes the rectangle of an entity. Areas receive an add or a
// remove event when the entity enters or leaves them.
func (s *Session) MoveEntity(e *Entity, rect worldmap.Rect) error {
	if err := rect.Validate(); err != nil {
		return err
	}

	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	if _, ok := s.world.Element(e.ElementID()); !ok {
		return errors.New("entity not found").
			WithType(ErrTypeEntityNotFound).
			WithTag("entity_id", e.ID)
	}

	prev := e.Bounds()
	e.SetRect(rect)

	if err := s.world.Move(e); err != nil {
		e.SetRect(prev)
		return err
	}
	return nil
}

// RemoveEntity removes an entity from the session world. Areas holding the
// entity receive a remove event.
func (s *Session) RemoveEntity(e *Entity) error {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	if err := s.world.Unregister(e.ElementID()); err != nil {
		return errors.New("entity not found").
			WithType(ErrTypeEntityNotFound).
			WithTag("entity_id", e.ID).
			Wrap(err)
	}

	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	delete(s.entities, e.ID)
	return nil
}

func (s *Session) EntityByID(id uint32) (*Entity, bool) {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	e, ok := s.entities[id]
	return e, ok
}

func (s *Session) Entities() []*Entity {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	entities := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	return entities
}

// OpenArea opens an area covering rect for the given participant. The
// callback first receives an add event for each entity already in the area,
// then the events that follow world changes and resizes.
func (s *Session) OpenArea(owner *Participant, rect worldmap.Rect, cb AreaCallback) (uint32, error) {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	a, err := s.world.Query(rect)
	if err != nil {
		return 0, err
	}

	id := s.areaIDs.New()
	s.areas[id] = &sessionArea{
		id:      id,
		ownerID: owner.ID,
		area:    a,
	}
	owner.addArea(id)

	a.Subscribe(func(e worldmap.Event) {
		cb(id, e)
	})

	logs.WithTag(logs.ParticipantIDTag, owner.ID).
		WithTag("area_id", id).
		WithTag("range", rect.String()).
		Debug("area opened")
	return id, nil
}

// ResizeArea moves the window of an area.
func (s *Session) ResizeArea(owner *Participant, areaID uint32, rect worldmap.Rect) error {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	a, err := s.area(owner, areaID)
	if err != nil {
		return err
	}
	return a.area.Resize(rect)
}

// WatchArea makes an area follow an observer located at the given position.
// The area is resized to the square of the given half extent centered on the
// observer cell, and then each time the observer enters another cell.
func (s *Session) WatchArea(owner *Participant, areaID uint32, at worldmap.Point, halfExtent, cellSize float64) error {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	a, err := s.area(owner, areaID)
	if err != nil {
		return err
	}

	detect := worldmap.GridCells(cellSize)
	cell, _ := detect(at, at)
	if err := a.area.Resize(worldmap.Window(cell, halfExtent)); err != nil {
		return err
	}

	observer := strconv.FormatUint(uint64(owner.ID), 10) + "/" + strconv.FormatUint(uint64(areaID), 10)
	a.watch = a.area.Watch(observer, halfExtent, detect)
	a.observer = at
	return nil
}

// MoveObserver updates the position of the observer followed by an area.
func (s *Session) MoveObserver(owner *Participant, areaID uint32, to worldmap.Point) error {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	a, err := s.area(owner, areaID)
	if err != nil {
		return err
	}

	if a.watch == nil {
		return errors.New("area does not follow an observer").
			WithType(ErrTypeAreaNotWatched).
			WithTag("area_id", areaID)
	}

	if err := a.watch(a.observer, to); err != nil {
		return err
	}
	a.observer = to
	return nil
}

// CloseArea closes an area. Its callback is not called anymore.
func (s *Session) CloseArea(owner *Participant, areaID uint32) error {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	a, err := s.area(owner, areaID)
	if err != nil {
		return err
	}

	s.closeArea(owner, a)
	return nil
}

// CloseParticipantAreas closes all the areas opened by a participant.
func (s *Session) CloseParticipantAreas(owner *Participant) {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	for _, id := range owner.AreaIDs() {
		if a, ok := s.areas[id]; ok {
			s.closeArea(owner, a)
		}
	}
}

// AreaMembers returns the ids of the entities in an area, in ascending order.
func (s *Session) AreaMembers(owner *Participant, areaID uint32) ([]uint32, error) {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	a, err := s.area(owner, areaID)
	if err != nil {
		return nil, err
	}

	members := a.area.Members()
	ids := make([]uint32, len(members))
	for i, m := range members {
		ids[i] = uint32(m.ElementID())
	}
	return ids, nil
}

// AreaCount returns the number of open areas.
func (s *Session) AreaCount() int {
	s.worldMutex.Lock()
	defer s.worldMutex.Unlock()

	return len(s.areas)
}

func (s *Session) area(owner *Participant, areaID uint32) (*sessionArea, error) {
	a, ok := s.areas[areaID]
	if !ok {
		return nil, errors.New("area not found").
			WithType(ErrTypeAreaNotFound).
			WithTag("area_id", areaID)
	}

	if a.ownerID != owner.ID {
		return nil, errors.New("area is owned by another participant").
			WithType(ErrTypeUnauthorized).
			WithTag("area_id", areaID).
			WithTag(logs.ParticipantIDTag, owner.ID)
	}
	return a, nil
}

func (s *Session) closeArea(owner *Participant, a *sessionArea) {
	a.area.Close()
	delete(s.areas, a.id)
	owner.removeArea(a.id)

	logs.WithTag(logs.ParticipantIDTag, owner.ID).
		WithTag("area_id", a.id).
		Debug("area closed")
}

func (s *Session) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.New()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Reuse(id)
	}
}

func (s *Session) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				s.frameMutex.RLock()
				for _, h := range s.frameHandlers {
					h()
				}
				s.frameMutex.RUnlock()
			}
		}
	})
}

// SessionStore is the store that holds the sessions of a server.
type SessionStore struct {
	// The id of the server, used to build global session ids.
	ServerID string

	initOnce sync.Once
	mutex    sync.RWMutex
	sessions map[string]*Session
	ids      SequentialIDGenerator
}

func (s *SessionStore) init() {
	s.sessions = map[string]*Session{}
}

func (s *SessionStore) NewID() uint32 {
	return s.ids.New()
}

func (s *SessionStore) Add(ctx context.Context, session *Session) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[s.GlobalSessionID(session.ID)] = session

	instrumentIncreaseSessionGauge(session.AppKey)
	instrumentCountSession(session.AppKey)
	return nil
}

func (s *SessionStore) Remove(ctx context.Context, session *Session) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.GlobalSessionID(session.ID)
	if _, ok := s.sessions[id]; !ok {
		return
	}

	delete(s.sessions, id)
	session.Close()

	s.ids.Reuse(session.ID)

	instrumentDecreaseSessionGauge(session.AppKey)
}

func (s *SessionStore) GetByGlobalID(v string) (*Session, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[v]
	return session, ok
}

func (s *SessionStore) Len() int {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.sessions)
}

func (s *SessionStore) GlobalSessionID(sessionID uint32) string {
	return fmt.Sprintf("%sx%x", s.ServerID, sessionID)
}
