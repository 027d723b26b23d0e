package models

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/worldmap/worldmap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func rect(left, right, top, bottom float64) worldmap.Rect {
	return worldmap.Rect{Left: left, Right: right, Top: top, Bottom: bottom}
}

func eventSummary(events []AreaEvent) []string {
	s := make([]string, len(events))
	for i, e := range events {
		s[i] = e.Kind.String()
	}
	return s
}

func TestSessionNewParticipantID(t *testing.T) {
	session := NewSession(42, time.Second)
	require.NotZero(t, session.NewParticipantID())
}

func TestSessionAddParticipant(t *testing.T) {
	participant := &Participant{ID: 777}
	session := NewSession(42, time.Second)

	session.AddParticipant(participant)
	require.Len(t, session.participants, 1)
	require.Equal(t, participant, session.participants[777])
	require.Equal(t, 1, session.ParticipantCount())
}

func TestSessionRemoveParticipant(t *testing.T) {
	participant := &Participant{ID: 777}
	session := NewSession(42, time.Second)

	session.AddParticipant(participant)
	require.Len(t, session.participants, 1)

	session.RemoveParticipant(participant)
	require.Empty(t, session.participants)
}

func TestSessionGetParticipants(t *testing.T) {
	participant := &Participant{ID: 777}
	session := NewSession(42, time.Second)

	session.AddParticipant(participant)

	participants := session.GetParticipants()
	require.Len(t, participants, 1)
	require.Equal(t, participant, participants[0])
}

func TestSessionNewEntityID(t *testing.T) {
	session := Session{}
	require.NotZero(t, session.NewEntityID())
}

func TestSessionAddEntity(t *testing.T) {
	t.Run("entity is added", func(t *testing.T) {
		entity := NewEntity(11, 1, rect(0, 1, 0, 1))
		session := NewSession(42, time.Second)

		err := session.AddEntity(entity)
		require.NoError(t, err)
		require.Len(t, session.entities, 1)
		require.Equal(t, entity, session.entities[11])
	})

	t.Run("invalid rectangle", func(t *testing.T) {
		entity := NewEntity(11, 1, rect(1, 0, 0, 1))
		session := NewSession(42, time.Second)

		err := session.AddEntity(entity)
		require.True(t, errors.IsType(err, worldmap.ErrTypeInvalidRange))
		require.Empty(t, session.entities)
	})

	t.Run("entity added twice", func(t *testing.T) {
		entity := NewEntity(11, 1, rect(0, 1, 0, 1))
		session := NewSession(42, time.Second)

		require.NoError(t, session.AddEntity(entity))
		err := session.AddEntity(entity)
		require.True(t, errors.IsType(err, worldmap.ErrTypeDuplicateElement))
	})
}

func TestSessionMoveEntity(t *testing.T) {
	session := NewSession(42, time.Second)
	entity := NewEntity(1, 1, rect(0, 1, 0, 1))
	require.NoError(t, session.AddEntity(entity))

	t.Run("entity is moved", func(t *testing.T) {
		err := session.MoveEntity(entity, rect(5, 6, 5, 6))
		require.NoError(t, err)
		require.Equal(t, rect(5, 6, 5, 6), entity.Bounds())
	})

	t.Run("invalid rectangle keeps the entity in place", func(t *testing.T) {
		err := session.MoveEntity(entity, rect(5, 6, 6, 5))
		require.True(t, errors.IsType(err, worldmap.ErrTypeInvalidRange))
		require.Equal(t, rect(5, 6, 5, 6), entity.Bounds())
	})

	t.Run("unknown entity", func(t *testing.T) {
		err := session.MoveEntity(NewEntity(2, 1, rect(0, 1, 0, 1)), rect(5, 6, 5, 6))
		require.True(t, errors.IsType(err, ErrTypeEntityNotFound))
	})
}

func TestSessionRemoveEntity(t *testing.T) {
	t.Run("remove entity", func(t *testing.T) {
		entity := NewEntity(11, 1, rect(0, 1, 0, 1))
		session := NewSession(42, time.Second)

		require.NoError(t, session.AddEntity(entity))
		require.Len(t, session.entities, 1)

		require.NoError(t, session.RemoveEntity(entity))
		require.Empty(t, session.entities)
	})

	t.Run("remove unknown entity", func(t *testing.T) {
		session := NewSession(42, time.Second)

		err := session.RemoveEntity(NewEntity(11, 1, rect(0, 1, 0, 1)))
		require.True(t, errors.IsType(err, ErrTypeEntityNotFound))
	})
}

func TestSessionEntityByID(t *testing.T) {
	session := NewSession(42, time.Second)

	t.Run("entity is returned", func(t *testing.T) {
		entity := NewEntity(1, 1, rect(0, 1, 0, 1))
		require.NoError(t, session.AddEntity(entity))

		rEntity, ok := session.EntityByID(entity.ID)
		require.True(t, ok)
		require.Equal(t, entity, rEntity)
	})

	t.Run("entity is not returned", func(t *testing.T) {
		rEntity, ok := session.EntityByID(2)
		require.False(t, ok)
		require.Nil(t, rEntity)
	})
}

func TestSessionEntities(t *testing.T) {
	entity := NewEntity(1, 1, rect(0, 1, 0, 1))
	session := NewSession(42, time.Second)

	require.NoError(t, session.AddEntity(entity))

	entities := session.Entities()
	require.Len(t, entities, 1)
	require.Equal(t, entity, entities[0])
}

func TestSessionAreas(t *testing.T) {
	session := NewSession(42, time.Second)
	owner := &Participant{ID: 1}
	other := &Participant{ID: 2}
	session.AddParticipant(owner)
	session.AddParticipant(other)

	a := NewEntity(session.NewEntityID(), owner.ID, rect(0, 2, 0, 2))
	require.NoError(t, session.AddEntity(a))

	areaID, err := session.OpenArea(owner, rect(1, 1, 1, 1), owner.PushAreaEvent)
	require.NoError(t, err)
	require.Equal(t, []uint32{areaID}, owner.AreaIDs())
	require.Equal(t, 1, session.AreaCount())

	t.Run("open replays the members", func(t *testing.T) {
		events := owner.PopAreaEvents()
		require.Equal(t, []string{"add"}, eventSummary(events))
		require.Equal(t, areaID, events[0].AreaID)
		require.Equal(t, worldmap.ID(a.ID), events[0].Element.ElementID())
	})

	b := NewEntity(session.NewEntityID(), other.ID, rect(5, 6, 5, 6))
	require.NoError(t, session.AddEntity(b))

	t.Run("entity outside the area is not reported", func(t *testing.T) {
		require.Empty(t, owner.PopAreaEvents())
	})

	t.Run("resize", func(t *testing.T) {
		err := session.ResizeArea(owner, areaID, rect(4, 7, 4, 7))
		require.NoError(t, err)
		require.Equal(t, []string{"remove", "add", "update"}, eventSummary(owner.PopAreaEvents()))

		members, err := session.AreaMembers(owner, areaID)
		require.NoError(t, err)
		require.Equal(t, []uint32{b.ID}, members)
	})

	t.Run("moved entity enters the area", func(t *testing.T) {
		require.NoError(t, session.MoveEntity(a, rect(6, 8, 6, 8)))
		require.Equal(t, []string{"add"}, eventSummary(owner.PopAreaEvents()))
	})

	t.Run("removed entity leaves the area", func(t *testing.T) {
		require.NoError(t, session.RemoveEntity(b))
		require.Equal(t, []string{"remove"}, eventSummary(owner.PopAreaEvents()))
	})

	t.Run("area of another participant", func(t *testing.T) {
		err := session.ResizeArea(other, areaID, rect(0, 1, 0, 1))
		require.True(t, errors.IsType(err, ErrTypeUnauthorized))

		err = session.CloseArea(other, areaID)
		require.True(t, errors.IsType(err, ErrTypeUnauthorized))
	})

	t.Run("unknown area", func(t *testing.T) {
		err := session.ResizeArea(owner, 42, rect(0, 1, 0, 1))
		require.True(t, errors.IsType(err, ErrTypeAreaNotFound))
	})

	t.Run("invalid rectangle", func(t *testing.T) {
		err := session.ResizeArea(owner, areaID, rect(0, 1, 1, 0))
		require.True(t, errors.IsType(err, worldmap.ErrTypeInvalidRange))

		_, err = session.OpenArea(owner, rect(1, 0, 0, 1), owner.PushAreaEvent)
		require.True(t, errors.IsType(err, worldmap.ErrTypeInvalidRange))
	})

	t.Run("close", func(t *testing.T) {
		require.NoError(t, session.CloseArea(owner, areaID))
		require.Empty(t, owner.AreaIDs())
		require.Zero(t, session.AreaCount())

		require.NoError(t, session.AddEntity(NewEntity(session.NewEntityID(), other.ID, rect(6, 7, 6, 7))))
		require.Empty(t, owner.PopAreaEvents())

		err := session.CloseArea(owner, areaID)
		require.True(t, errors.IsType(err, ErrTypeAreaNotFound))
	})
}

func TestSessionWatchArea(t *testing.T) {
	session := NewSession(42, time.Second)
	owner := &Participant{ID: 1}

	near := NewEntity(session.NewEntityID(), owner.ID, rect(1, 2, 1, 2))
	far := NewEntity(session.NewEntityID(), owner.ID, rect(41, 42, 1, 2))
	require.NoError(t, session.AddEntity(near))
	require.NoError(t, session.AddEntity(far))

	areaID, err := session.OpenArea(owner, rect(100, 101, 100, 101), owner.PushAreaEvent)
	require.NoError(t, err)

	t.Run("observer move without watch", func(t *testing.T) {
		err := session.MoveObserver(owner, areaID, worldmap.Point{X: 1, Y: 1})
		require.True(t, errors.IsType(err, ErrTypeAreaNotWatched))
	})

	t.Run("watch resizes around the observer cell", func(t *testing.T) {
		err := session.WatchArea(owner, areaID, worldmap.Point{X: 3, Y: 3}, 5, 10)
		require.NoError(t, err)

		members, err := session.AreaMembers(owner, areaID)
		require.NoError(t, err)
		require.Equal(t, []uint32{near.ID}, members)
		require.Equal(t, []string{"add", "update"}, eventSummary(owner.PopAreaEvents()))
	})

	t.Run("moving within the cell does nothing", func(t *testing.T) {
		err := session.MoveObserver(owner, areaID, worldmap.Point{X: 9, Y: 9})
		require.NoError(t, err)
		require.Empty(t, owner.PopAreaEvents())
	})

	t.Run("moving to another cell resizes", func(t *testing.T) {
		err := session.MoveObserver(owner, areaID, worldmap.Point{X: 43, Y: 4})
		require.NoError(t, err)

		members, err := session.AreaMembers(owner, areaID)
		require.NoError(t, err)
		require.Equal(t, []uint32{far.ID}, members)
		require.Equal(t, []string{"remove", "add", "update"}, eventSummary(owner.PopAreaEvents()))
	})
}

func TestSessionCloseParticipantAreas(t *testing.T) {
	session := NewSession(42, time.Second)
	owner := &Participant{ID: 1}
	other := &Participant{ID: 2}

	for i := 0; i < 3; i++ {
		_, err := session.OpenArea(owner, rect(0, 1, 0, 1), owner.PushAreaEvent)
		require.NoError(t, err)
	}
	otherAreaID, err := session.OpenArea(other, rect(0, 1, 0, 1), other.PushAreaEvent)
	require.NoError(t, err)

	session.CloseParticipantAreas(owner)
	require.Empty(t, owner.AreaIDs())
	require.Equal(t, []uint32{otherAreaID}, other.AreaIDs())
	require.Equal(t, 1, session.AreaCount())
}

func TestSessionConcurrentWorldChanges(t *testing.T) {
	session := NewSession(42, time.Second)
	owner := &Participant{ID: 1}

	areaID, err := session.OpenArea(owner, rect(0, 100, 0, 100), owner.PushAreaEvent)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			e := NewEntity(session.NewEntityID(), owner.ID, rect(float64(i), float64(i+1), 0, 1))
			require.NoError(t, session.AddEntity(e))
			require.NoError(t, session.MoveEntity(e, rect(float64(i), float64(i+1), 10, 11)))
		}(i)
	}
	wg.Wait()

	members, err := session.AreaMembers(owner, areaID)
	require.NoError(t, err)
	require.Len(t, members, 8)
	require.True(t, sort.SliceIsSorted(members, func(i, j int) bool {
		return members[i] < members[j]
	}))
	require.Len(t, owner.PopAreaEvents(), 8)
}

func TestSessionClose(t *testing.T) {
	session := NewSession(42, time.Second)
	owner := &Participant{ID: 1}

	_, err := session.OpenArea(owner, rect(0, 1, 0, 1), owner.PushAreaEvent)
	require.NoError(t, err)

	session.Close()
	session.Close()
	require.Zero(t, session.AreaCount())
}

func TestSessionStoreNewID(t *testing.T) {
	sessions := SessionStore{}
	require.NotZero(t, sessions.NewID())
}

func TestSessionStoreAdd(t *testing.T) {
	t.Run("session is successfully added", func(t *testing.T) {
		var sessions SessionStore

		session := NewSession(42, time.Second)

		err := sessions.Add(context.Background(), session)
		require.NoError(t, err)
		require.Equal(t, session, sessions.sessions[sessions.GlobalSessionID(session.ID)])
		require.Equal(t, 1, sessions.Len())
	})
}

func TestSessionStoreRemove(t *testing.T) {
	t.Run("session is successfully removed", func(t *testing.T) {
		var sessions SessionStore

		ctx := context.Background()

		session := NewSession(42, time.Second)
		err := sessions.Add(ctx, session)
		require.NoError(t, err)
		require.Len(t, sessions.sessions, 1)

		sessions.Remove(ctx, session)
		require.Empty(t, sessions.sessions)

		sessions.Remove(ctx, session)
		require.Zero(t, sessions.Len())
	})

	t.Run("session id is reused", func(t *testing.T) {
		var sessions SessionStore

		ctx := context.Background()

		sessionID := sessions.NewID()
		session := NewSession(sessionID, time.Second)
		err := sessions.Add(ctx, session)
		require.NoError(t, err)
		require.Len(t, sessions.sessions, 1)

		sessions.Remove(ctx, session)
		require.Empty(t, sessions.sessions)

		nextSessionID := sessions.NewID()
		require.Equal(t, sessionID, nextSessionID)
	})

	t.Run("world metrics are released", func(t *testing.T) {
		var sessions SessionStore

		ctx := context.Background()
		elements := gaugeValue(t, "worldmap_elements")
		lines := gaugeValue(t, "worldmap_lines")

		var added []*Session
		for i := 0; i < 5; i++ {
			session := NewSession(sessions.NewID(), time.Second, worldmap.WithLinePruning(i%2 == 0))
			require.NoError(t, sessions.Add(ctx, session))

			entity := NewEntity(session.NewEntityID(), 1, rect(float64(i), float64(i+1), 0, 1))
			entity.Persist = true
			require.NoError(t, session.AddEntity(entity))

			moved := NewEntity(session.NewEntityID(), 1, rect(10, 11, 10, 11))
			require.NoError(t, session.AddEntity(moved))
			require.NoError(t, session.MoveEntity(moved, rect(20, 21, 20, 21)))

			added = append(added, session)
		}
		require.Equal(t, elements+10, gaugeValue(t, "worldmap_elements"))
		require.Greater(t, gaugeValue(t, "worldmap_lines"), lines)

		for _, session := range added {
			sessions.Remove(ctx, session)
		}
		require.Zero(t, sessions.Len())
		require.Equal(t, elements, gaugeValue(t, "worldmap_elements"))
		require.Equal(t, lines, gaugeValue(t, "worldmap_lines"))
	})
}

// gaugeValue returns the sum of the series of a gauge from the default
// registry.
func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var v float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			v += m.GetGauge().GetValue()
		}
	}
	return v
}

func TestSessionStoreGetByGlobalID(t *testing.T) {
	sessions := SessionStore{ServerID: "ted"}
	ctx := context.Background()

	t.Run("session is retrieved", func(t *testing.T) {
		session := NewSession(42, time.Second)
		err := sessions.Add(ctx, session)
		require.NoError(t, err)

		require.Equal(t, "tedx2a", sessions.GlobalSessionID(session.ID))
		res, ok := sessions.GetByGlobalID("tedx2a")
		require.True(t, ok)
		require.Equal(t, session, res)
	})

	t.Run("session is not retrieved", func(t *testing.T) {
		res, ok := sessions.GetByGlobalID(sessions.GlobalSessionID(84))
		require.False(t, ok)
		require.Nil(t, res)
	})
}

func TestSessionHandleFrame(t *testing.T) {
	session := NewSession(42, time.Millisecond*5)

	cancel := session.HandleFrame(func() {})
	require.Len(t, session.frameHandlers, 1)
	defer cancel()

	cancel()
	require.Empty(t, session.frameHandlers)
}

func TestSessionStartDispatchFrame(t *testing.T) {
	session := NewSession(42, time.Millisecond*5)

	var wg sync.WaitGroup
	var once sync.Once
	wg.Add(1)

	go session.StartDispatchFrames()

	session.HandleFrame(func() {
		once.Do(wg.Done)
	})

	wg.Wait()
	session.Close()
}
