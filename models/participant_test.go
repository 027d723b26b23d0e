package models

import (
	"testing"

	"github.com/aukilabs/worldmap/worldmap"
	"github.com/stretchr/testify/require"
)

func TestParticipantAddEntity(t *testing.T) {
	p := Participant{
		ID: 1,
	}

	p.AddEntity(&Entity{ID: 3, ParticipantID: 1})
	p.AddEntity(&Entity{ID: 1, ParticipantID: 1})
	require.Equal(t, []uint32{1, 3}, p.EntityIDs())
}

func TestParticipantRemoveEntity(t *testing.T) {
	p := Participant{
		ID: 1,
	}

	e := &Entity{
		ID:            1,
		ParticipantID: 1,
	}

	p.AddEntity(e)
	require.Len(t, p.EntityIDs(), 1)

	p.RemoveEntity(e)
	require.Empty(t, p.EntityIDs())
}

func TestParticipantAreaEvents(t *testing.T) {
	p := Participant{
		ID: 1,
	}
	require.Empty(t, p.PopAreaEvents())

	e := NewEntity(1, 1, worldmap.Infinite)
	p.PushAreaEvent(2, worldmap.Event{Kind: worldmap.Add, Element: e})
	p.PushAreaEvent(2, worldmap.Event{Kind: worldmap.Remove, Element: e})

	events := p.PopAreaEvents()
	require.Len(t, events, 2)
	require.Equal(t, uint32(2), events[0].AreaID)
	require.Equal(t, worldmap.Add, events[0].Kind)
	require.Equal(t, worldmap.Remove, events[1].Kind)
	require.Empty(t, p.PopAreaEvents())
}
