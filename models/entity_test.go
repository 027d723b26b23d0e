package models

import (
	"testing"

	"github.com/aukilabs/worldmap/worldmap"
	"github.com/stretchr/testify/require"
)

func TestEntity(t *testing.T) {
	e := NewEntity(7, 1, rect(0, 1, 0, 1))

	var element worldmap.Element = e
	require.Equal(t, worldmap.ID(7), element.ElementID())
	require.Equal(t, rect(0, 1, 0, 1), element.Bounds())

	e.SetRect(worldmap.Infinite)
	require.Equal(t, worldmap.Infinite, e.Bounds())
}
