package main

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/aukilabs/worldmap/worldmap"
	"github.com/gdamore/tcell/v2"
)

var spriteRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789*#%&")

// sprite is a one cell element of the world.
type sprite struct {
	id    worldmap.ID
	x, y  float64
	r     rune
	style tcell.Style
}

func (s *sprite) ElementID() worldmap.ID {
	return s.id
}

func (s *sprite) Bounds() worldmap.Rect {
	return worldmap.Rect{
		Left:   s.x,
		Right:  s.x + 1,
		Top:    s.y,
		Bottom: s.y + 1,
	}
}

// canvas is the part of a tcell screen the scene draws on.
type canvas interface {
	Size() (int, int)
	SetContent(x, y int, primary rune, combining []rune, style tcell.Style)
}

// scene is a world of sprites seen by a player through an area that follows
// the player cell.
type scene struct {
	world   *worldmap.WorldMap
	area    *worldmap.Area
	watch   func(from, to worldmap.Point) error
	size    float64
	player  worldmap.Point
	sprites []*sprite

	// Maintained from the area events only.
	visible map[worldmap.ID]*sprite
	adds    int
	removes int
}

func newScene(conf config, rng *rand.Rand) (*scene, error) {
	s := &scene{
		world:   worldmap.New(),
		size:    float64(conf.WorldSize),
		player:  worldmap.Point{X: float64(conf.WorldSize / 2), Y: float64(conf.WorldSize / 2)},
		visible: make(map[worldmap.ID]*sprite),
	}

	for i := 0; i < conf.Sprites; i++ {
		sp := &sprite{
			id: worldmap.ID(i + 1),
			x:  float64(rng.Intn(conf.WorldSize)),
			y:  float64(rng.Intn(conf.WorldSize)),
			r:  spriteRunes[rng.Intn(len(spriteRunes))],
		}
		sp.style = spriteStyle(sp.r)

		if err := s.world.Register(sp); err != nil {
			return nil, err
		}
		s.sprites = append(s.sprites, sp)
	}

	half := float64(conf.HalfExtent)
	detect := worldmap.GridCells(float64(conf.CellSize))
	cell, _ := detect(s.player, s.player)

	area, err := s.world.Query(worldmap.Window(cell, half))
	if err != nil {
		return nil, err
	}
	area.Subscribe(s.handleEvent)

	s.area = area
	s.watch = area.Watch("player", half, detect)
	return s, nil
}

func (s *scene) handleEvent(e worldmap.Event) {
	switch e.Kind {
	case worldmap.Add:
		s.visible[e.Element.ElementID()] = e.Element.(*sprite)
		s.adds++

	case worldmap.Remove:
		delete(s.visible, e.Element.ElementID())
		s.removes++
	}
}

// movePlayer moves the player within the world bounds.
func (s *scene) movePlayer(dx, dy float64) error {
	from := s.player
	to := worldmap.Point{
		X: s.clamp(from.X + dx),
		Y: s.clamp(from.Y + dy),
	}

	if err := s.watch(from, to); err != nil {
		return err
	}
	s.player = to
	return nil
}

// wander moves n random sprites by one cell.
func (s *scene) wander(rng *rand.Rand, n int) error {
	if len(s.sprites) == 0 {
		return nil
	}

	for i := 0; i < n; i++ {
		sp := s.sprites[rng.Intn(len(s.sprites))]
		sp.x = s.clamp(sp.x + float64(rng.Intn(3)-1))
		sp.y = s.clamp(sp.y + float64(rng.Intn(3)-1))

		if err := s.world.Move(sp); err != nil {
			return err
		}
	}
	return nil
}

func (s *scene) clamp(v float64) float64 {
	return math.Max(0, math.Min(s.size-1, v))
}

// draw renders the visible sprites around the player. The last line shows the
// area state.
func (s *scene) draw(c canvas) {
	width, height := c.Size()
	if width <= 0 || height <= 1 {
		return
	}

	originX := s.player.X - float64(width/2)
	originY := s.player.Y - float64((height-1)/2)

	for _, sp := range s.visible {
		x := int(sp.x - originX)
		y := int(sp.y - originY)
		if x < 0 || x >= width || y < 0 || y >= height-1 {
			continue
		}
		c.SetContent(x, y, sp.r, nil, sp.style)
	}

	r := s.area.Range()
	border := tcell.StyleDefault.Foreground(tcell.ColorYellow)
	for _, corner := range [][2]float64{
		{r.Left, r.Top},
		{r.Right - 1, r.Top},
		{r.Left, r.Bottom - 1},
		{r.Right - 1, r.Bottom - 1},
	} {
		x := int(corner[0] - originX)
		y := int(corner[1] - originY)
		if x >= 0 && x < width && y >= 0 && y < height-1 {
			c.SetContent(x, y, '+', nil, border)
		}
	}

	c.SetContent(int(s.player.X-originX), int(s.player.Y-originY), '@', nil,
		tcell.StyleDefault.Foreground(tcell.ColorWhite).Reverse(true))

	status := fmt.Sprintf(" visible %d  adds %d  removes %d  area %s ",
		len(s.visible), s.adds, s.removes, r)
	for i, ch := range status {
		if i >= width {
			break
		}
		c.SetContent(i, height-1, ch, nil, tcell.StyleDefault.Reverse(true))
	}
}

func spriteStyle(r rune) tcell.Style {
	switch {
	case r >= 'a' && r <= 'z':
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case r >= 'A' && r <= 'Z':
		return tcell.StyleDefault.Foreground(tcell.ColorBlue)
	case r >= '0' && r <= '9':
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorPurple)
	}
}
