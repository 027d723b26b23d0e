package main

import (
	"fmt"
	"math/rand"
	"os"
	"reflect"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/gdamore/tcell/v2"
)

var _ = reflect.TypeOf(config{})

type config struct {
	Sprites    int           `cli:"" env:"VIEWER_SPRITES"     help:"The number of sprites in the world."`
	WorldSize  int           `cli:"" env:"VIEWER_WORLD_SIZE"  help:"The width and height of the world."`
	CellSize   int           `cli:"" env:"VIEWER_CELL_SIZE"   help:"The size of the cells that trigger an area move."`
	HalfExtent int           `cli:"" env:"VIEWER_HALF_EXTENT" help:"The half extent of the area around the player cell."`
	Wander     int           `cli:"" env:"VIEWER_WANDER"      help:"The number of sprites moved at each tick."`
	Seed       int64         `cli:"" env:"VIEWER_SEED"        help:"The random seed. Time based when 0."`
	Tick       time.Duration `cli:"" env:"VIEWER_TICK"        help:"The duration between each redraw."`
	LogLevel   string        `cli:"" env:"VIEWER_LOG_LEVEL"   help:"Log level (debug|info|warning|error)."`
	Help       bool          `cli:"" env:"-"                  help:"Show help."`
}

func main() {
	conf := config{
		Sprites:    400,
		WorldSize:  200,
		CellSize:   8,
		HalfExtent: 20,
		Wander:     10,
		Tick:       time.Millisecond * 50,
		LogLevel:   "error",
	}

	cli.Register().
		Help("Explores a random world through an area that follows the player.").
		Options(&conf)
	cli.Load()

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	seed := conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	s, err := newScene(conf, rng)
	if err != nil {
		logs.Fatal(errors.New("creating scene failed").Wrap(err))
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		logs.Fatal(errors.New("creating screen failed").Wrap(err))
	}
	if err := screen.Init(); err != nil {
		logs.Fatal(errors.New("initializing screen failed").Wrap(err))
	}

	v := viewer{
		screen: screen,
		scene:  s,
		rng:    rng,
		wander: conf.Wander,
	}
	err = v.run(conf.Tick)
	screen.Fini()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateConfig(conf config) error {
	switch {
	case conf.WorldSize <= 0:
		return errors.New("world size must be positive").WithTag("world_size", conf.WorldSize)
	case conf.CellSize <= 0:
		return errors.New("cell size must be positive").WithTag("cell_size", conf.CellSize)
	case conf.HalfExtent < conf.CellSize:
		return errors.New("half extent must cover a cell").
			WithTag("half_extent", conf.HalfExtent).
			WithTag("cell_size", conf.CellSize)
	case conf.Sprites < 0:
		return errors.New("sprite count is negative").WithTag("sprites", conf.Sprites)
	case conf.Tick <= 0:
		return errors.New("tick must be positive").WithTag("tick", conf.Tick)
	default:
		return nil
	}
}

type viewer struct {
	screen tcell.Screen
	scene  *scene
	rng    *rand.Rand
	wander int
}

func (v *viewer) run(tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	eventChan := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case eventChan <- ev:
			case <-quit:
				return
			}
		}
	}()

	v.draw()

	for {
		select {
		case ev := <-eventChan:
			ok, err := v.handleInput(ev)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			v.draw()

		case <-ticker.C:
			if err := v.scene.wander(v.rng, v.wander); err != nil {
				return err
			}
			v.draw()
		}
	}
}

// handleInput returns false when the viewer should exit.
func (v *viewer) handleInput(ev tcell.Event) (bool, error) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		return v.handleKey(ev.Key(), ev.Rune())

	case *tcell.EventResize:
		v.screen.Sync()
	}
	return true, nil
}

func (v *viewer) handleKey(key tcell.Key, r rune) (bool, error) {
	switch key {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false, nil
	case tcell.KeyUp:
		return true, v.scene.movePlayer(0, -1)
	case tcell.KeyDown:
		return true, v.scene.movePlayer(0, 1)
	case tcell.KeyLeft:
		return true, v.scene.movePlayer(-1, 0)
	case tcell.KeyRight:
		return true, v.scene.movePlayer(1, 0)
	case tcell.KeyRune:
		return r != 'q', nil
	default:
		return true, nil
	}
}

func (v *viewer) draw() {
	v.screen.Clear()
	v.scene.draw(v.screen)
	v.screen.Show()
}
