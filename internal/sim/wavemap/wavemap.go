// Package wavemap decodes a layout seed into a grid of tiles.
//
// A seed is width*height (code, rotation) pairs laid out row by row. Cell i
// of the grid is pair i, so cell = row*width + col with row 0 at the top.
package wavemap

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrMalformed = errors.New("malformed wave map")

type Kind int

const (
	KindEmpty Kind = iota
	KindCube
	KindCorner
	KindRamp
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindCube:
		return "cube"
	case KindCorner:
		return "corner"
	case KindRamp:
		return "ramp"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Tile codes: 0 empty, 1-5 stacked cubes, 6-9 corners on 1-4 cubes, 10-13
// ramps on 1-4 cubes.
const (
	MaxCode     = 13
	MaxStack    = 5
	firstRamp   = 10
	firstCorner = 6
)

type Tile struct {
	Code     int
	Rotation int
}

func (t Tile) Kind() Kind {
	switch {
	case t.Code <= 0:
		return KindEmpty
	case t.Code < firstCorner:
		return KindCube
	case t.Code < firstRamp:
		return KindCorner
	}
	return KindRamp
}

// Height is the walkable level of the tile top. Corners and ramps add one
// level on top of their base cubes.
func (t Tile) Height() int {
	switch t.Kind() {
	case KindCube:
		return t.Code
	case KindCorner:
		return t.Code - firstCorner + 2
	case KindRamp:
		return t.Code - firstRamp + 2
	}
	return 0
}

type Map struct {
	Width  int
	Height int
	Tiles  []Tile
}

// Flat is the layout used when no seed is given: one cube per cell.
func Flat(width, height int) *Map {
	m := &Map{Width: width, Height: height, Tiles: make([]Tile, width*height)}
	for i := range m.Tiles {
		m.Tiles[i] = Tile{Code: 1}
	}
	return m
}

// Decode validates raw and builds the map. An empty raw yields Flat.
// Rotations above 3 fold to 0.
func Decode(raw []int64, width, height int) (*Map, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", ErrMalformed, width, height)
	}
	if len(raw) == 0 {
		return Flat(width, height), nil
	}
	if want := width * height * 2; len(raw) != want {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrMalformed, len(raw), want)
	}
	m := &Map{Width: width, Height: height, Tiles: make([]Tile, width*height)}
	for i := range m.Tiles {
		code, rot := raw[2*i], raw[2*i+1]
		if code < 0 || code > MaxCode {
			return nil, fmt.Errorf("%w: cell %d tile code %d", ErrMalformed, i, code)
		}
		if rot < 0 {
			return nil, fmt.Errorf("%w: cell %d rotation %d", ErrMalformed, i, rot)
		}
		if rot > 3 {
			rot = 0
		}
		m.Tiles[i] = Tile{Code: int(code), Rotation: int(rot)}
	}
	return m, nil
}

func (m *Map) Cells() int { return m.Width * m.Height }

// At returns the tile at column x, row y.
func (m *Map) At(x, y int) Tile { return m.Tiles[y*m.Width+x] }

func (m *Map) Cell(i int) Tile { return m.Tiles[i] }

// Coords maps a cell index to column and row.
func (m *Map) Coords(cell int) (x, y int) { return cell % m.Width, cell / m.Width }

// Index maps column and row to a cell index; ok is false off the grid.
func (m *Map) Index(x, y int) (cell int, ok bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return -1, false
	}
	return y*m.Width + x, true
}

// Raw encodes the map back into seed form.
func (m *Map) Raw() []int32 {
	out := make([]int32, 0, len(m.Tiles)*2)
	for _, t := range m.Tiles {
		out = append(out, int32(t.Code), int32(t.Rotation))
	}
	return out
}

// Random builds a layout of cube stacks no taller than maxStack with no
// empty cells, for clients that want a non-flat world.
func Random(rng *rand.Rand, width, height, maxStack int) *Map {
	if maxStack < 1 {
		maxStack = 1
	}
	if maxStack > MaxStack {
		maxStack = MaxStack
	}
	m := &Map{Width: width, Height: height, Tiles: make([]Tile, width*height)}
	for i := range m.Tiles {
		m.Tiles[i] = Tile{Code: 1 + rng.Intn(maxStack), Rotation: rng.Intn(4)}
	}
	return m
}
