package wavemap

import (
	"errors"
	"math/rand"
	"testing"
)

func TestDecodeEmptyIsFlat(t *testing.T) {
	m, err := Decode(nil, 9, 9)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Cells() != 81 {
		t.Fatalf("cells=%d", m.Cells())
	}
	for i, tile := range m.Tiles {
		if tile.Kind() != KindCube || tile.Height() != 1 {
			t.Fatalf("cell %d = %+v", i, tile)
		}
	}
}

func TestDecodeRowMajorPairs(t *testing.T) {
	// 3x2 grid.
	raw := []int64{
		1, 0, 2, 1, 0, 3,
		6, 2, 10, 7, 5, 0,
	}
	m, err := Decode(raw, 3, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cases := []struct {
		x, y   int
		kind   Kind
		height int
		rot    int
	}{
		{0, 0, KindCube, 1, 0},
		{1, 0, KindCube, 2, 1},
		{2, 0, KindEmpty, 0, 3},
		{0, 1, KindCorner, 2, 2},
		{1, 1, KindRamp, 2, 0},
		{2, 1, KindCube, 5, 0},
	}
	for _, tc := range cases {
		tile := m.At(tc.x, tc.y)
		if tile.Kind() != tc.kind || tile.Height() != tc.height || tile.Rotation != tc.rot {
			t.Fatalf("(%d,%d) = %+v kind=%s height=%d", tc.x, tc.y, tile, tile.Kind(), tile.Height())
		}
	}
	if x, y := m.Coords(4); x != 1 || y != 1 {
		t.Fatalf("coords(4)=%d,%d", x, y)
	}
	if _, ok := m.Index(3, 0); ok {
		t.Fatalf("index off grid accepted")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string][]int64{
		"short":         {1, 0, 1},
		"code too high": {14, 0, 1, 0},
		"negative code": {-1, 0, 1, 0},
		"negative rot":  {1, -2, 1, 0},
	}
	for name, raw := range cases {
		if _, err := Decode(raw, 2, 1); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
	if _, err := Decode(nil, 0, 9); !errors.Is(err, ErrMalformed) {
		t.Fatalf("zero width accepted")
	}
}

func TestRawRoundTrip(t *testing.T) {
	m := Random(rand.New(rand.NewSource(3)), 9, 9, 3)
	raw32 := m.Raw()
	raw := make([]int64, len(raw32))
	for i, v := range raw32 {
		raw[i] = int64(v)
	}
	back, err := Decode(raw, 9, 9)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range m.Tiles {
		if back.Tiles[i] != m.Tiles[i] {
			t.Fatalf("cell %d: %+v != %+v", i, back.Tiles[i], m.Tiles[i])
		}
		if m.Tiles[i].Height() > 3 || m.Tiles[i].Kind() != KindCube {
			t.Fatalf("random tile out of range: %+v", m.Tiles[i])
		}
	}
}
