package gridscene

import (
	"envgrid.ai/internal/sim/wavemap"
)

var (
	colorEmpty = [4]byte{0, 0, 0, 255}
	colorSelf  = [4]byte{220, 40, 40, 255}
	colorAgent = [4]byte{40, 80, 220, 255}
	colorFood  = [4]byte{40, 200, 60, 255}
)

// Render draws the agent's top-down camera view of its world as RGBA pixels,
// row by row, four bytes per pixel.
func (s *Scene) Render(worldName, agentID string) ([]byte, error) {
	w, err := s.world(worldName)
	if err != nil {
		return nil, err
	}
	if _, err := s.object(worldName, agentID); err != nil {
		return nil, err
	}

	cw, ch := s.cfg.CameraWidth, s.cfg.CameraHeight
	pix := make([]byte, 4*cw*ch)
	occupant := make(map[int][4]byte, len(w.objects))
	for _, o := range w.objects {
		switch {
		case o.id == agentID:
			occupant[o.cell] = colorSelf
		case o.kind == ObjectFood:
			if _, taken := occupant[o.cell]; !taken {
				occupant[o.cell] = colorFood
			}
		default:
			if c, taken := occupant[o.cell]; !taken || c == colorFood {
				occupant[o.cell] = colorAgent
			}
		}
	}

	gw, gh := w.layout.Width, w.layout.Height
	for py := 0; py < ch; py++ {
		gy := py * gh / ch
		for px := 0; px < cw; px++ {
			gx := px * gw / cw
			cell, _ := w.layout.Index(gx, gy)
			c, ok := occupant[cell]
			if !ok {
				c = tileColor(w.layout.Cell(cell))
			}
			copy(pix[(py*cw+px)*4:], c[:])
		}
	}
	return pix, nil
}

func tileColor(t wavemap.Tile) [4]byte {
	if t.Kind() == wavemap.KindEmpty {
		return colorEmpty
	}
	// Higher tiles render lighter.
	v := byte(60 + 30*t.Height())
	switch t.Kind() {
	case wavemap.KindCorner:
		return [4]byte{v, v, v - 30, 255}
	case wavemap.KindRamp:
		return [4]byte{v, v - 30, v, 255}
	}
	return [4]byte{v, v, v, 255}
}
