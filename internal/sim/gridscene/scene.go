// Package gridscene is the in-process scene: grid worlds built from a wave
// map, agents and food placed on cells, paddle movement, rewards and a
// top-down camera.
//
// A Scene is not safe for concurrent use. The server only touches it from
// the owner goroutine.
package gridscene

import (
	"errors"
	"fmt"
	"sort"

	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/sim/wavemap"
)

var (
	ErrNoWorld  = errors.New("no rendered grid for world")
	ErrNoObject = errors.New("no such object")
)

type ObjectKind int

const (
	ObjectAgent ObjectKind = iota
	ObjectFood
)

func (k ObjectKind) String() string {
	if k == ObjectFood {
		return "food"
	}
	return "agent"
}

type Config struct {
	CameraWidth  int
	CameraHeight int
}

func (c Config) withDefaults() Config {
	if c.CameraWidth <= 0 {
		c.CameraWidth = 84
	}
	if c.CameraHeight <= 0 {
		c.CameraHeight = 84
	}
	return c
}

// Outcome is what one applied action produced.
type Outcome struct {
	Reward   float32
	Done     bool
	Collided bool
}

type object struct {
	id     string
	kind   ObjectKind
	cell   int
	camera string

	reward  float32
	done    bool
	dropped bool
}

type world struct {
	name    string
	layout  *wavemap.Map
	objects map[string]*object
}

type Scene struct {
	cfg    Config
	worlds map[string]*world
}

func New(cfg Config) *Scene {
	return &Scene{cfg: cfg.withDefaults(), worlds: map[string]*world{}}
}

func (s *Scene) CameraSize() (width, height int) {
	return s.cfg.CameraWidth, s.cfg.CameraHeight
}

// GenerateWorld builds the grid for name from layout. Generating an existing
// world rebuilds it and drops every object in it.
func (s *Scene) GenerateWorld(layout *wavemap.Map, name string) error {
	if layout == nil || layout.Cells() == 0 {
		return fmt.Errorf("generate %s: empty layout", name)
	}
	s.worlds[name] = &world{name: name, layout: layout, objects: map[string]*object{}}
	return nil
}

func (s *Scene) TeardownWorld(name string) error {
	if _, ok := s.worlds[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoWorld, name)
	}
	delete(s.worlds, name)
	return nil
}

func (s *Scene) HasWorld(name string) bool {
	_, ok := s.worlds[name]
	return ok
}

func (s *Scene) Layout(name string) (*wavemap.Map, error) {
	w, err := s.world(name)
	if err != nil {
		return nil, err
	}
	return w.layout, nil
}

func (s *Scene) world(name string) (*world, error) {
	w, ok := s.worlds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoWorld, name)
	}
	return w, nil
}

// Spawn places an object on cell. An existing object with the same id is
// moved there and its episode signals are cleared.
func (s *Scene) Spawn(worldName, id string, kind ObjectKind, cell int) error {
	w, err := s.world(worldName)
	if err != nil {
		return err
	}
	if cell < 0 || cell >= w.layout.Cells() {
		return fmt.Errorf("spawn %s in %s: cell %d outside grid", id, worldName, cell)
	}
	if o, ok := w.objects[id]; ok {
		o.cell = cell
		o.reward, o.done, o.dropped = 0, false, false
		return nil
	}
	o := &object{id: id, kind: kind, cell: cell}
	if kind == ObjectAgent {
		o.camera = id + "_camera"
	}
	w.objects[id] = o
	return nil
}

// Remove deletes objects by id. Unknown ids are ignored.
func (s *Scene) Remove(worldName string, ids ...string) error {
	w, err := s.world(worldName)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(w.objects, id)
	}
	return nil
}

// Objects lists object ids in worldName, sorted.
func (s *Scene) Objects(worldName string) []string {
	w, ok := s.worlds[worldName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(w.objects))
	for id := range w.objects {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Cell reports where an object stands.
func (s *Scene) Cell(worldName, id string) (int, error) {
	o, err := s.object(worldName, id)
	if err != nil {
		return -1, err
	}
	return o.cell, nil
}

func (s *Scene) Camera(worldName, agentID string) (string, error) {
	o, err := s.object(worldName, agentID)
	if err != nil {
		return "", err
	}
	return o.camera, nil
}

func (s *Scene) object(worldName, id string) (*object, error) {
	w, err := s.world(worldName)
	if err != nil {
		return nil, err
	}
	o, ok := w.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoObject, id, worldName)
	}
	return o, nil
}

// Apply moves an agent according to the paddle and jump actions and returns
// the signals it has accumulated. Missing actions count as zero.
func (s *Scene) Apply(worldName, agentID string, actions protocol.Actions) (Outcome, error) {
	w, err := s.world(worldName)
	if err != nil {
		return Outcome{}, err
	}
	o, ok := w.objects[agentID]
	if !ok || o.kind != ObjectAgent {
		return Outcome{}, fmt.Errorf("%w: agent %s in %s", ErrNoObject, agentID, worldName)
	}

	paddle, err := actionValue(actions, protocol.ActionPaddle)
	if err != nil {
		return Outcome{}, err
	}
	jump, err := actionValue(actions, protocol.ActionJump)
	if err != nil {
		return Outcome{}, err
	}
	if paddle < protocol.PaddleNothing || paddle > protocol.PaddleBackward {
		return Outcome{}, fmt.Errorf("paddle value %d out of range", paddle)
	}

	collided := false
	if !o.done && paddle != protocol.PaddleNothing {
		collided = w.move(o, paddle, jump != 0)
	}
	return Outcome{Reward: o.reward, Done: o.done, Collided: collided}, nil
}

func actionValue(actions protocol.Actions, id int) (int64, error) {
	t, ok := actions[id]
	if !ok {
		return 0, nil
	}
	v, err := t.Scalar()
	if err != nil {
		return 0, fmt.Errorf("action %d: %w", id, err)
	}
	return v, nil
}

var paddleDelta = map[int64][2]int{
	protocol.PaddleLeft:     {-1, 0},
	protocol.PaddleRight:    {1, 0},
	protocol.PaddleForward:  {0, -1},
	protocol.PaddleBackward: {0, 1},
}

// move steps o one cell. It reports whether the step was blocked by a wall,
// a height difference or another agent.
func (w *world) move(o *object, paddle int64, jump bool) bool {
	d := paddleDelta[paddle]
	x, y := w.layout.Coords(o.cell)
	next, ok := w.layout.Index(x+d[0], y+d[1])
	if !ok {
		return true
	}
	from, to := w.layout.Cell(o.cell), w.layout.Cell(next)

	if to.Kind() == wavemap.KindEmpty {
		// Walking into a hole ends the episode without reward.
		o.cell = next
		if !o.dropped {
			o.dropped = true
			o.reward = 0
			o.done = true
		}
		return false
	}
	climb := 1
	if jump {
		climb = 2
	}
	if dh := to.Height() - from.Height(); dh > climb || dh < -climb {
		return true
	}
	for _, other := range w.objects {
		if other != o && other.kind == ObjectAgent && other.cell == next {
			return true
		}
	}

	o.cell = next
	for _, other := range w.objects {
		if other.kind == ObjectFood && other.cell == next {
			o.reward = 1
			o.done = true
			break
		}
	}
	return false
}
