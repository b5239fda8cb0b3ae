package registry

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type State int

const (
	Uninitialized State = iota
	Running
	Interrupted
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Running:
		return "RUNNING"
	case Interrupted:
		return "INTERRUPTED"
	case Terminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// World is the registry's handle for one live world. The handle stays valid
// after removal; it only stops being reachable by name.
type World struct {
	name  string
	index uint64
	cells int

	lock    chan struct{}
	removed atomic.Bool

	mu       sync.Mutex
	state    State
	agents   map[string]struct{}
	food     map[string]struct{}
	occupied map[int]string
	cellOf   map[string]int
}

type Summary struct {
	Name     string
	Index    uint64
	State    State
	Agents   int
	Food     int
	Occupied int
}

func newWorld(name string, index uint64, cells int) *World {
	return &World{
		name:     name,
		index:    index,
		cells:    cells,
		lock:     make(chan struct{}, 1),
		state:    Uninitialized,
		agents:   map[string]struct{}{},
		food:     map[string]struct{}{},
		occupied: map[int]string{},
		cellOf:   map[string]int{},
	}
}

func (w *World) Name() string  { return w.name }
func (w *World) Index() uint64 { return w.index }
func (w *World) Cells() int    { return w.cells }

func (w *World) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *World) Removed() bool { return w.removed.Load() }

func (w *World) markRemoved() {
	w.removed.Store(true)
	w.mu.Lock()
	w.state = Terminated
	w.mu.Unlock()
}

// Acquire takes the world lock. It gives up after timeout or when ctx is
// done, and never leaves the lock held on failure.
func (w *World) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	if w.removed.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, w.name)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case w.lock <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, w.name, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if w.removed.Load() {
		<-w.lock
		return nil, fmt.Errorf("%w: %s", ErrNotFound, w.name)
	}
	return &Lease{w: w}, nil
}

func (w *World) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Summary{
		Name:     w.name,
		Index:    w.index,
		State:    w.state,
		Agents:   len(w.agents),
		Food:     len(w.food),
		Occupied: len(w.occupied),
	}
}

func (w *World) AddAgent(id string) {
	w.mu.Lock()
	w.agents[id] = struct{}{}
	w.mu.Unlock()
}

func (w *World) AddFood(id string) {
	w.mu.Lock()
	w.food[id] = struct{}{}
	w.mu.Unlock()
}

// RemoveObject forgets an agent or food id and frees its cell.
func (w *World) RemoveObject(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.agents, id)
	delete(w.food, id)
	w.releaseLocked(id)
}

func (w *World) HasAgent(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.agents[id]
	return ok
}

func (w *World) Agents() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return sortedKeys(w.agents)
}

func (w *World) Food() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return sortedKeys(w.food)
}

// Clear forgets every agent and food id and frees every cell. It returns the
// ids that were present.
func (w *World) Clear() (agents, food []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	agents = sortedKeys(w.agents)
	food = sortedKeys(w.food)
	w.agents = map[string]struct{}{}
	w.food = map[string]struct{}{}
	w.occupied = map[int]string{}
	w.cellOf = map[string]int{}
	return agents, food
}

// Occupied returns a copy of the cell -> object id map.
func (w *World) Occupied() map[int]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[int]string, len(w.occupied))
	for c, id := range w.occupied {
		out[c] = id
	}
	return out
}

// ClaimFreeCell samples cells from space at random, skipping occupied ones,
// and assigns the first free cell to id. Any cell id previously held is
// released first. Cells outside the grid are ignored.
func (w *World) ClaimFreeCell(rng *rand.Rand, space []int, id string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.releaseLocked(id)

	candidates := make([]int, 0, len(space))
	seen := make(map[int]struct{}, len(space))
	for _, c := range space {
		if c < 0 || c >= w.cells {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		candidates = append(candidates, c)
	}
	for len(candidates) > 0 {
		i := rng.Intn(len(candidates))
		c := candidates[i]
		if _, taken := w.occupied[c]; !taken {
			w.occupied[c] = id
			w.cellOf[id] = c
			return c, nil
		}
		candidates[i] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
	}
	return -1, fmt.Errorf("%w in %s for %s", ErrNoFreeCell, w.name, id)
}

func (w *World) releaseLocked(id string) {
	if c, ok := w.cellOf[id]; ok {
		delete(w.cellOf, id)
		if w.occupied[c] == id {
			delete(w.occupied, c)
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lease is a held world lock. State transitions go through a Lease so they
// only happen while the lock is held.
type Lease struct {
	w        *World
	released atomic.Bool
}

func (l *Lease) World() *World { return l.w }

func (l *Lease) State() State { return l.w.State() }

// SetState transitions the world. It is a no-op after Release.
func (l *Lease) SetState(s State) {
	if l.released.Load() {
		return
	}
	l.w.mu.Lock()
	if l.w.state != Terminated || s == Terminated {
		l.w.state = s
	}
	l.w.mu.Unlock()
}

// Release frees the lock. Calling it more than once is safe.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		<-l.w.lock
	}
}
