// Package registry owns the set of live worlds.
//
// Each World carries a lifecycle State, a one-slot lock acquired with a
// timeout, and the bookkeeping sets of agents, food and occupied grid cells.
// The registry never performs I/O and never calls into the scene.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrAlreadyExists = errors.New("world already exists")
	ErrNotFound      = errors.New("world not found")
	ErrInvalidName   = errors.New("invalid world name")
	ErrLockTimeout   = errors.New("world lock timeout")
	ErrNoFreeCell    = errors.New("no free position")
	ErrClosed        = errors.New("registry closed")
)

const NamePrefix = "world_"

func FormatName(index uint64) string {
	return NamePrefix + strconv.FormatUint(index, 10)
}

// ParseName returns the index embedded in a world name.
func ParseName(name string) (uint64, error) {
	rest, ok := strings.CutPrefix(name, NamePrefix)
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	idx, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if FormatName(idx) != name {
		// Reject leading zeros so every index has exactly one name.
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return idx, nil
}

type Registry struct {
	mu     sync.RWMutex
	worlds map[string]*World
	next   uint64
	closed bool
}

func New() *Registry {
	return &Registry{worlds: map[string]*World{}}
}

// Create registers a world in state Uninitialized. An empty name allocates
// the lowest unused index at or above the internal counter.
func (r *Registry) Create(name string, cells int) (*World, error) {
	if cells <= 0 {
		return nil, fmt.Errorf("create world: cells must be positive, got %d", cells)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	var idx uint64
	if name == "" {
		for {
			idx = r.next
			r.next++
			name = FormatName(idx)
			if _, ok := r.worlds[name]; !ok {
				break
			}
		}
	} else {
		var err error
		idx, err = ParseName(name)
		if err != nil {
			return nil, err
		}
		if _, ok := r.worlds[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		if idx >= r.next {
			r.next = idx + 1
		}
	}

	w := newWorld(name, idx, cells)
	r.worlds[name] = w
	return w, nil
}

func (r *Registry) Lookup(name string) (*World, error) {
	if _, err := ParseName(name); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.worlds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return w, nil
}

// Remove drops a world from the registry and marks it Terminated. Waiters on
// its lock observe ErrNotFound once they get through.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	w, ok := r.worlds[name]
	if ok {
		delete(r.worlds, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	w.markRemoved()
	return nil
}

// Acquire resolves name and takes its lock, waiting at most timeout.
func (r *Registry) Acquire(ctx context.Context, name string, timeout time.Duration) (*Lease, error) {
	w, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return w.Acquire(ctx, timeout)
}

// Worlds returns a point-in-time view of every live world, sorted by index.
func (r *Registry) Worlds() []Summary {
	r.mu.RLock()
	ws := make([]*World, 0, len(r.worlds))
	for _, w := range r.worlds {
		ws = append(ws, w)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.worlds)
}

// Close terminates every world and rejects further creates.
func (r *Registry) Close() {
	r.mu.Lock()
	ws := r.worlds
	r.worlds = map[string]*World{}
	r.closed = true
	r.mu.Unlock()
	for _, w := range ws {
		w.markRemoved()
	}
}
