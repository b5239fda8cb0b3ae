// Package owner runs work units on a single owner goroutine.
//
// The scene is only safe to touch from one goroutine. Callers hand it work
// through RunOnOwner and RunOnPostRender and block until the unit has run.
// Each tick the loop drains the main queue first and the post-render queue
// second, in submission order.
package owner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var ErrStopped = errors.New("owner loop stopped")

type Queue int

const (
	QueueMain Queue = iota
	QueuePostRender
)

func (q Queue) String() string {
	if q == QueuePostRender {
		return "post_render"
	}
	return "main"
}

type job struct {
	fn   func() error
	resp chan error
}

type Executor struct {
	logger   *log.Logger
	interval time.Duration

	main chan job
	post chan job

	depth [2]atomic.Int64
	ticks atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns an executor ticking at tickRateHz. Nothing runs until Run is
// called.
func New(tickRateHz int, logger *log.Logger) *Executor {
	if tickRateHz <= 0 {
		tickRateHz = 60
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[owner] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Executor{
		logger:   logger,
		interval: time.Second / time.Duration(tickRateHz),
		main:     make(chan job, 256),
		post:     make(chan job, 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run owns the calling goroutine until ctx is done or Stop is called.
func (e *Executor) Run(ctx context.Context) error {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var pendingMain, pendingPost []job
	defer func() {
		// Anything still queued is answered so no submitter waits forever.
		for _, j := range e.drainAll(pendingMain, pendingPost) {
			j.resp <- ErrStopped
		}
		e.depth[QueueMain].Store(0)
		e.depth[QueuePostRender].Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case j := <-e.main:
			pendingMain = append(pendingMain, j)
		case j := <-e.post:
			pendingPost = append(pendingPost, j)
		case <-ticker.C:
			e.ticks.Add(1)
			e.runAll(QueueMain, pendingMain)
			e.runAll(QueuePostRender, pendingPost)
			pendingMain = pendingMain[:0]
			pendingPost = pendingPost[:0]
		}
	}
}

func (e *Executor) drainAll(pendingMain, pendingPost []job) []job {
	out := append(pendingMain, pendingPost...)
	for {
		select {
		case j := <-e.main:
			out = append(out, j)
		case j := <-e.post:
			out = append(out, j)
		default:
			return out
		}
	}
}

func (e *Executor) runAll(q Queue, jobs []job) {
	for _, j := range jobs {
		err := e.runOne(q, j.fn)
		e.depth[q].Add(-1)
		// resp is buffered, so a submitter that gave up never blocks the loop.
		j.resp <- err
	}
}

func (e *Executor) runOne(q Queue, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("%s work unit panic: %v", q, r)
			err = fmt.Errorf("%s work unit panic: %v", q, r)
		}
	}()
	return fn()
}

// Stop ends Run. It is safe to call more than once.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Done is closed once Run has returned.
func (e *Executor) Done() <-chan struct{} { return e.done }

// RunOnOwner runs fn on the owner goroutine during the next main tick and
// returns its error. fn must not submit further work to the executor.
//
// If ctx ends after fn was queued, RunOnOwner returns ctx.Err() while fn may
// still run later. Callers that guard fn's effects with a lock must pass a
// context that is not canceled while they hold it.
func (e *Executor) RunOnOwner(ctx context.Context, fn func() error) error {
	return e.submit(ctx, QueueMain, fn)
}

// RunOnPostRender is RunOnOwner for the post-render queue, which runs after
// the main queue within the same tick.
func (e *Executor) RunOnPostRender(ctx context.Context, fn func() error) error {
	return e.submit(ctx, QueuePostRender, fn)
}

func (e *Executor) submit(ctx context.Context, q Queue, fn func() error) error {
	if fn == nil {
		return errors.New("nil work unit")
	}
	ch := e.main
	if q == QueuePostRender {
		ch = e.post
	}
	j := job{fn: fn, resp: make(chan error, 1)}

	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	e.depth[q].Add(1)
	select {
	case ch <- j:
	case <-e.done:
		e.depth[q].Add(-1)
		return ErrStopped
	case <-ctx.Done():
		e.depth[q].Add(-1)
		return ctx.Err()
	}

	select {
	case err := <-j.resp:
		return err
	case <-e.done:
		// Run answers every queued job before done closes; a job that slipped
		// in afterwards was never seen.
		select {
		case err := <-j.resp:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth reports how many submitted units have not finished running.
func (e *Executor) Depth(q Queue) int64 { return e.depth[q].Load() }

// Ticks reports how many ticks the loop has completed.
func (e *Executor) Ticks() uint64 { return e.ticks.Load() }
