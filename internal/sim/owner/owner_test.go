package owner

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

func startExecutor(t *testing.T) *Executor {
	t.Helper()
	e := New(500, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func TestRunOnOwnerWaitsForCompletion(t *testing.T) {
	e := startExecutor(t)
	ran := false
	if err := e.RunOnOwner(context.Background(), func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatalf("work unit not visible after return")
	}
	want := errors.New("boom")
	if err := e.RunOnPostRender(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected work unit error, got %v", err)
	}
}

func TestWorkRunsInSubmissionOrder(t *testing.T) {
	e := New(500, log.New(io.Discard, "", 0))

	var mu sync.Mutex
	var order []int
	active := 0
	overlap := false

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			errs <- e.RunOnOwner(context.Background(), func() error {
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				order = append(order, i)
				active--
				mu.Unlock()
				return nil
			})
		}()
		// Wait for the unit to land in the queue before submitting the next.
		for len(e.main) < i+1 {
			time.Sleep(50 * time.Microsecond)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if overlap {
		t.Fatalf("work units overlapped")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order=%v", order)
		}
	}
	if e.Depth(QueueMain) != 0 {
		t.Fatalf("depth=%d after drain", e.Depth(QueueMain))
	}
}

func TestMainQueueRunsBeforePostRender(t *testing.T) {
	e := New(20, log.New(io.Discard, "", 0))
	var mu sync.Mutex
	var seen []string
	record := func(s string) func() error {
		return func() error {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
			return nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = e.RunOnPostRender(context.Background(), record("post")) }()
	go func() { defer wg.Done(); _ = e.RunOnOwner(context.Background(), record("main")) }()
	// Both units are buffered before the loop starts, so they share a tick.
	for len(e.main)+len(e.post) < 2 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()
	wg.Wait()

	if len(seen) != 2 || seen[0] != "main" || seen[1] != "post" {
		t.Fatalf("order=%v", seen)
	}
}

func TestPanicBecomesError(t *testing.T) {
	e := startExecutor(t)
	err := e.RunOnOwner(context.Background(), func() error { panic("scene exploded") })
	if err == nil || !strings.Contains(err.Error(), "scene exploded") {
		t.Fatalf("expected panic error, got %v", err)
	}
	// The loop survives.
	if err := e.RunOnOwner(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("run after panic: %v", err)
	}
}

func TestCanceledSubmitterDoesNotBlockLoop(t *testing.T) {
	e := startExecutor(t)

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.RunOnOwner(ctx, func() error {
			<-release
			return nil
		})
	}()
	for e.Depth(QueueMain) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(release)
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.RunOnOwner(context.Background(), func() error { return nil }) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop blocked by canceled submitter")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	e := New(100, log.New(io.Discard, "", 0))
	go func() { _ = e.Run(context.Background()) }()
	e.Stop()
	e.Stop()
	<-e.Done()
	if err := e.RunOnOwner(context.Background(), func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
