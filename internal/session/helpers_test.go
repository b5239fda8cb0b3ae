package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"envgrid.ai/internal/events"
	"envgrid.ai/internal/persistence/journal"
	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/sim/gridscene"
	"envgrid.ai/internal/sim/owner"
	"envgrid.ai/internal/sim/registry"
)

// pipeStream is an in-memory Stream.
type pipeStream struct {
	in  chan recvItem
	out chan protocol.Response
}

type recvItem struct {
	req protocol.Request
	err error
}

func newPipe() *pipeStream {
	return &pipeStream{in: make(chan recvItem, 16), out: make(chan protocol.Response, 16)}
}

func (p *pipeStream) Recv() (protocol.Request, error) {
	it, ok := <-p.in
	if !ok {
		return protocol.Request{}, io.EOF
	}
	return it.req, it.err
}

func (p *pipeStream) Send(r protocol.Response) error {
	p.out <- r
	return nil
}

type recordingLog struct {
	mu   sync.Mutex
	recs []journal.Record
}

func (l *recordingLog) Write(r journal.Record) error {
	l.mu.Lock()
	l.recs = append(l.recs, r)
	l.mu.Unlock()
	return nil
}

func (l *recordingLog) records() []journal.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]journal.Record(nil), l.recs...)
}

type recordingEvents struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recordingEvents) Publish(e events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
}

func (r *recordingEvents) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.evs))
	for i, e := range r.evs {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	h       *Handler
	reg     *registry.Registry
	scene   *gridscene.Scene
	journal *recordingLog
	events  *recordingEvents
}

type fixtureOpt func(*Config, *Deps)

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	exec := owner.New(1000, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = exec.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-exec.Done()
	})

	f := &fixture{
		reg:     registry.New(),
		scene:   gridscene.New(gridscene.Config{CameraWidth: 16, CameraHeight: 16}),
		journal: &recordingLog{},
		events:  &recordingEvents{},
	}
	cfg := Config{LockTimeout: 300 * time.Millisecond, CameraWidth: 16, CameraHeight: 16, Seed: 7}
	deps := Deps{
		Registry: f.reg,
		Executor: exec,
		Scene:    f.scene,
		Logger:   log.New(io.Discard, "", 0),
		Journal:  f.journal,
		Events:   f.events,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	f.h = NewHandler(cfg, deps)
	return f
}

type client struct {
	t    *testing.T
	pipe *pipeStream

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func (f *fixture) connect(t *testing.T, peer string) *client {
	t.Helper()
	c := &client{t: t, pipe: newPipe(), done: make(chan struct{})}
	go func() {
		c.err = f.h.Serve(context.Background(), c.pipe, peer)
		close(c.done)
	}()
	t.Cleanup(c.close)
	return c
}

func (c *client) call(req protocol.Request) protocol.Response {
	c.t.Helper()
	c.pipe.in <- recvItem{req: req}
	return c.await()
}

func (c *client) await() protocol.Response {
	c.t.Helper()
	select {
	case resp := <-c.pipe.out:
		return resp
	case <-time.After(5 * time.Second):
		c.t.Fatalf("no response")
	}
	return protocol.Response{}
}

// close ends the stream and waits for Serve to return.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.pipe.in) })
	<-c.done
}

func (c *client) create(settings protocol.Settings) string {
	c.t.Helper()
	resp := c.call(protocol.Request{CreateWorld: &protocol.CreateWorldRequest{Settings: settings}})
	if resp.CreateWorld == nil {
		c.t.Fatalf("create: %+v", resp.Error)
	}
	return resp.CreateWorld.WorldName
}

func (c *client) join(world string, settings protocol.Settings) {
	c.t.Helper()
	resp := c.call(protocol.Request{JoinWorld: &protocol.JoinWorldRequest{WorldName: world, Settings: settings}})
	if resp.JoinWorld == nil {
		c.t.Fatalf("join %s: %+v", world, resp.Error)
	}
}

func (c *client) step(actions protocol.Actions) protocol.Response {
	c.t.Helper()
	return c.call(protocol.Request{Step: &protocol.StepRequest{Actions: actions}})
}

func stay() protocol.Actions {
	return protocol.Actions{protocol.ActionPaddle: protocol.Int8Scalar(protocol.PaddleNothing)}
}

func expectCode(t *testing.T, resp protocol.Response, code protocol.Status) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %v, got %+v", code.Code, resp)
	}
	if resp.Error.Code != code.Code {
		t.Fatalf("code=%v want %v (%s)", resp.Error.Code, code.Code, resp.Error.Message)
	}
	if code.Message != "" && resp.Error.Message != code.Message {
		t.Fatalf("message=%q want %q", resp.Error.Message, code.Message)
	}
}

func observations(t *testing.T, resp protocol.Response) (state protocol.EnvironmentState, reward float32, done int8) {
	t.Helper()
	if resp.Step == nil {
		t.Fatalf("step failed: %+v", resp.Error)
	}
	obs := resp.Step.Observations
	if cam := obs[protocol.ObservationCamera]; len(cam.Uint8s) != 4*16*16 {
		t.Fatalf("camera size %d", len(cam.Uint8s))
	}
	return resp.Step.State, obs[protocol.ObservationReward].Floats[0], obs[protocol.ObservationCollided].Int8s[0]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func lookup(t *testing.T, reg *registry.Registry, name string) *registry.World {
	t.Helper()
	w, err := reg.Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return w
}

func peerName(i int) string { return fmt.Sprintf("127.0.0.1:%d", 40000+i) }
