// Package session runs the per-connection protocol state machine.
//
// One Handler serves every connection. Serve processes a connection's
// requests strictly in order and writes exactly one response per request.
// Operations on one world are serialized through that world's lock;
// operations on different worlds run in parallel.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"envgrid.ai/internal/events"
	"envgrid.ai/internal/persistence/journal"
	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/sim/gridscene"
	"envgrid.ai/internal/sim/registry"
	"envgrid.ai/internal/sim/stepcycle"
	"envgrid.ai/internal/sim/wavemap"
)

// Stream is one duplex connection. Recv returns an error wrapping
// protocol.ErrMalformed for a frame that could not be decoded; the stream
// stays open after it. Any other Recv error ends the session.
type Stream interface {
	Recv() (protocol.Request, error)
	Send(protocol.Response) error
}

// Scene is the simulation the handler drives. Every call happens inside an
// owner work unit.
type Scene interface {
	stepcycle.Simulator
	GenerateWorld(layout *wavemap.Map, name string) error
	TeardownWorld(name string) error
	Spawn(world, id string, kind gridscene.ObjectKind, cell int) error
	Remove(world string, ids ...string) error
}

// RequestLog receives one record per handled request.
type RequestLog interface {
	Write(journal.Record) error
}

type Config struct {
	LockTimeout  time.Duration
	GridWidth    int
	GridHeight   int
	CameraWidth  int
	CameraHeight int
	// Seed feeds placement sampling. Zero seeds from the clock.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 3300 * time.Millisecond
	}
	if c.GridWidth <= 0 {
		c.GridWidth = 9
	}
	if c.GridHeight <= 0 {
		c.GridHeight = 9
	}
	if c.CameraWidth <= 0 {
		c.CameraWidth = 84
	}
	if c.CameraHeight <= 0 {
		c.CameraHeight = 84
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

type Deps struct {
	Registry *registry.Registry
	Executor stepcycle.Executor
	Scene    Scene
	Logger   *log.Logger
	Journal  RequestLog
	Events   events.Publisher
	Stats    *Stats
}

type Handler struct {
	cfg    Config
	logger *log.Logger

	reg     *registry.Registry
	exec    stepcycle.Executor
	scene   Scene
	steps   *stepcycle.Controller
	journal RequestLog
	events  events.Publisher
	stats   *Stats
	specs   protocol.ActionObservationSpecs

	nextSession atomic.Int64
}

func NewHandler(cfg Config, d Deps) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{
		cfg:     cfg,
		logger:  d.Logger,
		reg:     d.Registry,
		exec:    d.Executor,
		scene:   d.Scene,
		journal: d.Journal,
		events:  d.Events,
		stats:   d.Stats,
		specs:   protocol.DefaultSpecs(cfg.CameraWidth, cfg.CameraHeight),
	}
	if h.logger == nil {
		h.logger = log.New(io.Discard, "", 0)
	}
	if h.events == nil {
		h.events = events.Noop{}
	}
	if h.stats == nil {
		h.stats = NewStats()
	}
	h.exec = uncancelable{d.Executor}
	h.steps = stepcycle.New(h.exec, d.Scene, cfg.CameraWidth, cfg.CameraHeight)
	return h
}

// uncancelable waits for every submitted unit to finish even when the
// connection goes away. Units run while a world lock is held and must not
// outlive it.
type uncancelable struct {
	stepcycle.Executor
}

func (u uncancelable) RunOnOwner(ctx context.Context, fn func() error) error {
	return u.Executor.RunOnOwner(context.WithoutCancel(ctx), fn)
}

func (u uncancelable) RunOnPostRender(ctx context.Context, fn func() error) error {
	return u.Executor.RunOnPostRender(context.WithoutCancel(ctx), fn)
}

func (h *Handler) Stats() *Stats { return h.stats }

func (h *Handler) Config() Config { return h.cfg }

func (h *Handler) cells() int { return h.cfg.GridWidth * h.cfg.GridHeight }

// Serve runs the session for one connection until the stream ends or ctx is
// done. A session still joined at that point leaves its world without a
// response.
func (h *Handler) Serve(ctx context.Context, stream Stream, peer string) error {
	s := &session{
		id:   uuid.NewString(),
		peer: peer,
		rng:  rand.New(rand.NewSource(h.cfg.Seed + h.nextSession.Add(1))),
	}
	h.stats.sessionOpened()
	defer h.stats.sessionClosed()
	defer h.disconnect(s)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		req, err := stream.Recv()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				start := time.Now()
				resp := protocol.ErrorResponse(protocol.Errorf(protocol.CodeInvalidArgument, "%v", err))
				h.finish(s, protocol.KindUnknown, "", resp, start)
				if err := stream.Send(resp); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		start := time.Now()
		kind := req.Kind()
		resp := h.handle(ctx, s, req)
		h.finish(s, kind, requestWorld(req, resp, s), resp, start)
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
}

// handle produces the single response for req. A panic anywhere below is
// answered with Aborted.
func (h *Handler) handle(ctx context.Context, s *session, req protocol.Request) (resp protocol.Response) {
	kind := req.Kind()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("%s: panic: %v", kind, r)
			resp = protocol.ErrorResponse(protocol.Errorf(protocol.CodeAborted, "%s Failed: %v", opName(kind), r))
		}
	}()

	if st := precheck(kind, s); st != nil {
		return protocol.ErrorResponse(st)
	}

	switch kind {
	case protocol.KindCreateWorld:
		return h.createWorld(ctx, s, req.CreateWorld)
	case protocol.KindJoinWorld:
		return h.joinWorld(ctx, s, req.JoinWorld)
	case protocol.KindStep:
		return h.step(ctx, s, req.Step)
	case protocol.KindReset:
		return h.reset(ctx, s, req.Reset)
	case protocol.KindResetWorld:
		return h.resetWorld(ctx, s, req.ResetWorld)
	case protocol.KindLeaveWorld:
		return h.leaveWorld(ctx, s)
	case protocol.KindDestroyWorld:
		return h.destroyWorld(ctx, s, req.DestroyWorld)
	}
	return protocol.ErrorResponse(protocol.Errorf(protocol.CodeUnknown, "Unknown request kind"))
}

// Precondition messages.
const (
	msgAlreadyJoined = "This agent has joined a world"
	msgNotJoined     = "This agent does not join a world"
)

func precheck(kind protocol.Kind, s *session) *protocol.Status {
	switch kind {
	case protocol.KindCreateWorld, protocol.KindJoinWorld:
		if s.joined {
			return protocol.Errorf(protocol.CodeAlreadyExists, msgAlreadyJoined)
		}
	case protocol.KindStep, protocol.KindReset, protocol.KindLeaveWorld:
		if !s.joined {
			return protocol.Errorf(protocol.CodeNotFound, msgNotJoined)
		}
	}
	return nil
}

func (h *Handler) finish(s *session, kind protocol.Kind, world string, resp protocol.Response, start time.Time) {
	code := codeOK
	var msg string
	if resp.Error != nil {
		code = int(resp.Error.Code)
		msg = resp.Error.Message
	}
	h.stats.countRequest(kind, code)
	if h.journal == nil {
		return
	}
	err := h.journal.Write(journal.Record{
		SessionID:  s.id,
		Peer:       s.peer,
		Kind:       string(kind),
		World:      world,
		Code:       code,
		Message:    msg,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
	})
	if err != nil {
		h.logger.Printf("journal: %v", err)
	}
}

func requestWorld(req protocol.Request, resp protocol.Response, s *session) string {
	switch {
	case resp.CreateWorld != nil:
		return resp.CreateWorld.WorldName
	case req.JoinWorld != nil:
		return req.JoinWorld.WorldName
	case req.ResetWorld != nil:
		return req.ResetWorld.WorldName
	case req.DestroyWorld != nil:
		return req.DestroyWorld.WorldName
	}
	return s.worldName()
}

func (h *Handler) publish(e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	h.events.Publish(e)
}

func opName(k protocol.Kind) string {
	switch k {
	case protocol.KindCreateWorld:
		return "CreateWorld"
	case protocol.KindJoinWorld:
		return "JoinWorld"
	case protocol.KindStep:
		return "Step"
	case protocol.KindReset:
		return "Reset"
	case protocol.KindResetWorld:
		return "ResetWorld"
	case protocol.KindLeaveWorld:
		return "LeaveWorld"
	case protocol.KindDestroyWorld:
		return "DestroyWorld"
	}
	return "Request"
}

// failure maps an error from any layer to the status sent for op.
func (h *Handler) failure(op protocol.Kind, err error) protocol.Response {
	name := opName(op)
	var st *protocol.Status
	switch {
	case errors.As(err, &st):
		return protocol.ErrorResponse(st)
	case errors.Is(err, registry.ErrLockTimeout):
		st = protocol.Errorf(protocol.CodeAborted, "%s Failed: Aborted due to world lock timeout (%s)", name, h.cfg.LockTimeout)
	case errors.Is(err, registry.ErrAlreadyExists):
		st = protocol.Errorf(protocol.CodeAlreadyExists, "%s Failed: %v", name, err)
	case errors.Is(err, registry.ErrNotFound):
		st = protocol.Errorf(protocol.CodeNotFound, "%s Failed: %v", name, err)
	case errors.Is(err, registry.ErrInvalidName), errors.Is(err, wavemap.ErrMalformed):
		st = protocol.Errorf(protocol.CodeInvalidArgument, "%s Failed: %v", name, err)
	default:
		st = protocol.Errorf(protocol.CodeAborted, "%s Failed: %v", name, err)
	}
	h.logger.Printf("%s: %v", op, err)
	return protocol.ErrorResponse(st)
}

func invalidArgument(op protocol.Kind, err error) error {
	return protocol.Errorf(protocol.CodeInvalidArgument, "%s Failed: %v", opName(op), err)
}

// acquire takes w's lock with the configured timeout.
func (h *Handler) acquire(ctx context.Context, w *registry.World) (*registry.Lease, error) {
	return w.Acquire(ctx, h.cfg.LockTimeout)
}

func wrapOwner(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
