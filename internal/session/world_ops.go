package session

import (
	"context"
	"errors"

	"envgrid.ai/internal/events"
	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/sim/registry"
	"envgrid.ai/internal/sim/settings"
	"envgrid.ai/internal/sim/wavemap"
)

// layout decodes the seed setting into a wave map for the configured grid.
func (h *Handler) layout(op protocol.Kind, s protocol.Settings) (*wavemap.Map, error) {
	raw, err := settings.Seed(s)
	if err != nil {
		return nil, invalidArgument(op, err)
	}
	m, err := wavemap.Decode(raw, h.cfg.GridWidth, h.cfg.GridHeight)
	if err != nil {
		return nil, invalidArgument(op, err)
	}
	return m, nil
}

func (h *Handler) createWorld(ctx context.Context, s *session, req *protocol.CreateWorldRequest) protocol.Response {
	const op = protocol.KindCreateWorld
	if st := settings.Validate(req.Settings, settings.World); st != nil {
		return protocol.ErrorResponse(st)
	}
	layout, err := h.layout(op, req.Settings)
	if err != nil {
		return h.failure(op, err)
	}
	name := ""
	if idx, ok, err := settings.WorldIndex(req.Settings); err != nil {
		return h.failure(op, invalidArgument(op, err))
	} else if ok {
		name = registry.FormatName(idx)
	}

	w, err := h.reg.Create(name, h.cells())
	if err != nil {
		return h.failure(op, err)
	}
	// Nobody else can have reached the new world yet, but joiners that find
	// it by name wait here until the scene exists.
	lease, err := h.acquire(ctx, w)
	if err != nil {
		_ = h.reg.Remove(w.Name())
		return h.failure(op, err)
	}
	defer lease.Release()

	err = h.exec.RunOnOwner(ctx, func() error {
		return h.scene.GenerateWorld(layout, w.Name())
	})
	if err != nil {
		_ = h.reg.Remove(w.Name())
		return h.failure(op, wrapOwner("generate world", err))
	}

	h.logger.Printf("world created: %s by %s", w.Name(), s.peer)
	h.publish(events.Event{Type: events.WorldCreated, World: w.Name(), Session: s.id, Width: h.cfg.GridWidth, Height: h.cfg.GridHeight})
	return protocol.Response{CreateWorld: &protocol.CreateWorldResponse{WorldName: w.Name()}}
}

// agentSettings reads placement spaces and step budget for a world of the
// given size.
func agentSettings(s protocol.Settings, cells int) (agentSpace, objectSpace []int, maxSteps int, err error) {
	if agentSpace, err = settings.Space(s, settings.KeyAgentPosSpace, cells); err != nil {
		return nil, nil, 0, err
	}
	if objectSpace, err = settings.Space(s, settings.KeyObjectPosSpace, cells); err != nil {
		return nil, nil, 0, err
	}
	if maxSteps, err = settings.MaxSteps(s); err != nil {
		return nil, nil, 0, err
	}
	return agentSpace, objectSpace, maxSteps, nil
}

func (h *Handler) joinWorld(ctx context.Context, s *session, req *protocol.JoinWorldRequest) protocol.Response {
	const op = protocol.KindJoinWorld
	w, err := h.reg.Lookup(req.WorldName)
	if err != nil {
		return h.failure(op, err)
	}
	if st := settings.Validate(req.Settings, settings.Agent); st != nil {
		return protocol.ErrorResponse(st)
	}
	agentSpace, objectSpace, maxSteps, err := agentSettings(req.Settings, w.Cells())
	if err != nil {
		return h.failure(op, invalidArgument(op, err))
	}

	lease, err := h.acquire(ctx, w)
	if err != nil {
		return h.failure(op, err)
	}
	defer lease.Release()

	// Placement runs against a provisional join so a failure leaves the
	// session untouched.
	trial := *s
	trial.world = w
	trial.agentSpace, trial.objectSpace, trial.maxSteps = agentSpace, objectSpace, maxSteps
	if err := h.exec.RunOnOwner(ctx, func() error { return h.place(&trial) }); err != nil {
		if errors.Is(err, registry.ErrNoFreeCell) {
			return protocol.ErrorResponse(protocol.Errorf(protocol.CodeAborted, "%s Failed: %v", opName(op), err))
		}
		return h.failure(op, wrapOwner("spawn agent", err))
	}

	s.agentSpace, s.objectSpace, s.maxSteps = agentSpace, objectSpace, maxSteps
	s.join(w)
	if lease.State() == registry.Uninitialized {
		lease.SetState(registry.Running)
	}

	h.logger.Printf("agent joined: %s -> %s", s.agentID(), w.Name())
	h.publish(events.Event{Type: events.AgentJoined, World: w.Name(), Agent: s.agentID(), Session: s.id})
	return protocol.Response{JoinWorld: &protocol.JoinWorldResponse{Specs: h.specs}}
}

// joinedWorld checks that name is well formed, live and the world s has
// joined.
func (h *Handler) joinedWorld(op protocol.Kind, s *session, name string) (*registry.World, error) {
	w, err := h.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !s.joined || s.world != w {
		return nil, protocol.Errorf(protocol.CodeAborted, "%s Failed: %s is not the world this agent joined", opName(op), name)
	}
	return w, nil
}

func (h *Handler) resetWorld(ctx context.Context, s *session, req *protocol.ResetWorldRequest) protocol.Response {
	const op = protocol.KindResetWorld
	if st := settings.Validate(req.Settings, settings.World); st != nil {
		return protocol.ErrorResponse(st)
	}
	if _, ok, _ := settings.WorldIndex(req.Settings); ok {
		return protocol.ErrorResponse(protocol.Errorf(protocol.CodeInvalidArgument,
			"%s Failed: %s only applies to CreateWorld", opName(op), settings.KeyWorldIndex))
	}
	layout, err := h.layout(op, req.Settings)
	if err != nil {
		return h.failure(op, err)
	}
	w, err := h.joinedWorld(op, s, req.WorldName)
	if err != nil {
		return h.failure(op, err)
	}

	lease, err := h.acquire(ctx, w)
	if err != nil {
		return h.failure(op, err)
	}
	defer lease.Release()

	lease.SetState(registry.Interrupted)
	s.steps = 0
	err = h.exec.RunOnOwner(ctx, func() error {
		agents, food := w.Clear()
		ids := append(agents, food...)
		if err := h.scene.Remove(w.Name(), ids...); err != nil {
			return err
		}
		return h.scene.GenerateWorld(layout, w.Name())
	})
	if err != nil {
		return h.failure(op, wrapOwner("regenerate world", err))
	}

	h.logger.Printf("world reset: %s by %s", w.Name(), s.peer)
	h.publish(events.Event{Type: events.WorldReset, World: w.Name(), Session: s.id})
	return protocol.Response{ResetWorld: &protocol.ResetWorldResponse{}}
}

func (h *Handler) destroyWorld(ctx context.Context, s *session, req *protocol.DestroyWorldRequest) protocol.Response {
	const op = protocol.KindDestroyWorld
	w, err := h.joinedWorld(op, s, req.WorldName)
	if err != nil {
		return h.failure(op, err)
	}

	lease, err := h.acquire(ctx, w)
	if err != nil {
		return h.failure(op, err)
	}
	defer lease.Release()

	lease.SetState(registry.Terminated)
	ownerErr := h.exec.RunOnOwner(ctx, func() error {
		agents, food := w.Clear()
		ids := append(agents, food...)
		if err := h.scene.Remove(w.Name(), ids...); err != nil {
			return err
		}
		return h.scene.TeardownWorld(w.Name())
	})
	// A terminated world is never reused, so it leaves the registry even when
	// the scene teardown failed.
	_ = h.reg.Remove(w.Name())
	agent := s.agentID()
	s.leave()

	h.publish(events.Event{Type: events.AgentLeft, World: w.Name(), Agent: agent, Session: s.id})
	h.publish(events.Event{Type: events.WorldDestroyed, World: w.Name(), Session: s.id})
	if ownerErr != nil {
		return h.failure(op, wrapOwner("teardown world", ownerErr))
	}
	h.logger.Printf("world destroyed: %s by %s", w.Name(), s.peer)
	return protocol.Response{DestroyWorld: &protocol.DestroyWorldResponse{}}
}
