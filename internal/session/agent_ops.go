package session

import (
	"context"
	"errors"
	"time"

	"envgrid.ai/internal/events"
	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/sim/registry"
	"envgrid.ai/internal/sim/settings"
	"envgrid.ai/internal/sim/stepcycle"
)

// lockJoined takes the lock of the session's world. A world destroyed by
// another session ends the join.
func (h *Handler) lockJoined(ctx context.Context, s *session) (*registry.Lease, error) {
	lease, err := h.acquire(ctx, s.world)
	if errors.Is(err, registry.ErrNotFound) {
		h.logger.Printf("agent %s lost world %s", s.agentID(), s.worldName())
		s.leave()
	}
	return lease, err
}

func (h *Handler) step(ctx context.Context, s *session, req *protocol.StepRequest) protocol.Response {
	const op = protocol.KindStep
	lease, err := h.lockJoined(ctx, s)
	if err != nil {
		return h.failure(op, err)
	}
	defer lease.Release()

	agent := avatar{h: h, s: s}
	if lease.State() == registry.Running && !s.world.HasAgent(s.agentID()) {
		// The world was regenerated under us; come back at a fresh cell.
		if err := h.exec.RunOnOwner(ctx, agent.Respawn); err != nil {
			return h.failure(op, wrapOwner("respawn agent", err))
		}
	}

	var actions protocol.Actions
	if req != nil {
		actions = req.Actions
	}
	res, err := h.steps.Step(ctx, stepcycle.Request{
		Lease:    lease,
		Agent:    agent,
		Actions:  actions,
		MaxSteps: s.maxSteps,
		Steps:    s.steps,
	})
	if err != nil {
		return h.failure(op, err)
	}
	s.steps = res.Steps
	if ep := res.Ended; ep != nil {
		h.publish(events.Event{
			Type:    events.EpisodeEnded,
			World:   s.worldName(),
			Agent:   ep.Agent,
			Session: s.id,
			Steps:   ep.Steps,
			Reward:  ep.Reward,
			Reason:  ep.Reason,
		})
	}
	return protocol.Response{Step: &protocol.StepResponse{State: res.State, Observations: res.Observations}}
}

func (h *Handler) reset(ctx context.Context, s *session, req *protocol.ResetRequest) protocol.Response {
	const op = protocol.KindReset
	var overrides protocol.Settings
	if req != nil {
		overrides = req.Settings
	}
	if st := settings.Validate(overrides, settings.Agent); st != nil {
		return protocol.ErrorResponse(st)
	}
	// Overrides that fail to parse keep the values from JoinWorld. Nothing
	// is applied unless the lock is taken.
	agentSpace, objectSpace, maxSteps := s.agentSpace, s.objectSpace, s.maxSteps
	if _, ok := overrides[settings.KeyAgentPosSpace]; ok {
		if v, err := settings.Space(overrides, settings.KeyAgentPosSpace, s.world.Cells()); err == nil {
			agentSpace = v
		}
	}
	if _, ok := overrides[settings.KeyObjectPosSpace]; ok {
		if v, err := settings.Space(overrides, settings.KeyObjectPosSpace, s.world.Cells()); err == nil {
			objectSpace = v
		}
	}
	if _, ok := overrides[settings.KeyMaxSteps]; ok {
		if v, err := settings.MaxSteps(overrides); err == nil {
			maxSteps = v
		}
	}

	lease, err := h.lockJoined(ctx, s)
	if err != nil {
		return h.failure(op, err)
	}
	defer lease.Release()
	s.agentSpace, s.objectSpace, s.maxSteps = agentSpace, objectSpace, maxSteps

	if lease.State() == registry.Running {
		h.publish(events.Event{Type: events.EpisodeEnded, World: s.worldName(), Agent: s.agentID(), Session: s.id, Steps: s.steps, Reason: "reset"})
	}
	lease.SetState(registry.Interrupted)
	s.steps = 0
	return protocol.Response{Reset: &protocol.ResetResponse{Specs: h.specs}}
}

// leaveWorld always acknowledges once the lock is held; a scene failure
// while removing the agent is logged and the session leaves regardless.
func (h *Handler) leaveWorld(ctx context.Context, s *session) protocol.Response {
	const op = protocol.KindLeaveWorld
	lease, err := h.lockJoined(ctx, s)
	if errors.Is(err, registry.ErrNotFound) {
		return protocol.Response{LeaveWorld: &protocol.LeaveWorldResponse{}}
	}
	if err != nil {
		return h.failure(op, err)
	}
	defer lease.Release()

	h.depart(ctx, s)
	return protocol.Response{LeaveWorld: &protocol.LeaveWorldResponse{}}
}

// depart removes the session's objects from its world and clears the join.
// The caller holds the world lock.
func (h *Handler) depart(ctx context.Context, s *session) {
	world, agent := s.worldName(), s.agentID()
	err := h.exec.RunOnOwner(ctx, func() error { return h.removeObjects(s) })
	if err != nil {
		h.logger.Printf("leave %s: remove %s: %v", world, agent, err)
	}
	s.leave()
	h.logger.Printf("agent left: %s <- %s", agent, world)
	h.publish(events.Event{Type: events.AgentLeft, World: world, Agent: agent, Session: s.id})
}

// disconnect performs LeaveWorld for a session whose stream ended while
// joined. Nothing is written back.
func (h *Handler) disconnect(s *session) {
	if !s.joined {
		return
	}
	// The connection context is usually gone by now.
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.LockTimeout+5*time.Second)
	defer cancel()
	lease, err := h.lockJoined(ctx, s)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			h.logger.Printf("disconnect %s: %v", s.peer, err)
		}
		return
	}
	defer lease.Release()
	h.depart(ctx, s)
}
