package session

import (
	"fmt"
	"math/rand"

	"envgrid.ai/internal/sim/gridscene"
	"envgrid.ai/internal/sim/registry"
)

// session is the state of one connection. Only the connection's own
// goroutine and owner work units it is waiting on touch it.
type session struct {
	id   string
	peer string
	rng  *rand.Rand

	joined bool
	world  *registry.World
	// gen increments every time the agent is respawned.
	gen int

	agentSpace  []int
	objectSpace []int
	maxSteps    int
	steps       int
}

func (s *session) worldName() string {
	if s.world == nil {
		return ""
	}
	return s.world.Name()
}

func (s *session) agentID() string { return fmt.Sprintf("%s_%d", s.peer, s.gen) }

func (s *session) foodID() string { return s.agentID() + "_food" }

func (s *session) join(w *registry.World) {
	s.joined = true
	s.world = w
	s.steps = 0
}

func (s *session) leave() {
	s.joined = false
	s.world = nil
	s.steps = 0
	s.gen++
}

// avatar adapts a session to stepcycle.Agent.
type avatar struct {
	h *Handler
	s *session
}

func (a avatar) World() string { return a.s.worldName() }
func (a avatar) ID() string    { return a.s.agentID() }

// Respawn removes the agent and its food and places fresh ones under the
// next agent id. Runs on the owner goroutine.
func (a avatar) Respawn() error {
	_ = a.h.removeObjects(a.s)
	a.s.gen++
	return a.h.place(a.s)
}

// place spawns the session's agent and its food on free cells of their
// placement spaces. On failure nothing stays spawned. Runs on the owner
// goroutine.
func (h *Handler) place(s *session) error {
	w := s.world
	agent, food := s.agentID(), s.foodID()

	cell, err := w.ClaimFreeCell(s.rng, s.agentSpace, agent)
	if err != nil {
		return err
	}
	if err := h.scene.Spawn(w.Name(), agent, gridscene.ObjectAgent, cell); err != nil {
		w.RemoveObject(agent)
		return err
	}
	w.AddAgent(agent)

	cell, err = w.ClaimFreeCell(s.rng, s.objectSpace, food)
	if err == nil {
		err = h.scene.Spawn(w.Name(), food, gridscene.ObjectFood, cell)
	}
	if err != nil {
		w.RemoveObject(food)
		h.removeObjects(s)
		return err
	}
	w.AddFood(food)
	return nil
}

// removeObjects drops the session's agent and food from the scene and the
// world's bookkeeping. Runs on the owner goroutine.
func (h *Handler) removeObjects(s *session) error {
	w := s.world
	agent, food := s.agentID(), s.foodID()
	w.RemoveObject(agent)
	w.RemoveObject(food)
	return h.scene.Remove(w.Name(), agent, food)
}
