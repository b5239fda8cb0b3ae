// Package stepcycle turns one Step request into a world state transition and
// the observations returned for it.
package stepcycle

import (
	"context"
	"fmt"

	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/sim/gridscene"
	"envgrid.ai/internal/sim/registry"
)

// Executor runs work on the scene's owner goroutine.
type Executor interface {
	RunOnOwner(ctx context.Context, fn func() error) error
	RunOnPostRender(ctx context.Context, fn func() error) error
}

// Simulator is the part of the scene a step touches. Both methods are only
// called from owner work units.
type Simulator interface {
	Apply(world, agent string, actions protocol.Actions) (gridscene.Outcome, error)
	Render(world, agent string) ([]byte, error)
}

// Agent is the stepping session's avatar.
type Agent interface {
	World() string
	ID() string
	// Respawn starts a new episode for the agent. It runs on the owner
	// goroutine and may change ID.
	Respawn() error
}

// Episode end reasons.
const (
	ReasonDone   = "done"
	ReasonBudget = "max_steps"
	ReasonEmpty  = "empty_actions"
)

type Request struct {
	Lease    *registry.Lease
	Agent    Agent
	Actions  protocol.Actions
	MaxSteps int
	Steps    int
}

type Episode struct {
	Agent  string
	Steps  int
	Reward float32
	Reason string
}

type Result struct {
	State        protocol.EnvironmentState
	Observations protocol.Observations
	// Steps is the session's step counter after this step.
	Steps int
	// Ended is set when this step closed an episode.
	Ended *Episode
}

type Controller struct {
	exec Executor
	sim  Simulator
	cw   int
	ch   int
}

func New(exec Executor, sim Simulator, cameraWidth, cameraHeight int) *Controller {
	return &Controller{exec: exec, sim: sim, cw: cameraWidth, ch: cameraHeight}
}

// Step runs one step with req.Lease held. Errors from the scene come back
// as errors and leave the world state as it was before the failing call.
func (c *Controller) Step(ctx context.Context, req Request) (Result, error) {
	if req.Lease == nil || req.Agent == nil {
		return Result{}, fmt.Errorf("step: missing lease or agent")
	}
	res := Result{Steps: req.Steps}
	var reward float32
	var done bool

	switch {
	case len(req.Actions) == 0:
		req.Lease.SetState(registry.Interrupted)
		done = true
		res.Ended = &Episode{Agent: req.Agent.ID(), Steps: req.Steps, Reason: ReasonEmpty}
		res.Steps = 0

	case req.Lease.State() == registry.Running:
		steps := req.Steps + 1
		if req.MaxSteps > 0 && steps > req.MaxSteps {
			req.Lease.SetState(registry.Interrupted)
			done = true
			res.Ended = &Episode{Agent: req.Agent.ID(), Steps: req.Steps, Reason: ReasonBudget}
			res.Steps = 0
			break
		}
		var out gridscene.Outcome
		err := c.exec.RunOnOwner(ctx, func() error {
			var err error
			out, err = c.sim.Apply(req.Agent.World(), req.Agent.ID(), req.Actions)
			return err
		})
		if err != nil {
			return Result{}, fmt.Errorf("apply actions: %w", err)
		}
		reward, done = out.Reward, out.Done
		res.Steps = steps
		if done {
			req.Lease.SetState(registry.Interrupted)
			res.Ended = &Episode{Agent: req.Agent.ID(), Steps: steps, Reward: reward, Reason: ReasonDone}
			res.Steps = 0
		}

	default:
		// A step outside Running starts the next episode; its actions are dropped.
		if err := c.exec.RunOnOwner(ctx, req.Agent.Respawn); err != nil {
			return Result{}, fmt.Errorf("restart episode: %w", err)
		}
		req.Lease.SetState(registry.Running)
		res.Steps = 0
	}

	var pix []byte
	err := c.exec.RunOnPostRender(ctx, func() error {
		var err error
		pix, err = c.sim.Render(req.Agent.World(), req.Agent.ID())
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("render camera: %w", err)
	}

	var flag int8
	if done {
		flag = 1
	}
	res.State = WireState(req.Lease.State())
	res.Observations = protocol.Observations{
		protocol.ObservationCamera:   protocol.Image(pix, c.cw, c.ch),
		protocol.ObservationReward:   protocol.FloatScalar(reward),
		protocol.ObservationCollided: protocol.Int8Scalar(flag),
	}
	return res, nil
}

// WireState maps a world state to its protocol name.
func WireState(s registry.State) protocol.EnvironmentState {
	switch s {
	case registry.Running:
		return protocol.StateRunning
	case registry.Interrupted:
		return protocol.StateInterrupted
	case registry.Terminated:
		return protocol.StateTerminated
	}
	return protocol.StateUninitialized
}
