package protocol

// Settings carry world- or agent-level configuration keyed by name.
type Settings map[string]Tensor

// Actions carry one tensor per action id (see ActionPaddle, ActionJump).
type Actions map[int]Tensor

// Observations carry one tensor per observation id.
type Observations map[int]Tensor

type CreateWorldRequest struct {
	Settings Settings `json:"settings,omitempty"`
}

type CreateWorldResponse struct {
	WorldName string `json:"world_name"`
}

type JoinWorldRequest struct {
	WorldName string   `json:"world_name"`
	Settings  Settings `json:"settings,omitempty"`
}

type JoinWorldResponse struct {
	Specs ActionObservationSpecs `json:"specs"`
}

type StepRequest struct {
	Actions Actions `json:"actions,omitempty"`
}

// EnvironmentState mirrors the world lifecycle as seen by a client.
type EnvironmentState string

const (
	StateUninitialized EnvironmentState = "UNINITIALIZED"
	StateRunning       EnvironmentState = "RUNNING"
	StateInterrupted   EnvironmentState = "INTERRUPTED"
	StateTerminated    EnvironmentState = "TERMINATED"
)

type StepResponse struct {
	State        EnvironmentState `json:"state"`
	Observations Observations     `json:"observations"`
}

type ResetRequest struct {
	Settings Settings `json:"settings,omitempty"`
}

type ResetResponse struct {
	Specs ActionObservationSpecs `json:"specs"`
}

type ResetWorldRequest struct {
	WorldName string   `json:"world_name"`
	Settings  Settings `json:"settings,omitempty"`
}

type ResetWorldResponse struct{}

type LeaveWorldRequest struct{}

type LeaveWorldResponse struct{}

type DestroyWorldRequest struct {
	WorldName string `json:"world_name"`
}

type DestroyWorldResponse struct{}
