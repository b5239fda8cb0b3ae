// Package protocol defines the envelopes exchanged on an environment stream.
//
// A client sends a sequence of Requests, each carrying exactly one payload,
// and receives exactly one Response per Request. The JSON mapping follows the
// dm_env_rpc field names so the same envelopes travel over websocket text
// frames and over the gRPC JSON codec.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "1.0"

// ErrMalformed marks an inbound frame that could not be decoded into a
// Request. The stream stays usable after it.
var ErrMalformed = errors.New("malformed request")

// Kind names the payload carried by a Request or Response.
type Kind string

const (
	KindUnknown      Kind = "unknown"
	KindCreateWorld  Kind = "create_world"
	KindJoinWorld    Kind = "join_world"
	KindStep         Kind = "step"
	KindReset        Kind = "reset"
	KindResetWorld   Kind = "reset_world"
	KindLeaveWorld   Kind = "leave_world"
	KindDestroyWorld Kind = "destroy_world"
	KindError        Kind = "error"
)

// Kinds lists every request kind in a stable order.
var Kinds = []Kind{
	KindCreateWorld,
	KindJoinWorld,
	KindStep,
	KindReset,
	KindResetWorld,
	KindLeaveWorld,
	KindDestroyWorld,
}

type Request struct {
	CreateWorld  *CreateWorldRequest  `json:"create_world,omitempty"`
	JoinWorld    *JoinWorldRequest    `json:"join_world,omitempty"`
	Step         *StepRequest         `json:"step,omitempty"`
	Reset        *ResetRequest        `json:"reset,omitempty"`
	ResetWorld   *ResetWorldRequest   `json:"reset_world,omitempty"`
	LeaveWorld   *LeaveWorldRequest   `json:"leave_world,omitempty"`
	DestroyWorld *DestroyWorldRequest `json:"destroy_world,omitempty"`
}

// Kind reports the payload kind. A request with zero or several payloads set
// is KindUnknown.
func (r Request) Kind() Kind {
	kind := KindUnknown
	n := 0
	if r.CreateWorld != nil {
		kind, n = KindCreateWorld, n+1
	}
	if r.JoinWorld != nil {
		kind, n = KindJoinWorld, n+1
	}
	if r.Step != nil {
		kind, n = KindStep, n+1
	}
	if r.Reset != nil {
		kind, n = KindReset, n+1
	}
	if r.ResetWorld != nil {
		kind, n = KindResetWorld, n+1
	}
	if r.LeaveWorld != nil {
		kind, n = KindLeaveWorld, n+1
	}
	if r.DestroyWorld != nil {
		kind, n = KindDestroyWorld, n+1
	}
	if n != 1 {
		return KindUnknown
	}
	return kind
}

type Response struct {
	CreateWorld  *CreateWorldResponse  `json:"create_world,omitempty"`
	JoinWorld    *JoinWorldResponse    `json:"join_world,omitempty"`
	Step         *StepResponse         `json:"step,omitempty"`
	Reset        *ResetResponse        `json:"reset,omitempty"`
	ResetWorld   *ResetWorldResponse   `json:"reset_world,omitempty"`
	LeaveWorld   *LeaveWorldResponse   `json:"leave_world,omitempty"`
	DestroyWorld *DestroyWorldResponse `json:"destroy_world,omitempty"`
	Error        *Status               `json:"error,omitempty"`
}

func (r Response) Kind() Kind {
	switch {
	case r.Error != nil:
		return KindError
	case r.CreateWorld != nil:
		return KindCreateWorld
	case r.JoinWorld != nil:
		return KindJoinWorld
	case r.Step != nil:
		return KindStep
	case r.Reset != nil:
		return KindReset
	case r.ResetWorld != nil:
		return KindResetWorld
	case r.LeaveWorld != nil:
		return KindLeaveWorld
	case r.DestroyWorld != nil:
		return KindDestroyWorld
	}
	return KindUnknown
}

// ErrorResponse wraps a status into a Response.
func ErrorResponse(s *Status) Response {
	return Response{Error: s}
}

// DecodeRequest validates b against the request schema and decodes it. Both
// kinds of failure wrap ErrMalformed.
func DecodeRequest(b []byte) (Request, error) {
	var r Request
	if err := ValidateRequest(b); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}
