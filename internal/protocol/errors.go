package protocol

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// Status codes used on the wire. The numeric values are google.rpc.Code.
const (
	CodeUnknown         = codes.Unknown
	CodeInvalidArgument = codes.InvalidArgument
	CodeNotFound        = codes.NotFound
	CodeAlreadyExists   = codes.AlreadyExists
	CodeAborted         = codes.Aborted
)

var knownCodes = map[codes.Code]struct{}{
	CodeUnknown:         {},
	CodeInvalidArgument: {},
	CodeNotFound:        {},
	CodeAlreadyExists:   {},
	CodeAborted:         {},
}

func IsKnownCode(c codes.Code) bool {
	_, ok := knownCodes[c]
	return ok
}

// Status is the error payload of a Response.
type Status struct {
	Code    codes.Code `json:"code"`
	Message string     `json:"message"`
}

func (s *Status) Error() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

func Errorf(code codes.Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}
