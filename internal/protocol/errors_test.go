package protocol

import (
	"testing"

	"google.golang.org/grpc/codes"
)

func TestIsKnownCode(t *testing.T) {
	cases := []codes.Code{
		CodeUnknown,
		CodeInvalidArgument,
		CodeNotFound,
		CodeAlreadyExists,
		CodeAborted,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %v", c)
		}
	}
	if IsKnownCode(codes.PermissionDenied) {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestStatusWireCodes(t *testing.T) {
	// google.rpc.Code numbering.
	want := map[codes.Code]uint32{
		CodeUnknown:         2,
		CodeInvalidArgument: 3,
		CodeNotFound:        5,
		CodeAlreadyExists:   6,
		CodeAborted:         10,
	}
	for c, n := range want {
		if uint32(c) != n {
			t.Fatalf("%v: got %d want %d", c, uint32(c), n)
		}
	}
	s := Errorf(CodeAborted, "Step Failed: %s", "lock timeout")
	if s.Message != "Step Failed: lock timeout" {
		t.Fatalf("message: %q", s.Message)
	}
}
