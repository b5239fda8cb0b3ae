package settings

import (
	"sort"
	"testing"

	"envgrid.ai/internal/protocol"
)

func TestValidateAcceptsAllowedKeys(t *testing.T) {
	s := protocol.Settings{
		KeyAgentPosSpace: protocol.Int32Array(0, 1, 2),
		KeyMaxSteps:      protocol.Int32Scalar(10),
	}
	if st := Validate(s, Agent); st != nil {
		t.Fatalf("unexpected status: %v", st)
	}
	if st := Validate(nil, World); st != nil {
		t.Fatalf("empty bundle rejected: %v", st)
	}
}

func TestValidateListsEveryInvalidKey(t *testing.T) {
	cases := []struct {
		name    string
		allow   Allow
		keys    []string
		invalid []string
	}{
		{"world one bad", World, []string{"seed", "gravity"}, []string{"gravity"}},
		{"world agent keys", World, []string{"max_steps", "agent_pos_space", "seed"}, []string{"agent_pos_space", "max_steps"}},
		{"agent world keys", Agent, []string{"seed", "world_index", "foo"}, []string{"foo", "seed", "world_index"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := protocol.Settings{}
			for _, k := range tc.keys {
				s[k] = protocol.Int32Scalar(1)
			}
			st := Validate(s, tc.allow)
			if st == nil {
				t.Fatalf("expected InvalidArgument")
			}
			if st.Code != protocol.CodeInvalidArgument {
				t.Fatalf("code=%v", st.Code)
			}
			got := InvalidKeys(st.Message, tc.allow.Prefix)
			sort.Strings(got)
			if len(got) != len(tc.invalid) {
				t.Fatalf("invalid keys=%v want %v (%q)", got, tc.invalid, st.Message)
			}
			for i := range got {
				if got[i] != tc.invalid[i] {
					t.Fatalf("invalid keys=%v want %v", got, tc.invalid)
				}
			}
		})
	}
}

func TestValidateRequiredKeys(t *testing.T) {
	a := Allow{Prefix: WorldPrefix, Required: []string{"seed"}, Optional: []string{"world_index"}}
	st := Validate(protocol.Settings{"world_index": protocol.Int32Scalar(1)}, a)
	if st == nil || st.Code != protocol.CodeInvalidArgument {
		t.Fatalf("missing required key accepted: %v", st)
	}
	if got := InvalidKeys(st.Message, MissingPrefix); len(got) != 1 || got[0] != "seed" {
		t.Fatalf("missing=%v (%q)", got, st.Message)
	}
	if st := Validate(protocol.Settings{"seed": protocol.Int32Array(1, 0)}, a); st != nil {
		t.Fatalf("unexpected status: %v", st)
	}
}

func TestSpace(t *testing.T) {
	got, err := Space(nil, KeyAgentPosSpace, 3)
	if err != nil || len(got) != 3 || got[2] != 2 {
		t.Fatalf("default space=%v err=%v", got, err)
	}
	got, err = Space(protocol.Settings{KeyAgentPosSpace: protocol.Int32Array(4, 7)}, KeyAgentPosSpace, 9)
	if err != nil || len(got) != 2 || got[0] != 4 || got[1] != 7 {
		t.Fatalf("space=%v err=%v", got, err)
	}
	if _, err := Space(protocol.Settings{KeyAgentPosSpace: protocol.Int32Array(9)}, KeyAgentPosSpace, 9); err == nil {
		t.Fatalf("out of range cell accepted")
	}
	if _, err := Space(protocol.Settings{KeyAgentPosSpace: {Floats: []float32{1}}}, KeyAgentPosSpace, 9); err == nil {
		t.Fatalf("float space accepted")
	}
}

func TestScalars(t *testing.T) {
	if n, err := MaxSteps(nil); err != nil || n != 0 {
		t.Fatalf("default max_steps=%d err=%v", n, err)
	}
	if n, err := MaxSteps(protocol.Settings{KeyMaxSteps: protocol.Int32Scalar(25)}); err != nil || n != 25 {
		t.Fatalf("max_steps=%d err=%v", n, err)
	}
	if _, err := MaxSteps(protocol.Settings{KeyMaxSteps: protocol.Int32Scalar(-1)}); err == nil {
		t.Fatalf("negative max_steps accepted")
	}
	if _, ok, err := WorldIndex(nil); ok || err != nil {
		t.Fatalf("world_index present without key")
	}
	if idx, ok, err := WorldIndex(protocol.Settings{KeyWorldIndex: protocol.Int32Scalar(7)}); !ok || err != nil || idx != 7 {
		t.Fatalf("world_index=%d ok=%v err=%v", idx, ok, err)
	}
	seed, err := Seed(protocol.Settings{KeySeed: protocol.Int32Array(1, 2, 3, 0)})
	if err != nil || len(seed) != 4 {
		t.Fatalf("seed=%v err=%v", seed, err)
	}
}
