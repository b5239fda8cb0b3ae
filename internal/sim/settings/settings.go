// Package settings checks settings bundles against an allow-list and reads
// the typed values the server understands.
package settings

import (
	"fmt"
	"sort"
	"strings"

	"envgrid.ai/internal/protocol"
)

// Prefixes name the scope of a rejected key in the error message.
const (
	WorldPrefix = "Following Key(s) is(are) not supported in current World:"
	AgentPrefix = "Following Key(s) is(are) not supported for current Agent:"
	// MissingPrefix precedes required keys absent from a bundle.
	MissingPrefix = "Following Key(s) is(are) required but missing:"
)

// Keys understood by the server.
const (
	KeySeed           = "seed"
	KeyWorldIndex     = "world_index"
	KeyAgentPosSpace  = "agent_pos_space"
	KeyObjectPosSpace = "object_pos_space"
	KeyMaxSteps       = "max_steps"
)

// Allow is a required + optional key set for one scope.
type Allow struct {
	Prefix   string
	Required []string
	Optional []string
}

var (
	World = Allow{Prefix: WorldPrefix, Optional: []string{KeySeed, KeyWorldIndex}}
	Agent = Allow{Prefix: AgentPrefix, Optional: []string{KeyAgentPosSpace, KeyObjectPosSpace, KeyMaxSteps}}
)

// Validate reports every key outside the allow-list in a single
// InvalidArgument status. Required keys that are absent are reported the same
// way once the bundle has no unknown keys.
func Validate(s protocol.Settings, a Allow) *protocol.Status {
	allowed := make(map[string]struct{}, len(a.Required)+len(a.Optional))
	for _, k := range a.Required {
		allowed[k] = struct{}{}
	}
	for _, k := range a.Optional {
		allowed[k] = struct{}{}
	}

	var invalid []string
	for k := range s {
		if _, ok := allowed[k]; !ok {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return protocol.Errorf(protocol.CodeInvalidArgument, "%s %s", a.Prefix, strings.Join(invalid, " "))
	}

	var missing []string
	for _, k := range a.Required {
		if _, ok := s[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return protocol.Errorf(protocol.CodeInvalidArgument, "%s %s", MissingPrefix, strings.Join(missing, " "))
	}
	return nil
}

// InvalidKeys parses the key list back out of a message built by Validate.
func InvalidKeys(message, prefix string) []string {
	rest, ok := strings.CutPrefix(message, prefix)
	if !ok {
		return nil
	}
	return strings.Fields(rest)
}

// Space reads a placement space: a list of cell indices in [0, cells). A
// missing key yields every cell.
func Space(s protocol.Settings, key string, cells int) ([]int, error) {
	t, ok := s[key]
	if !ok {
		return AllCells(cells), nil
	}
	vals, err := t.Ints()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		if v < 0 || v >= int64(cells) {
			return nil, fmt.Errorf("%s: cell %d outside [0,%d)", key, v, cells)
		}
		out = append(out, int(v))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty placement space", key)
	}
	return out, nil
}

func AllCells(cells int) []int {
	out := make([]int, cells)
	for i := range out {
		out[i] = i
	}
	return out
}

// MaxSteps reads the step budget. Zero means unbounded.
func MaxSteps(s protocol.Settings) (int, error) {
	t, ok := s[KeyMaxSteps]
	if !ok {
		return 0, nil
	}
	v, err := t.Scalar()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", KeyMaxSteps, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: must be >= 0, got %d", KeyMaxSteps, v)
	}
	return int(v), nil
}

// WorldIndex reads the requested world index, if any.
func WorldIndex(s protocol.Settings) (uint64, bool, error) {
	t, ok := s[KeyWorldIndex]
	if !ok {
		return 0, false, nil
	}
	v, err := t.Scalar()
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", KeyWorldIndex, err)
	}
	if v < 0 {
		return 0, false, fmt.Errorf("%s: must be >= 0, got %d", KeyWorldIndex, v)
	}
	return uint64(v), true, nil
}

// Seed returns the raw wave map, or nil when none was given.
func Seed(s protocol.Settings) ([]int64, error) {
	t, ok := s[KeySeed]
	if !ok {
		return nil, nil
	}
	vals, err := t.Ints()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeySeed, err)
	}
	return vals, nil
}
