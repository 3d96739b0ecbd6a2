// Package components defines ECS components for the simulation.
package components

import (
	"fmt"
	"strings"
)

// AgentID identifies an agent for its whole lifetime. IDs are never reused within a run.
type AgentID uint32

// NoAgent is the zero AgentID; real agents start at 1.
const NoAgent AgentID = 0

// Kind tags an agent with the behavior it runs.
type Kind uint8

const (
	KindFlocker Kind = iota
	KindAggregator
	KindPrey
	KindPredator
	KindShelter
	KindAttacker
	KindProtector
	numKinds
)

var kindNames = [numKinds]string{
	"flocker",
	"aggregator",
	"prey",
	"predator",
	"shelter",
	"attacker",
	"protector",
}

// String returns the lower-case kind name used in config files and snapshots.
func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind resolves a kind name. "aggregation" is accepted as an alias for aggregator.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "aggregation" || n == "aggregationagent" {
		return KindAggregator, nil
	}
	for i, kn := range kindNames {
		if kn == n {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown agent kind %q", name)
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	ks := make([]Kind, numKinds)
	for i := range ks {
		ks[i] = Kind(i)
	}
	return ks
}

// KindCount returns the number of agent kinds.
func KindCount() int {
	return int(numKinds)
}

// State is the kind-specific behavioral state of an agent.
type State uint8

const (
	StateNone State = iota
	StateWandering
	StateJoin
	StateStill
	StateLeave
	StateFree
	StateSheltered
	StateActive
	numStates
)

var stateNames = [numStates]string{
	"",
	"WANDERING",
	"JOIN",
	"STILL",
	"LEAVE",
	"FREE",
	"SHELTERED",
	"ACTIVE",
}

// String returns the upper-case state name written to snapshots.
func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// InitialState returns the state a freshly spawned agent of the given kind starts in.
func InitialState(k Kind) State {
	switch k {
	case KindAggregator:
		return StateWandering
	case KindPrey:
		return StateFree
	default:
		return StateActive
	}
}
