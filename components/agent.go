package components

// Identity bundles the immutable facts about an agent.
type Identity struct {
	ID   AgentID
	Kind Kind
	Born int64 // tick the agent was created on
}

// Life carries the liveness flag. A killed agent keeps its entity until the
// registry applies pending removals at the tick boundary.
type Life struct {
	Alive bool
}

// Mind holds kind-specific state machine data.
type Mind struct {
	State    State
	Timer    int  // ticks spent in State
	HasEaten bool // predators: ate during the current tick
}
