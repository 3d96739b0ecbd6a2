package systems

import "errors"

var (
	// ErrCapacityExceeded reports a denied reproduction or zone entry. It is
	// never fatal: the caller treats the request as a no-op.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrAgentNotFound reports an interaction with an unknown or already-killed agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAlreadyResident reports an attempt to enter a zone while occupying another.
	ErrAlreadyResident = errors.New("agent already resident in a zone")
)
