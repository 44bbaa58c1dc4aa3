package humaninteraction

import "errors"

var (
	// ErrInteractionNotFound is returned when no interaction exists for the
	// given id, or (execution id, node id) pair.
	ErrInteractionNotFound = errors.New("humaninteraction: interaction not found")

	// ErrInteractionNotPending is returned when trying to resolve an
	// interaction that is already terminal.
	ErrInteractionNotPending = errors.New("humaninteraction: interaction is not pending")

	// ErrUnauthorized is returned when a user is not among an
	// interaction's current assignees.
	ErrUnauthorized = errors.New("humaninteraction: user not authorized to act on this interaction")

	// ErrInvalidInteractionType is returned when a suspending node names
	// an unrecognized interaction type.
	ErrInvalidInteractionType = errors.New("humaninteraction: invalid interaction type")
)
