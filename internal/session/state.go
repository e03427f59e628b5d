package session

import (
	"errors"
	"slices"

	"github.com/vietddude/watchledger/internal/core/domain"
)

// State is an alias for domain.SessionState for internal use.
type State = domain.SessionState

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid session state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
// Refresh moves an active or expired session back to active; Revoked is
// terminal.
var ValidTransitions = map[State][]State{
	domain.SessionStateCreated: {domain.SessionStateActive},
	domain.SessionStateActive: {
		domain.SessionStateActive,
		domain.SessionStateExpired,
		domain.SessionStateRevoked,
	},
	domain.SessionStateExpired: {domain.SessionStateActive, domain.SessionStateRevoked},
	domain.SessionStateRevoked: {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.SessionStateCreated:
		return "Created - tokens minted, not yet persisted"
	case domain.SessionStateActive:
		return "Active - session token accepted"
	case domain.SessionStateExpired:
		return "Expired - session token past expires_at, refresh may revive it"
	case domain.SessionStateRevoked:
		return "Revoked - terminal, no token of the session is accepted"
	default:
		return "Unknown state"
	}
}
