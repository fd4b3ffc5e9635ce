package loginmanager

import (
	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidTransition = "INVALID_SESSION_TRANSITION"

// ErrInvalidTransition is returned when an outcome cannot move the session
// from its current state.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// State is where a client session stands.
type State string

const (
	// StateGuest has no identity.
	StateGuest State = "guest"
	// StatePendingApproval was admitted but waits on an org admin. The
	// session itself stays anonymous.
	StatePendingApproval State = "pending_approval"
	// StateUnverified is signed in but the email was never confirmed.
	StateUnverified State = "unverified"
	// StateAuthenticated is signed in and verified.
	StateAuthenticated State = "authenticated"
)

// transitions lists the allowed moves. Staying in place is always allowed.
var transitions = map[State]map[State]struct{}{
	StateGuest: {
		StatePendingApproval: {},
		StateUnverified:      {},
		StateAuthenticated:   {},
	},
	StatePendingApproval: {
		StateGuest:         {},
		StateUnverified:    {},
		StateAuthenticated: {},
	},
	StateUnverified: {
		StateGuest:         {},
		StateAuthenticated: {},
	},
	StateAuthenticated: {
		StateGuest:      {},
		StateUnverified: {},
	},
}

func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

func checkTransition(from, to State) error {
	if canTransition(from, to) {
		return nil
	}
	return goerrors.New(ErrInvalidTransition.Message, ErrInvalidTransition.Category).
		WithTextCode(ErrInvalidTransition.TextCode).
		WithCode(ErrInvalidTransition.Code).
		WithMetadata(map[string]any{"from": from, "to": to})
}

// stateFor maps a successful outcome to the session state it leads to.
// Failures leave the session where it was.
func stateFor(r Result) (State, bool) {
	switch r {
	case OK:
		return StateAuthenticated, true
	case OKNotYetVerified:
		return StateUnverified, true
	case OKNotYetApproved:
		return StatePendingApproval, true
	default:
		return "", false
	}
}
