package repository

import "errors"

var (
	// ErrNotFound indicates the row does not exist or is not owned by the caller.
	// The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrTriggered indicates a mutation was attempted on a secret already in
	// the terminal triggered state.
	ErrTriggered = errors.New("secret already triggered")

	// ErrWrongState indicates the secret exists but is not in the state the
	// transition requires (e.g. check-in on a paused secret).
	ErrWrongState = errors.New("secret is not in the required state")

	// ErrTokenInvalid indicates a check-in token that is unknown, expired or
	// already used.
	ErrTokenInvalid = errors.New("invalid check-in token")
)
