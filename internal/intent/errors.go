package intent

import "errors"

var (
	ErrNotFound = errors.New("payment intent not found")

	// ErrAlreadyEngaged is returned when a gateway engagement is attempted on
	// an intent whose amount and currency are already locked to a provider.
	ErrAlreadyEngaged = errors.New("intent already engaged with a gateway")

	// ErrInvalidState is returned for operator actions that are not valid
	// from the intent's current status.
	ErrInvalidState = errors.New("action not valid in current intent state")
)
