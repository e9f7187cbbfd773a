package withdrawal

import "errors"

var (
	ErrNotFound = errors.New("withdrawal not found")

	// ErrInvalidState is returned for operator actions that are not valid
	// from the withdrawal's current status.
	ErrInvalidState = errors.New("action not valid in current withdrawal state")

	ErrReasonRequired = errors.New("rejection reason is required")

	ErrOTPInvalid = errors.New("verification code is invalid or expired")

	// ErrNotOwner is returned when a user acts on a withdrawal that belongs
	// to another user.
	ErrNotOwner = errors.New("withdrawal belongs to another user")
)
