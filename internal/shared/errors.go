package shared

import "errors"

var (
	// ErrNotFound indicates a missing order, recipe, material or product.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input that fails domain validation.
	ErrValidation = errors.New("validation failed")
	// ErrStatusConflict indicates a transition attempted from an invalid state.
	ErrStatusConflict = errors.New("status conflict")
)
