package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("loan: validation failed")
	ErrInsufficientCollateral = errors.New("loan: insufficient collateral")
	ErrUnauthorized           = errors.New("loan: unauthorized")
	ErrInvalidState           = errors.New("loan: invalid state")
	ErrNotFound               = errors.New("loan: not found")
	ErrVersionConflict        = errors.New("loan: version conflict")
	ErrIneligibleCollateral   = fmt.Errorf("%w: collateral not eligible", ErrValidation)
)

// Invalid wraps ErrValidation with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
