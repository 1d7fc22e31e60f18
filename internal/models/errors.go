package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across layers. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is; the HTTP layer maps each one to a status code.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrGateway            = errors.New("gateway call failed")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// ErrNotAvailable is the conflict reported when a requested range overlaps a live booking
var ErrNotAvailable = fmt.Errorf("%w: tool is not available for the selected dates", ErrConflict)
