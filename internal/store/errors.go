package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrConflict         = errors.New("conflict")
)

var (
	ErrClinicNotFound = fmt.Errorf("clinic %w", ErrNotFound)
	ErrScreenNotFound = fmt.Errorf("screen %w", ErrNotFound)
	ErrDoctorNotFound = fmt.Errorf("doctor %w", ErrNotFound)
	ErrVersionChanged = fmt.Errorf("clinic version changed: %w", ErrConflict)
)

// IsDomainError reports whether err is an expected outcome of a request
// rather than a failure of the backing store.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrConflict)
}
