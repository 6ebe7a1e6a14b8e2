package domain

import "errors"

var (
	// ErrUnauthenticated is returned when an operation needs a current identity and there is none.
	ErrUnauthenticated = errors.New("not signed in")
	// ErrNotFound is returned when an invite code or a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for duplicate membership or a duplicate unique key.
	ErrConflict = errors.New("conflict")
	// ErrForbidden is returned when the acting identity may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid is returned for input rejected before any remote call.
	ErrInvalid = errors.New("invalid input")
	// ErrRemote wraps transient remote read/write failures.
	ErrRemote = errors.New("remote operation failed")
)

// IsPermanent reports whether err is a definite answer from the store rather than an I/O
// failure. Permanent errors are never retried and never trip a circuit breaker.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalid)
}
