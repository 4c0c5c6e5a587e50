// Package apperr defines the error kinds shared across services. Callers wrap
// them with fmt.Errorf("%w: ...") and the API maps them to status codes.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrGeneration   = errors.New("ai generation failed")
	ErrInternal     = errors.New("internal error")
)

// Kind returns the sentinel err wraps, or ErrInternal when it wraps none.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrConflict, ErrUnauthorized, ErrGeneration, ErrInternal} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}
