package job

import "errors"

// Domain errors. Operations wrap these with context; test with errors.Is.
// Anything else returned by this package is an infrastructure failure.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
)
