package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrAccessDenied    = errors.New("access denied")
	ErrProviderFailure = errors.New("provider failure")
	ErrNotCancellable  = errors.New("job is not cancellable")
)
