package limiter

import "errors"

var (
	// ErrInvalidPolicy marks configuration the limiter refuses to run with.
	ErrInvalidPolicy = errors.New("limiter: invalid policy")
)
