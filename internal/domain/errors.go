package domain

import "errors"

// Semantic error kinds surfaced across the forecast core. Callers classify
// with errors.Is; messages wrap these with operation context.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidRunState       = errors.New("invalid run state")
	ErrDualControlViolation  = errors.New("dual control violation")
	ErrAlreadyDecided        = errors.New("run already decided")
	ErrNoPriceFound          = errors.New("no valid price found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrInternal              = errors.New("internal error")
)
