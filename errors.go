package green

import "github.com/ghettovoice/green/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument = errorutil.ErrInvalidArgument
	// ErrTimeoutStarted is the panic value used when a pending timeout
	// is started again without being cancelled first.
	ErrTimeoutStarted Error = "timeout already started"
)

// Error represents a green error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}
