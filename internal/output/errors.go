package output

import (
	"errors"
	"fmt"

	"github.com/veilbox/veil/internal/backend"
)

// Exit codes. Stable so scripts can branch on outcome kind.
const (
	ExitOK            = 0  // Success
	ExitGeneral       = 1  // General error
	ExitUsage         = 2  // Invalid usage / bad arguments
	ExitNotConfigured = 3  // Name unknown to the descriptor
	ExitNotFound      = 4  // Backend has no value for a configured name
	ExitPermission    = 6  // Authorization failure, operator action needed
	ExitUnsupported   = 7  // Descriptor names a backend veil can't construct
	ExitPartial       = 8  // Multi-item operation partially failed
	ExitConfigError   = 10 // Descriptor missing or invalid
	ExitUnavailable   = 11 // Backend unreachable or timed out, retryable
)

// CLIError represents a structured error with exit code and optional hint
type CLIError struct {
	ExitCode int
	Message  string
	Hint     string
}

// Error implements the error interface
func (e *CLIError) Error() string {
	return e.Message
}

// NewCLIError creates a new CLIError
func NewCLIError(code int, msg string) *CLIError {
	return &CLIError{
		ExitCode: code,
		Message:  msg,
	}
}

// WithHint adds a user-facing hint to the error
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// FromBrokerError maps the broker's closed error set onto exit codes
// and operator hints. Unknown errors become general failures.
func FromBrokerError(err error) *CLIError {
	switch {
	case errors.Is(err, backend.ErrNotConfigured):
		return NewCLIError(ExitNotConfigured, err.Error()).
			WithHint("Add the secret to your descriptor: veil config path")
	case errors.Is(err, backend.ErrNotFound):
		return NewCLIError(ExitNotFound, err.Error()).
			WithHint("The name is configured but the backend holds no value. Import or set it first.")
	case errors.Is(err, backend.ErrPermissionDenied):
		return NewCLIError(ExitPermission, err.Error())
	case errors.Is(err, backend.ErrUnsupportedBackend):
		return NewCLIError(ExitUnsupported, err.Error()).
			WithHint("This descriptor needs a newer veil.")
	case errors.Is(err, backend.ErrUnavailable):
		return NewCLIError(ExitUnavailable, err.Error()).
			WithHint("Transient failure. Check: veil doctor")
	default:
		return NewCLIError(ExitGeneral, fmt.Sprintf("%v", err))
	}
}
