package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a concrete storage backend.
type Kind string

const (
	KindKeychain Kind = "keychain"
	KindHardware Kind = "hardware"
	KindRemote   Kind = "remote"
)

// Kinds returns the backend kinds the broker can construct.
func Kinds() []Kind {
	return []Kind{KindKeychain, KindHardware, KindRemote}
}

// Backend is the uniform contract every storage backend implements.
// Implementations are safe for concurrent use; writes to the same name
// are serialized internally.
type Backend interface {
	// Get returns the value stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Set stores value under name, overwriting any previous value.
	Set(ctx context.Context, name string, value []byte) error
	// Delete removes the value stored under name, or returns ErrNotFound.
	Delete(ctx context.Context, name string) error
	// List returns every name the backend currently holds.
	List(ctx context.Context) ([]string, error)
	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) Health
	// Close releases any sessions or connections held by the backend.
	Close() error
}

// Closed error set surfaced by every backend adapter. Raw transport and
// OS errors never cross the adapter boundary unwrapped.
var (
	ErrNotFound           = errors.New("veil: secret not found")
	ErrNotConfigured      = errors.New("veil: secret not configured")
	ErrUnavailable        = errors.New("veil: backend unavailable")
	ErrPermissionDenied   = errors.New("veil: permission denied")
	ErrUnsupportedBackend = errors.New("veil: unsupported backend")
)

// HealthState is the outcome of a backend health check.
type HealthState string

const (
	StateOk          HealthState = "ok"
	StateDegraded    HealthState = "degraded"
	StateUnreachable HealthState = "unreachable"
)

// Health describes the result of a HealthCheck call.
type Health struct {
	State  HealthState
	Reason string
}

// Healthy reports whether the backend answered its health check cleanly.
func (h Health) Healthy() bool {
	return h.State == StateOk
}

// ValidateName rejects names that are empty or could escape a
// backend-scoped namespace when mapped to a path.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("empty secret name")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("secret name %q contains path separator", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("secret name %q contains traversal sequence", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("secret name contains control character")
		}
	}
	return nil
}

// ValidateLocator checks a backend-specific locator. Unlike names,
// locators may contain path separators (remote vault paths), but never
// traversal sequences.
func ValidateLocator(locator string) error {
	if locator == "" {
		return errors.New("empty locator")
	}
	for _, seg := range strings.Split(locator, "/") {
		if seg == ".." {
			return fmt.Errorf("locator %q contains traversal sequence", locator)
		}
	}
	return nil
}

// Zero wipes a plaintext buffer. Holders call it as soon as they are
// done with a secret value.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
