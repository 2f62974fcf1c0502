// Package envproj binds resolved secrets into ambient process-wide
// key/value state for legacy consumers that read environment variables
// instead of calling the resolver. The target environment is an
// explicit object handed to the projector, populated once at startup
// and read-only afterwards.
package envproj

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/veilbox/veil/internal/backend"
)

// Environ is the ambient key/value state the projector writes into.
type Environ interface {
	Lookup(key string) (string, bool)
	Set(key, value string) error
}

// OSEnviron is the real process environment.
type OSEnviron struct{}

func (OSEnviron) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

func (OSEnviron) Set(key, value string) error {
	return os.Setenv(key, value)
}

// MapEnviron is a bounded, in-memory environment. Used to stage
// variables for a child process without mutating our own environment,
// and by tests.
type MapEnviron struct {
	mu   sync.RWMutex
	vals map[string]string
}

// NewMapEnviron creates a MapEnviron seeded with KEY=VALUE entries,
// typically os.Environ().
func NewMapEnviron(seed []string) *MapEnviron {
	vals := make(map[string]string, len(seed))
	for _, kv := range seed {
		if eq := strings.Index(kv, "="); eq > 0 {
			vals[kv[:eq]] = kv[eq+1:]
		}
	}
	return &MapEnviron{vals: vals}
}

func (m *MapEnviron) Lookup(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	return v, ok
}

func (m *MapEnviron) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

// Environ renders the map as KEY=VALUE entries for exec.Cmd.Env.
func (m *MapEnviron) Environ() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vals))
	for k, v := range m.vals {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Resolver is the slice of the broker the projector depends on.
type Resolver interface {
	Resolve(ctx context.Context, name string) ([]byte, error)
}

// PartialFailureError names exactly which secrets failed to project.
// The successfully projected ones are already bound.
type PartialFailureError struct {
	Failed []string
	Errs   map[string]error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("failed to project %d secret(s): %s",
		len(e.Failed), strings.Join(e.Failed, ", "))
}

// Projector resolves names and binds them into an Environ.
type Projector struct {
	resolver Resolver
	env      Environ

	// Overwrite allows replacing entries already present in the
	// environment. Off by default: an operator-provided override
	// must not be silently masked.
	Overwrite bool
}

// New creates a projector writing into env via resolver.
func New(resolver Resolver, env Environ) *Projector {
	return &Projector{resolver: resolver, env: env}
}

// Project resolves each name and binds the value under that exact
// name. It continues through failures and returns a
// PartialFailureError naming them; already-set entries are skipped
// (not failures) unless Overwrite is on.
func (p *Projector) Project(ctx context.Context, names []string) error {
	failure := &PartialFailureError{Errs: make(map[string]error)}

	for _, name := range names {
		if _, exists := p.env.Lookup(name); exists && !p.Overwrite {
			continue
		}

		value, err := p.resolver.Resolve(ctx, name)
		if err != nil {
			failure.Failed = append(failure.Failed, name)
			failure.Errs[name] = err
			continue
		}

		err = p.env.Set(name, string(value))
		backend.Zero(value)
		if err != nil {
			failure.Failed = append(failure.Failed, name)
			failure.Errs[name] = err
		}
	}

	if len(failure.Failed) > 0 {
		return failure
	}
	return nil
}
