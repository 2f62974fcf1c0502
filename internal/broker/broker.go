// Package broker is the resolution core: it turns secret names into
// values by consulting the descriptor and dispatching to the bound
// backend. It is the only component that touches backends directly;
// the CLI and projector go through it.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veilbox/veil/internal/backend"
	"github.com/veilbox/veil/internal/config"
)

// Broker resolves secret names against a loaded descriptor. Safe for
// concurrent use. Backends are constructed lazily, once per kind, and
// shared by all callers.
type Broker struct {
	desc *config.Descriptor

	keychainOnce sync.Once
	keychain     backend.Backend
	keychainErr  error

	hardwareOnce sync.Once
	hardware     backend.Backend
	hardwareErr  error

	remoteOnce sync.Once
	remote     backend.Backend
	remoteErr  error

	cache *cache

	// override holds injected backends, used by tests and by callers
	// embedding the broker behind custom stores.
	override map[backend.Kind]backend.Backend
}

// New creates a broker for the given descriptor.
func New(desc *config.Descriptor) *Broker {
	return &Broker{
		desc:  desc,
		cache: newCache(desc.CacheTTL()),
	}
}

// NewWithBackends creates a broker with pre-built backends instead of
// constructing them from the descriptor's connection settings.
func NewWithBackends(desc *config.Descriptor, backends map[backend.Kind]backend.Backend) *Broker {
	b := New(desc)
	b.override = backends
	return b
}

// Backend returns the shared backend instance for kind, constructing
// it on first use. Unknown kinds yield ErrUnsupportedBackend.
func (b *Broker) Backend(kind backend.Kind) (backend.Backend, error) {
	if bk, ok := b.override[kind]; ok {
		return bk, nil
	}

	switch kind {
	case backend.KindKeychain:
		b.keychainOnce.Do(func() {
			b.keychain, b.keychainErr = backend.NewKeychain(backend.KeychainOptions{
				Service: b.desc.Keychain.Service,
				FileDir: "",
			})
		})
		return b.keychain, b.keychainErr

	case backend.KindHardware:
		b.hardwareOnce.Do(func() {
			hw := b.desc.Hardware
			if hw.Socket == "" {
				b.hardwareErr = fmt.Errorf("hardware backend: no agent socket configured: %w",
					backend.ErrUnavailable)
				return
			}
			b.hardware = backend.NewHardware(&backend.AgentElement{Socket: hw.Socket},
				backend.HardwareOptions{
					DialTimeout: millis(hw.DialTimeoutMillis),
					QueueWait:   millis(hw.QueueWaitMillis),
					IdleRelease: millis(hw.IdleMillis),
				})
		})
		return b.hardware, b.hardwareErr

	case backend.KindRemote:
		b.remoteOnce.Do(func() {
			rc := b.desc.Remote
			if rc.URL == "" {
				b.remoteErr = fmt.Errorf("remote backend: no vault URL configured: %w",
					backend.ErrUnavailable)
				return
			}
			b.remote, b.remoteErr = backend.NewRemote(backend.RemoteOptions{
				BaseURL:    rc.URL,
				Tokens:     vaultTokens(),
				Timeout:    millis(rc.TimeoutMillis),
				MaxRetries: rc.MaxRetries,
				RPS:        rc.RPS,
			})
		})
		return b.remote, b.remoteErr

	default:
		return nil, fmt.Errorf("backend kind %q: %w", kind, backend.ErrUnsupportedBackend)
	}
}

// Resolve returns the value bound to name. A name absent from the
// descriptor fails with ErrNotConfigured before any backend is
// touched; there is no fallback to the process environment and no
// fallback to a different backend on failure. The returned buffer is
// owned by the caller, who should Zero it when done.
func (b *Broker) Resolve(ctx context.Context, name string) ([]byte, error) {
	binding, ok := b.desc.Binding(name)
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", name, backend.ErrNotConfigured)
	}
	canonical := b.desc.Canonical(name)

	if value, ok := b.cache.get(canonical); ok {
		return value, nil
	}

	store, err := b.Backend(backend.Kind(binding.Backend))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}

	value, err := store.Get(ctx, binding.Locator(canonical))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}

	b.cache.put(canonical, value)
	return value, nil
}

// Set writes a value through the bound backend and invalidates the
// cached entry for name.
func (b *Broker) Set(ctx context.Context, name string, value []byte) error {
	binding, ok := b.desc.Binding(name)
	if !ok {
		return fmt.Errorf("set %s: %w", name, backend.ErrNotConfigured)
	}
	canonical := b.desc.Canonical(name)

	store, err := b.Backend(backend.Kind(binding.Backend))
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	if err := store.Set(ctx, binding.Locator(canonical), value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	b.cache.invalidate(canonical)
	return nil
}

// Delete removes a secret through the bound backend and invalidates
// the cached entry.
func (b *Broker) Delete(ctx context.Context, name string) error {
	binding, ok := b.desc.Binding(name)
	if !ok {
		return fmt.Errorf("delete %s: %w", name, backend.ErrNotConfigured)
	}
	canonical := b.desc.Canonical(name)

	store, err := b.Backend(backend.Kind(binding.Backend))
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if err := store.Delete(ctx, binding.Locator(canonical)); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	b.cache.invalidate(canonical)
	return nil
}

// Rotate replaces a secret's value. Equivalent to Set today; kept as
// its own verb so callers state intent and future versions can track
// rotation history.
func (b *Broker) Rotate(ctx context.Context, name string, value []byte) error {
	if err := b.Set(ctx, name, value); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	return nil
}

// Names returns the configured secret names from the descriptor.
func (b *Broker) Names() []string {
	return b.desc.Names()
}

// Descriptor exposes the loaded descriptor to collaborators that only
// need bindings (the CLI's list view).
func (b *Broker) Descriptor() *config.Descriptor {
	return b.desc
}

// Health checks every backend kind referenced by the descriptor.
func (b *Broker) Health(ctx context.Context) map[backend.Kind]backend.Health {
	kinds := map[backend.Kind]bool{}
	for _, binding := range b.desc.Secrets {
		kinds[backend.Kind(binding.Backend)] = true
	}

	out := make(map[backend.Kind]backend.Health, len(kinds))
	for kind := range kinds {
		store, err := b.Backend(kind)
		if err != nil {
			out[kind] = backend.Health{State: backend.StateUnreachable, Reason: err.Error()}
			continue
		}
		out[kind] = store.HealthCheck(ctx)
	}
	return out
}

// Close shuts down constructed backends and wipes the cache.
func (b *Broker) Close() error {
	b.cache.purge()

	// Empty Do calls block until any in-flight construction finishes,
	// so the field reads below are ordered after the writes.
	b.keychainOnce.Do(func() {})
	b.hardwareOnce.Do(func() {})
	b.remoteOnce.Do(func() {})

	var first error
	for _, store := range []backend.Backend{b.keychain, b.hardware, b.remote} {
		if store == nil {
			continue
		}
		if err := store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
