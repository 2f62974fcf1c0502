package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
	"github.com/adrg/xdg"
)

// KeychainOptions configures the OS keychain backend.
type KeychainOptions struct {
	// Service scopes every entry under an application namespace.
	Service string
	// FileDir holds the encrypted-file fallback for headless hosts.
	// Defaults to the veil data directory.
	FileDir string
	// PasswordFunc unlocks the file fallback. Defaults to a terminal
	// prompt.
	PasswordFunc func(prompt string) (string, error)
}

// Keychain stores secrets in the host operating system's secret
// service, with an encrypted-file fallback where no secret service is
// usable (WSL, headless, containers).
type Keychain struct {
	ring keyring.Keyring
}

// NewKeychain opens the platform keychain for the given service
// namespace. Returns ErrUnavailable if no usable keyring backend
// exists on this host.
func NewKeychain(opts KeychainOptions) (*Keychain, error) {
	if opts.Service == "" {
		opts.Service = "veil"
	}
	if opts.FileDir == "" {
		opts.FileDir = filepath.Join(xdg.DataHome, "veil", "keyring")
	}
	pwFunc := keyring.TerminalPrompt
	if opts.PasswordFunc != nil {
		pwFunc = keyring.PromptFunc(opts.PasswordFunc)
	}

	cfg := keyring.Config{
		ServiceName:              opts.Service,
		KeychainTrustApplication: true, // macOS: don't prompt every access
		FileDir:                  opts.FileDir,
		FilePasswordFunc:         pwFunc,
	}

	// WSL and headless hosts can't reach a secret service reliably;
	// pin the encrypted-file backend instead of failing at first Get.
	if IsWSL() || IsHeadless() {
		warnOnce("Detected WSL/headless environment, using encrypted file keyring")
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %v: %w", err, ErrUnavailable)
	}

	return &Keychain{ring: ring}, nil
}

// NewKeychainWithRing wraps an already-open keyring. Used by tests with
// keyring.NewArrayKeyring.
func NewKeychainWithRing(ring keyring.Keyring) *Keychain {
	return &Keychain{ring: ring}
}

func (k *Keychain) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("keychain get %s: %w", name, ErrUnavailable)
	}
	item, err := k.ring.Get(name)
	if err != nil {
		return nil, fmt.Errorf("keychain get %s: %w", name, mapKeyringError(err))
	}
	return item.Data, nil
}

func (k *Keychain) Set(ctx context.Context, name string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("keychain set %s: %w", name, ErrUnavailable)
	}
	item := keyring.Item{
		Key:  name,
		Data: value,
	}
	if err := k.ring.Set(item); err != nil {
		return fmt.Errorf("keychain set %s: %w", name, mapKeyringError(err))
	}
	return nil
}

func (k *Keychain) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("keychain delete %s: %w", name, ErrUnavailable)
	}
	if err := k.ring.Remove(name); err != nil {
		return fmt.Errorf("keychain delete %s: %w", name, mapKeyringError(err))
	}
	return nil
}

func (k *Keychain) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("keychain list: %w", ErrUnavailable)
	}
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("keychain list: %w", mapKeyringError(err))
	}
	return keys, nil
}

func (k *Keychain) HealthCheck(ctx context.Context) Health {
	if _, err := k.ring.Keys(); err != nil {
		mapped := mapKeyringError(err)
		state := StateUnreachable
		if mapped == ErrPermissionDenied {
			state = StateDegraded
		}
		return Health{State: state, Reason: err.Error()}
	}
	return Health{State: StateOk}
}

// Close is a no-op; the OS secret service holds no session on our side.
func (k *Keychain) Close() error {
	return nil
}

// mapKeyringError translates keyring library errors into the closed
// contract set. The library exposes one sentinel (key not found);
// access failures only arrive as opaque platform errors.
func mapKeyringError(err error) error {
	if err == keyring.ErrKeyNotFound {
		return ErrNotFound
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "dismissed"),
		strings.Contains(msg, "locked"):
		return ErrPermissionDenied
	default:
		return ErrUnavailable
	}
}
