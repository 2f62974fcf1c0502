package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/veilbox/veil/internal/backend"
)

// Binding maps one secret name to a backend and a backend-specific
// locator. An empty Path means the secret name itself is the locator.
type Binding struct {
	Backend string `json:"backend"`
	Path    string `json:"path,omitempty"`
}

// Locator returns the backend-scoped identifier for name.
func (b Binding) Locator(name string) string {
	if b.Path != "" {
		return b.Path
	}
	return name
}

// KeychainConfig configures the OS keychain backend.
type KeychainConfig struct {
	Service string `json:"service,omitempty"`
}

// RemoteConfig configures the network vault backend.
type RemoteConfig struct {
	URL           string  `json:"url,omitempty"`
	TimeoutMillis int     `json:"timeout_ms,omitempty"`
	MaxRetries    uint64  `json:"max_retries,omitempty"`
	RPS           float64 `json:"rps,omitempty"`
}

// HardwareConfig configures the secure-element backend.
type HardwareConfig struct {
	Socket            string `json:"socket,omitempty"`
	DialTimeoutMillis int    `json:"dial_timeout_ms,omitempty"`
	QueueWaitMillis   int    `json:"queue_wait_ms,omitempty"`
	IdleMillis        int    `json:"idle_ms,omitempty"`
}

// Descriptor is the declarative mapping from secret names to backend
// bindings, plus per-backend connection settings. It is loaded once
// and never mutated afterwards.
type Descriptor struct {
	CacheTTLMillis int `json:"cache_ttl_ms,omitempty"`

	// Secrets maps each secret name to its binding. Resolution never
	// falls back to the ambient environment: a name absent here is
	// not configured, full stop.
	Secrets map[string]Binding `json:"secrets"`

	// Aliases maps short provider names to secret names, e.g.
	// anthropic -> anthropic_api_key.
	Aliases map[string]string `json:"aliases,omitempty"`

	Keychain KeychainConfig `json:"keychain,omitempty"`
	Remote   RemoteConfig   `json:"remote,omitempty"`
	Hardware HardwareConfig `json:"hardware,omitempty"`
}

// Load reads and validates a descriptor file. A missing file is an
// error: the descriptor is the security boundary and there is no
// implicit default mapping.
func Load(path string) (*Descriptor, error) {
	if path == "" {
		path = DescriptorPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no descriptor at %s (run: veil config init)", path)
		}
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	var desc Descriptor
	if err := json5.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}

	if err := desc.validate(); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	return &desc, nil
}

// validate checks names and locators. Unknown backend kinds are kept:
// a descriptor written for a newer veil must load, and only the names
// bound to the unknown kind fail, at dispatch, with a distinct error.
func (d *Descriptor) validate() error {
	for name, binding := range d.Secrets {
		if err := backend.ValidateName(name); err != nil {
			return err
		}
		if binding.Backend == "" {
			return fmt.Errorf("secret %q has no backend", name)
		}
		if binding.Path != "" {
			if err := backend.ValidateLocator(binding.Path); err != nil {
				return fmt.Errorf("secret %q: %w", name, err)
			}
		}
	}
	for alias, target := range d.Aliases {
		if err := backend.ValidateName(alias); err != nil {
			return fmt.Errorf("alias %q: %w", alias, err)
		}
		if _, ok := d.Secrets[target]; !ok {
			return fmt.Errorf("alias %q points at unconfigured secret %q", alias, target)
		}
	}
	return nil
}

// Binding resolves name to its binding, expanding one level of alias.
func (d *Descriptor) Binding(name string) (Binding, bool) {
	if b, ok := d.Secrets[name]; ok {
		return b, true
	}
	if target, ok := d.Aliases[name]; ok {
		b, ok := d.Secrets[target]
		return b, ok
	}
	return Binding{}, false
}

// Canonical returns the secret name behind an alias, or name itself.
func (d *Descriptor) Canonical(name string) string {
	if _, ok := d.Secrets[name]; ok {
		return name
	}
	if target, ok := d.Aliases[name]; ok {
		return target
	}
	return name
}

// Names returns all configured secret names, sorted.
func (d *Descriptor) Names() []string {
	names := make([]string, 0, len(d.Secrets))
	for name := range d.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheTTL returns the resolver cache lifetime, defaulting to 30s.
// Zero in the file means "default"; use a negative value to disable.
func (d *Descriptor) CacheTTL() time.Duration {
	if d.CacheTTLMillis < 0 {
		return 0
	}
	if d.CacheTTLMillis == 0 {
		return 30 * time.Second
	}
	return time.Duration(d.CacheTTLMillis) * time.Millisecond
}

// WriteSample writes a commented starter descriptor to path. Fails if
// the file already exists.
func WriteSample(path string) error {
	if path == "" {
		path = DescriptorPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("descriptor already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleDescriptor), 0600)
}

const sampleDescriptor = `{
  // veil secret descriptor. Maps secret names to storage backends.
  // Backends: "keychain" (OS secret service), "hardware" (secure
  // element via agent socket), "remote" (HTTPS vault).
  //
  // Example bindings:
  //   secrets: {
  //     anthropic_api_key: { backend: "keychain" },
  //     db_password: { backend: "remote", path: "teams/payments/db_password" },
  //     signing_key: { backend: "hardware" },
  //   },
  secrets: {},

  // Optional short names, e.g. "veil get anthropic":
  //   aliases: { anthropic: "anthropic_api_key" },
  aliases: {},

  keychain: { service: "veil" },
  // remote: { url: "https://vault.example.com", timeout_ms: 10000 },
  // hardware: { socket: "/run/veil/agent.sock" },

  // Resolver cache lifetime. 0 = 30s default, negative disables.
  cache_ttl_ms: 30000,
}
`
