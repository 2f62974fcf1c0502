package broker

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilbox/veil/internal/backend"
	"github.com/veilbox/veil/internal/config"
)

// memStore is an in-memory Backend counting calls.
type memStore struct {
	mu   sync.RWMutex
	vals map[string][]byte
	gets int32
	sets int32
}

func newMemStore() *memStore {
	return &memStore{vals: make(map[string][]byte)}
}

func (s *memStore) Get(ctx context.Context, name string) ([]byte, error) {
	atomic.AddInt32(&s.gets, 1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[name]
	if !ok {
		return nil, backend.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *memStore) Set(ctx context.Context, name string, value []byte) error {
	atomic.AddInt32(&s.sets, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.vals[name] = stored
	return nil
}

func (s *memStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vals[name]; !ok {
		return backend.ErrNotFound
	}
	delete(s.vals, name)
	return nil
}

func (s *memStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.vals))
	for k := range s.vals {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *memStore) HealthCheck(ctx context.Context) backend.Health {
	return backend.Health{State: backend.StateOk}
}

func (s *memStore) Close() error { return nil }

func testDescriptor(ttlMillis int) *config.Descriptor {
	return &config.Descriptor{
		CacheTTLMillis: ttlMillis,
		Secrets: map[string]config.Binding{
			"anthropic_api_key": {Backend: "keychain"},
			"db_password":       {Backend: "keychain", Path: "pg-primary"},
			"future_secret":     {Backend: "quantum"},
		},
		Aliases: map[string]string{
			"anthropic": "anthropic_api_key",
		},
	}
}

func newTestBroker(ttlMillis int) (*Broker, *memStore) {
	store := newMemStore()
	brk := NewWithBackends(testDescriptor(ttlMillis), map[backend.Kind]backend.Backend{
		backend.KindKeychain: store,
	})
	return brk, store
}

func TestResolve(t *testing.T) {
	brk, store := newTestBroker(-1)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("sk-ant")))

	value, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-ant"), value)
}

func TestResolveNotConfiguredNeverReachesBackend(t *testing.T) {
	brk, store := newTestBroker(-1)

	_, err := brk.Resolve(context.Background(), "unknown_name")
	assert.ErrorIs(t, err, backend.ErrNotConfigured)
	assert.Zero(t, atomic.LoadInt32(&store.gets))
}

func TestResolveAlias(t *testing.T) {
	brk, store := newTestBroker(-1)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("sk-ant")))

	value, err := brk.Resolve(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-ant"), value)
}

func TestResolveUsesLocator(t *testing.T) {
	brk, store := newTestBroker(-1)
	ctx := context.Background()

	// Stored under the binding's path, not the logical name.
	require.NoError(t, store.Set(ctx, "pg-primary", []byte("hunter2")))

	value, err := brk.Resolve(ctx, "db_password")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), value)
}

func TestResolveUnsupportedBackend(t *testing.T) {
	brk, _ := newTestBroker(-1)

	_, err := brk.Resolve(context.Background(), "future_secret")
	assert.ErrorIs(t, err, backend.ErrUnsupportedBackend)
}

func TestCacheHitsSkipBackend(t *testing.T) {
	brk, store := newTestBroker(60_000)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("sk-ant")))

	for i := 0; i < 5; i++ {
		value, err := brk.Resolve(ctx, "anthropic_api_key")
		require.NoError(t, err)
		assert.Equal(t, []byte("sk-ant"), value)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.gets))
}

func TestCacheExpiry(t *testing.T) {
	brk, store := newTestBroker(40)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("sk-ant")))

	_, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&store.gets))
}

func TestSetInvalidatesCache(t *testing.T) {
	brk, store := newTestBroker(60_000)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("old")))
	value, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), value)

	require.NoError(t, brk.Set(ctx, "anthropic_api_key", []byte("new")))

	value, err = brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
}

func TestDeleteInvalidatesCache(t *testing.T) {
	brk, store := newTestBroker(60_000)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("v")))
	_, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)

	require.NoError(t, brk.Delete(ctx, "anthropic_api_key"))

	_, err = brk.Resolve(ctx, "anthropic_api_key")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestRotate(t *testing.T) {
	brk, store := newTestBroker(60_000)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("v1")))
	_, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)

	require.NoError(t, brk.Rotate(ctx, "anthropic_api_key", []byte("v2")))

	value, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func TestCallerZeroDoesNotTearCache(t *testing.T) {
	brk, store := newTestBroker(60_000)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("sk-ant")))

	first, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)
	backend.Zero(first)

	second, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-ant"), second)
}

func TestConcurrentResolve(t *testing.T) {
	brk, store := newTestBroker(60_000)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "anthropic_api_key", []byte("stable")))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := brk.Resolve(ctx, "anthropic_api_key")
			assert.NoError(t, err)
			assert.Equal(t, []byte("stable"), value)
		}()
	}
	wg.Wait()
}

func TestNoTornReadsUnderRacingSet(t *testing.T) {
	brk, store := newTestBroker(-1)
	ctx := context.Background()

	old := []byte("old-value")
	updated := []byte("new-value")
	require.NoError(t, store.Set(ctx, "anthropic_api_key", old))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = brk.Set(ctx, "anthropic_api_key", updated)
	}()

	for i := 0; i < 50; i++ {
		value, err := brk.Resolve(ctx, "anthropic_api_key")
		require.NoError(t, err)
		if string(value) != string(old) && string(value) != string(updated) {
			t.Fatalf("torn read: %q", value)
		}
	}
	wg.Wait()
}

func TestNoTornReadsThroughWarmCache(t *testing.T) {
	brk, store := newTestBroker(60_000)
	ctx := context.Background()

	old := []byte("aaaaaaaaaaaaaaaa")
	updated := []byte("bbbbbbbbbbbbbbbb")
	require.NoError(t, store.Set(ctx, "anthropic_api_key", old))

	// Warm the cache so reads race the cache wipe, not just the store.
	_, err := brk.Resolve(ctx, "anthropic_api_key")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = brk.Set(ctx, "anthropic_api_key", updated)
			_ = brk.Set(ctx, "anthropic_api_key", old)
		}
	}()

	for stopped := false; !stopped; {
		select {
		case <-done:
			stopped = true
		default:
		}
		value, err := brk.Resolve(ctx, "anthropic_api_key")
		require.NoError(t, err)
		if !bytes.Equal(value, old) && !bytes.Equal(value, updated) {
			t.Fatalf("torn read: %q", value)
		}
	}
}

func TestCloseRacesLazyConstruction(t *testing.T) {
	desc := &config.Descriptor{
		Secrets:  map[string]config.Binding{"signing_key": {Backend: "hardware"}},
		Hardware: config.HardwareConfig{Socket: filepath.Join(t.TempDir(), "agent.sock")},
	}

	for i := 0; i < 20; i++ {
		brk := New(desc)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = brk.Backend(backend.KindHardware)
		}()
		go func() {
			defer wg.Done()
			_ = brk.Close()
		}()
		wg.Wait()
	}
}

func TestHealth(t *testing.T) {
	brk, _ := newTestBroker(-1)

	health := brk.Health(context.Background())
	assert.Equal(t, backend.StateOk, health[backend.KindKeychain].State)
	// The unknown kind is reported, not hidden.
	assert.Equal(t, backend.StateUnreachable, health[backend.Kind("quantum")].State)
}

func TestNames(t *testing.T) {
	brk, _ := newTestBroker(-1)
	assert.Equal(t, []string{"anthropic_api_key", "db_password", "future_secret"}, brk.Names())
}
