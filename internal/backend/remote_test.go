package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testTokens() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
}

func newTestRemote(t *testing.T, handler http.Handler, opts RemoteOptions) (*Remote, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	if opts.Tokens == nil {
		opts.Tokens = testTokens()
	}
	if opts.RPS == 0 {
		opts.RPS = 1000 // don't rate-limit tests
	}
	remote, err := NewRemote(opts)
	require.NoError(t, err)
	return remote, srv
}

func TestRemoteGet(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/secrets/db_password", r.URL.Path)
		json.NewEncoder(w).Encode(secretEnvelope{Name: "db_password", Value: []byte("s3cret")})
	})
	remote, _ := newTestRemote(t, handler, RemoteOptions{})

	value, err := remote.Get(context.Background(), "db_password")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), value)
}

func TestRemoteSetDelete(t *testing.T) {
	store := map[string][]byte{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/v1/secrets/"):]
		switch r.Method {
		case http.MethodPut:
			var env secretEnvelope
			require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
			store[name] = env.Value
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if _, ok := store[name]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(store, name)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			v, ok := store[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(secretEnvelope{Name: name, Value: v})
		}
	})
	remote, _ := newTestRemote(t, handler, RemoteOptions{})
	ctx := context.Background()

	require.NoError(t, remote.Set(ctx, "api_key", []byte("sk-1")))

	value, err := remote.Get(ctx, "api_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-1"), value)

	require.NoError(t, remote.Delete(ctx, "api_key"))
	err = remote.Delete(ctx, "api_key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteAuthFailureNotRetried(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(errorEnvelope{Error: "token lacks read on this path"})
	})
	remote, _ := newTestRemote(t, handler, RemoteOptions{MaxRetries: 3})

	_, err := remote.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestRemoteTransientRetried(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(secretEnvelope{Name: "k", Value: []byte("eventually")})
	})
	remote, _ := newTestRemote(t, handler, RemoteOptions{MaxRetries: 4, Timeout: 30 * time.Second})

	value, err := remote.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("eventually"), value)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRemoteRetriesExhaustedIsUnavailable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	remote, _ := newTestRemote(t, handler, RemoteOptions{MaxRetries: 1, Timeout: 30 * time.Second})

	_, err := remote.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRemoteTimeoutIsBounded(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	})
	remote, _ := newTestRemote(t, handler, RemoteOptions{Timeout: 150 * time.Millisecond})

	start := time.Now()
	_, err := remote.Get(context.Background(), "k")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, elapsed, 1*time.Second, "deadline overrun must not hang")
}

func TestRemoteListPagination(t *testing.T) {
	all := []string{"a", "b", "c", "d", "e"}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		end := start + 2
		if end > len(all) {
			end = len(all)
		}
		json.NewEncoder(w).Encode(listEnvelope{Names: all[start:end], More: end < len(all)})
	})
	remote, _ := newTestRemote(t, handler, RemoteOptions{})

	names, err := remote.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, all, names)
}

func TestRemoteHealthCheck(t *testing.T) {
	t.Run("healthy vault", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/health", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})
		remote, _ := newTestRemote(t, handler, RemoteOptions{})
		assert.Equal(t, StateOk, remote.HealthCheck(context.Background()).State)
	})

	t.Run("unreachable vault", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close() // dead endpoint
		remote, err := NewRemote(RemoteOptions{
			BaseURL: srv.URL, Tokens: testTokens(),
			Timeout: time.Second, MaxRetries: 1, RPS: 1000,
		})
		require.NoError(t, err)

		h := remote.HealthCheck(context.Background())
		assert.Equal(t, StateUnreachable, h.State)
	})
}

func TestNewRemoteRejectsBadURL(t *testing.T) {
	_, err := NewRemote(RemoteOptions{BaseURL: "not a url", Tokens: testTokens()})
	assert.Error(t, err)
}
