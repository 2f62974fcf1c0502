package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// RemoteOptions configures the remote vault backend.
type RemoteOptions struct {
	// BaseURL is the vault's HTTPS base, e.g. https://vault.internal.
	BaseURL string
	// Tokens supplies the bearer token for every request.
	Tokens oauth2.TokenSource
	// Timeout bounds each logical call, retries included.
	Timeout time.Duration
	// MaxRetries caps retry attempts for transient failures.
	MaxRetries uint64
	// RPS rate-limits outgoing requests client-side.
	RPS float64
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

const (
	defaultRemoteTimeout = 10 * time.Second
	defaultMaxRetries    = 3
	defaultRPS           = 10
	listPageSize         = 100
)

// Remote is the Backend adapter for an authenticated network vault.
// Transient failures (connection errors, 5xx, 429) are retried with
// exponential backoff up to MaxRetries; auth failures and other 4xx
// responses surface immediately. Every call carries a deadline.
type Remote struct {
	base    *url.URL
	http    *http.Client
	tokens  oauth2.TokenSource
	limiter *rate.Limiter

	timeout    time.Duration
	maxRetries uint64
}

// NewRemote creates a remote vault backend.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse vault URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("vault URL %q missing scheme or host", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRemoteTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RPS <= 0 {
		opts.RPS = defaultRPS
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Remote{
		base:       base,
		http:       client,
		tokens:     opts.Tokens,
		limiter:    rate.NewLimiter(rate.Limit(opts.RPS), 1),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
	}, nil
}

// secretEnvelope is the wire shape for a single secret. Value is
// base64 on the wire via encoding/json's []byte handling.
type secretEnvelope struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

type listEnvelope struct {
	Names []string `json:"names"`
	More  bool     `json:"more"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// do performs one authenticated request with rate limiting, retries and
// a per-call deadline. The returned body is fully read and the response
// closed; callers only see the bytes.
func (r *Remote) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	u := *r.base
	u.Path = joinPath(u.Path, path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var result []byte
	attempt := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("deadline: %w", ErrUnavailable))
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		tok, err := r.tokens.Token()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("vault token: %v: %w", err, ErrPermissionDenied))
		}
		tok.SetAuthHeader(req)

		resp, err := r.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("deadline: %w", ErrUnavailable))
			}
			return fmt.Errorf("request failed: %v: %w", err, ErrUnavailable)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %v: %w", err, ErrUnavailable)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			result = data
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("HTTP %d: %s: %w",
				resp.StatusCode, serverMessage(data), ErrPermissionDenied))
		case resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			return fmt.Errorf("HTTP %d: %s: %w",
				resp.StatusCode, serverMessage(data), ErrUnavailable)
		default:
			// Remaining 4xx: request the vault will never accept.
			return backoff.Permanent(fmt.Errorf("HTTP %d: %s: %w",
				resp.StatusCode, serverMessage(data), ErrPermissionDenied))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		if ctx.Err() != nil && !isContract(err) {
			return nil, fmt.Errorf("deadline: %w", ErrUnavailable)
		}
		return nil, err
	}
	return result, nil
}

func (r *Remote) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := r.do(ctx, http.MethodGet, "/v1/secrets/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vault get %s: %w", name, err)
	}
	var env secretEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("vault get %s: decode response: %w", name, err)
	}
	return env.Value, nil
}

func (r *Remote) Set(ctx context.Context, name string, value []byte) error {
	env := secretEnvelope{Name: name, Value: value}
	if _, err := r.do(ctx, http.MethodPut, "/v1/secrets/"+url.PathEscape(name), nil, env); err != nil {
		return fmt.Errorf("vault set %s: %w", name, err)
	}
	return nil
}

func (r *Remote) Delete(ctx context.Context, name string) error {
	if _, err := r.do(ctx, http.MethodDelete, "/v1/secrets/"+url.PathEscape(name), nil, nil); err != nil {
		return fmt.Errorf("vault delete %s: %w", name, err)
	}
	return nil
}

// List walks the vault's paginated index and returns one flat slice.
func (r *Remote) List(ctx context.Context) ([]string, error) {
	var names []string
	start := 0
	for {
		query := url.Values{
			"start": {strconv.Itoa(start)},
			"limit": {strconv.Itoa(listPageSize)},
		}
		data, err := r.do(ctx, http.MethodGet, "/v1/secrets", query, nil)
		if err != nil {
			return nil, fmt.Errorf("vault list: %w", err)
		}
		var page listEnvelope
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("vault list: decode response: %w", err)
		}
		names = append(names, page.Names...)
		if !page.More || len(page.Names) == 0 {
			return names, nil
		}
		start += len(page.Names)
	}
}

func (r *Remote) HealthCheck(ctx context.Context) Health {
	data, err := r.do(ctx, http.MethodGet, "/v1/health", nil, nil)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return Health{State: StateDegraded, Reason: err.Error()}
		}
		return Health{State: StateUnreachable, Reason: err.Error()}
	}
	var status struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &status); err == nil && status.Status != "" && status.Status != "ok" {
		return Health{State: StateDegraded, Reason: status.Reason}
	}
	return Health{State: StateOk}
}

// Close is a no-op; the HTTP client holds no per-vault session.
func (r *Remote) Close() error {
	r.http.CloseIdleConnections()
	return nil
}

// serverMessage extracts the vault's error string, falling back to the
// raw body. Secret values never ride in error envelopes.
func serverMessage(data []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != "" {
		return env.Error
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(bytes.TrimSpace(data))
}

func isContract(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrUnsupportedBackend)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + p
}
