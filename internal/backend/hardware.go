package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SecureElement opens sessions against a hardware secure element. The
// element's authentication/attestation handshake happens inside Open;
// driver internals stay behind this boundary.
type SecureElement interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one established secure-element session. Sessions are not
// safe for concurrent use; the Hardware backend serializes access.
type Session interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, value []byte) error
	Delete(ctx context.Context, id string) error
	Keys(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// HardwareOptions configures session handling for the hardware backend.
// Zero fields take the defaults below.
type HardwareOptions struct {
	// DialTimeout bounds session establishment. An absent or locked
	// element surfaces as ErrUnavailable within this window.
	DialTimeout time.Duration
	// QueueWait bounds how long a caller waits for the single
	// in-flight transaction slot before giving up.
	QueueWait time.Duration
	// IdleRelease closes the session after this much inactivity.
	IdleRelease time.Duration
}

const (
	defaultDialTimeout = 5 * time.Second
	defaultQueueWait   = 2 * time.Second
	defaultIdleRelease = 60 * time.Second
)

// Hardware wraps a secure element behind the Backend contract. The
// session is acquired lazily on first use, held for the backend's
// lifetime, and released after an idle timeout or on Close. Only one
// transaction is in flight at a time; additional callers queue up to
// QueueWait and then receive ErrUnavailable.
type Hardware struct {
	element SecureElement
	opts    HardwareOptions

	// slot is the single-transaction semaphore. sess and idle are only
	// touched while holding the slot.
	slot chan struct{}
	sess Session
	idle *time.Timer
}

// NewHardware creates a hardware backend over the given element.
func NewHardware(element SecureElement, opts HardwareOptions) *Hardware {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = defaultQueueWait
	}
	if opts.IdleRelease <= 0 {
		opts.IdleRelease = defaultIdleRelease
	}
	return &Hardware{
		element: element,
		opts:    opts,
		slot:    make(chan struct{}, 1),
	}
}

// acquire takes the transaction slot and returns an established
// session plus a release func. The release schedules the idle timer.
func (h *Hardware) acquire(ctx context.Context) (Session, func(), error) {
	wait := time.NewTimer(h.opts.QueueWait)
	defer wait.Stop()

	select {
	case h.slot <- struct{}{}:
	case <-wait.C:
		return nil, nil, fmt.Errorf("secure element busy: %w", ErrUnavailable)
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("secure element wait: %v: %w", ctx.Err(), ErrUnavailable)
	}

	if h.idle != nil {
		h.idle.Stop()
		h.idle = nil
	}

	if h.sess == nil {
		dialCtx, cancel := context.WithTimeout(ctx, h.opts.DialTimeout)
		sess, err := h.element.Open(dialCtx)
		cancel()
		if err != nil {
			<-h.slot
			return nil, nil, fmt.Errorf("secure element open: %w", asContract(err))
		}
		h.sess = sess
	}

	release := func() {
		h.idle = time.AfterFunc(h.opts.IdleRelease, h.releaseIdle)
		<-h.slot
	}
	return h.sess, release, nil
}

// releaseIdle closes the session if the element has been quiet for the
// idle window. Skips silently if a transaction is in flight.
func (h *Hardware) releaseIdle() {
	select {
	case h.slot <- struct{}{}:
	default:
		return
	}
	if h.sess != nil {
		_ = h.sess.Close()
		h.sess = nil
	}
	<-h.slot
}

// dropSession closes the current session so the next call re-opens.
// Called with the slot held, after a transport-level failure.
func (h *Hardware) dropSession() {
	if h.sess != nil {
		_ = h.sess.Close()
		h.sess = nil
	}
}

func (h *Hardware) Get(ctx context.Context, name string) ([]byte, error) {
	sess, release, err := h.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("hardware get %s: %w", name, err)
	}
	defer release()

	value, err := sess.Get(ctx, name)
	if err != nil {
		err = asContract(err)
		if errors.Is(err, ErrUnavailable) {
			h.dropSession()
		}
		return nil, fmt.Errorf("hardware get %s: %w", name, err)
	}
	return value, nil
}

func (h *Hardware) Set(ctx context.Context, name string, value []byte) error {
	sess, release, err := h.acquire(ctx)
	if err != nil {
		return fmt.Errorf("hardware set %s: %w", name, err)
	}
	defer release()

	if err := sess.Put(ctx, name, value); err != nil {
		err = asContract(err)
		if errors.Is(err, ErrUnavailable) {
			h.dropSession()
		}
		return fmt.Errorf("hardware set %s: %w", name, err)
	}
	return nil
}

func (h *Hardware) Delete(ctx context.Context, name string) error {
	sess, release, err := h.acquire(ctx)
	if err != nil {
		return fmt.Errorf("hardware delete %s: %w", name, err)
	}
	defer release()

	if err := sess.Delete(ctx, name); err != nil {
		err = asContract(err)
		if errors.Is(err, ErrUnavailable) {
			h.dropSession()
		}
		return fmt.Errorf("hardware delete %s: %w", name, err)
	}
	return nil
}

func (h *Hardware) List(ctx context.Context) ([]string, error) {
	sess, release, err := h.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("hardware list: %w", err)
	}
	defer release()

	keys, err := sess.Keys(ctx)
	if err != nil {
		err = asContract(err)
		if errors.Is(err, ErrUnavailable) {
			h.dropSession()
		}
		return nil, fmt.Errorf("hardware list: %w", err)
	}
	return keys, nil
}

func (h *Hardware) HealthCheck(ctx context.Context) Health {
	sess, release, err := h.acquire(ctx)
	if err != nil {
		return Health{State: StateUnreachable, Reason: err.Error()}
	}
	defer release()

	if err := sess.Ping(ctx); err != nil {
		h.dropSession()
		return Health{State: StateDegraded, Reason: err.Error()}
	}
	return Health{State: StateOk}
}

// Close releases the session. The backend is unusable afterwards only
// in the sense that the next call re-opens a session.
func (h *Hardware) Close() error {
	h.slot <- struct{}{}
	defer func() { <-h.slot }()

	if h.idle != nil {
		h.idle.Stop()
		h.idle = nil
	}
	if h.sess != nil {
		err := h.sess.Close()
		h.sess = nil
		return err
	}
	return nil
}

// asContract coerces an arbitrary driver error into the closed set.
// Sentinels pass through; anything else is a transport failure.
func asContract(err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
}
