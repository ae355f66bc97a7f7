package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bizpos/tenantguard/pkg/statemachine"
)

// Restorer rebuilds a previously established session, typically from a
// stored credential.
type Restorer interface {
	Restore(ctx context.Context) (*Session, error)
}

// RestoreFunc adapts a function to Restorer.
type RestoreFunc func(ctx context.Context) (*Session, error)

func (f RestoreFunc) Restore(ctx context.Context) (*Session, error) { return f(ctx) }

// Holder owns the current session of one client and its readiness.
//
// Readiness starts uninitialized, becomes loading when Restore begins and
// ready exactly once when it ends, whatever the outcome. Every sign-in or
// sign-out bumps a generation counter; a restore that finishes after the
// generation moved is discarded so it cannot resurrect a signed-out user.
type Holder struct {
	mu         sync.RWMutex
	session    *Session
	generation uint64
	onSignOut  []func(context.Context)

	readiness     *statemachine.Machine[Readiness, readinessEvent]
	store         Store
	now           func() time.Time
	log           *slog.Logger
	retryAttempts uint64
	retryBase     time.Duration
}

type HolderOption func(*Holder)

// WithStore makes SignOut revoke the token in store.
func WithStore(s Store) HolderOption {
	return func(h *Holder) { h.store = s }
}

func WithClock(now func() time.Time) HolderOption {
	return func(h *Holder) {
		if now != nil {
			h.now = now
		}
	}
}

func WithLogger(l *slog.Logger) HolderOption {
	return func(h *Holder) {
		if l != nil {
			h.log = l
		}
	}
}

// WithRestoreRetry bounds the retries of connectivity failures during restore.
func WithRestoreRetry(attempts uint64, base time.Duration) HolderOption {
	return func(h *Holder) {
		h.retryAttempts = attempts
		if base > 0 {
			h.retryBase = base
		}
	}
}

func NewHolder(opts ...HolderOption) *Holder {
	h := &Holder{
		readiness:     newReadiness(),
		now:           time.Now,
		log:           slog.Default(),
		retryAttempts: 3,
		retryBase:     200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Holder) Readiness() Readiness {
	return h.readiness.Current()
}

// CurrentUser returns a copy of the signed-in user, or nil when there is no
// live session.
func (h *Holder) CurrentUser() *User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session.IsExpired(h.now()) {
		return nil
	}
	return h.session.User.Clone()
}

// Session returns a copy of the live session, or nil.
func (h *Holder) Session() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session.IsExpired(h.now()) {
		return nil
	}
	return h.session.Clone()
}

// IsAuthenticated reports whether a non-expired session is held.
func (h *Holder) IsAuthenticated() bool {
	return h.CurrentUser() != nil
}

// OnSignOut registers a hook run after the user is cleared.
func (h *Holder) OnSignOut(fn func(context.Context)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSignOut = append(h.onSignOut, fn)
}

// Restore runs the one-shot session restore. Connectivity failures are
// retried with exponential backoff; any other failure is definitive. The
// holder is ready when Restore returns, and the returned error only
// describes why no session was restored.
func (h *Holder) Restore(ctx context.Context, r Restorer) error {
	if err := h.readiness.Fire(ctx, eventRestoreBegin); err != nil {
		return ErrRestoreStarted
	}
	defer func() {
		// Loading -> ready happens exactly once and never depends on ctx.
		_ = h.readiness.Fire(context.WithoutCancel(ctx), eventRestoreComplete)
	}()

	h.mu.RLock()
	gen := h.generation
	h.mu.RUnlock()

	sess, err := h.restoreWithRetry(ctx, r)
	if err == nil {
		err = sess.Validate()
	}
	if err == nil && sess.IsExpired(h.now()) {
		err = ErrSessionExpired
	}
	if err != nil {
		h.log.InfoContext(ctx, "session restore finished without a session", "error", err)
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generation != gen {
		return ErrRestoreSuperseded
	}
	h.session = sess.Clone()
	return nil
}

func (h *Holder) restoreWithRetry(ctx context.Context, r Restorer) (*Session, error) {
	if r == nil {
		return nil, ErrSessionNotFound
	}

	var sess *Session
	backoff := retry.WithMaxRetries(h.retryAttempts, retry.NewExponential(h.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := r.Restore(ctx)
		if err != nil {
			if errors.Is(err, ErrConnectivity) {
				h.log.WarnContext(ctx, "session restore retry", "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		sess = s
		return nil
	})
	return sess, err
}

// SignIn installs a freshly established session.
func (h *Holder) SignIn(ctx context.Context, s *Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.IsExpired(h.now()) {
		return ErrSessionExpired
	}

	h.mu.Lock()
	h.session = s.Clone()
	h.generation++
	h.mu.Unlock()

	if h.readiness.Is(Uninitialized) {
		_ = h.readiness.Fire(ctx, eventSignedIn)
	}
	return nil
}

// SignOut clears the user, supersedes any in-flight restore, revokes the
// token and runs the sign-out hooks.
func (h *Holder) SignOut(ctx context.Context) error {
	h.mu.Lock()
	prev := h.session
	h.session = nil
	h.generation++
	hooks := append([]func(context.Context){}, h.onSignOut...)
	h.mu.Unlock()

	var err error
	if prev != nil && h.store != nil {
		if err = h.store.Delete(ctx, prev.Token); err != nil {
			h.log.ErrorContext(ctx, "failed to revoke session", "error", err)
		}
	}
	for _, fn := range hooks {
		fn(ctx)
	}
	return err
}
