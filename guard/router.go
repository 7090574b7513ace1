package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	quickfood "github.com/quickfood/quickfood-go"
)

// Navigator performs redirects. Replace must not add a history entry.
type Navigator interface {
	Replace(path string)
}

// State is the lifecycle of one Activation.
type State int

const (
	StateUnchecked State = iota
	StateChecking
	StateAllowed
	StateRedirectLogin
	StateRedirectUnauthorized
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateChecking:
		return "checking"
	case StateAllowed:
		return "allowed"
	case StateRedirectLogin:
		return "redirect_login"
	case StateRedirectUnauthorized:
		return "redirect_unauthorized"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Router tracks the current navigation. Starting a navigation cancels the
// previous one and drops any redirect its activations would still fire.
type Router struct {
	nav    Navigator
	logger *slog.Logger

	mu      sync.Mutex
	current *Navigation
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router that redirects through nav.
func NewRouter(nav Navigator, opts ...RouterOption) *Router {
	r := &Router{nav: nav, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Navigate makes path the current navigation and cancels the previous one.
func (r *Router) Navigate(ctx context.Context, path string) *Navigation {
	n := r.newNavigation(ctx, path)

	r.mu.Lock()
	prev := r.current
	r.current = n
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return n
}

// Current returns the current navigation, or nil before the first one.
func (r *Router) Current() *Navigation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Router) newNavigation(ctx context.Context, path string) *Navigation {
	ctx, cancel := context.WithCancel(ctx)
	return &Navigation{router: r, path: path, ctx: ctx, cancel: cancel}
}

// redirect replaces from with a navigation to path, unless from is no longer
// current. The swap and the check happen under one lock so a stale
// activation can never redirect.
func (r *Router) redirect(from *Navigation, path string) bool {
	r.mu.Lock()
	if r.current != from {
		r.mu.Unlock()
		return false
	}
	r.current = r.newNavigation(context.WithoutCancel(from.ctx), path)
	r.mu.Unlock()

	from.cancel()
	r.nav.Replace(path)
	return true
}

// Navigation is one visit to a path. Its context is cancelled when a later
// navigation supersedes it.
type Navigation struct {
	router *Router
	path   string
	ctx    context.Context
	cancel context.CancelFunc
}

// Path returns the navigated path.
func (n *Navigation) Path() string { return n.path }

// Context returns the navigation-scoped context.
func (n *Navigation) Context() context.Context { return n.ctx }

// IsCurrent reports whether no later navigation has happened.
func (n *Navigation) IsCurrent() bool {
	n.router.mu.Lock()
	defer n.router.mu.Unlock()
	return n.router.current == n
}

// Mount starts one activation of g for this navigation.
func (n *Navigation) Mount(g *Guard) *Activation {
	a := &Activation{
		id:    uuid.NewString(),
		nav:   n,
		guard: g,
		done:  make(chan struct{}),
		state: StateChecking,
	}
	go a.run(quickfood.WithActivationID(n.ctx, a.id))
	return a
}

// MountPublicOnly applies the identity-gated redirect to this navigation.
// It redirects to home when an access token is present.
func (n *Navigation) MountPublicOnly(store quickfood.CredentialStore, home string) (redirected bool, err error) {
	redirect, err := PublicOnly(n.ctx, store)
	if err != nil || !redirect {
		return false, err
	}
	return n.router.redirect(n, home), nil
}

// Activation is one guard evaluation for one navigation.
type Activation struct {
	id    string
	nav   *Navigation
	guard *Guard
	done  chan struct{}

	mu     sync.Mutex
	state  State
	result Result
}

// ID returns the activation id used in logs and audit events.
func (a *Activation) ID() string { return a.id }

// State returns the current state.
func (a *Activation) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done is closed when the activation reaches a final state.
func (a *Activation) Done() <-chan struct{} { return a.done }

// Wait blocks until the activation settles and returns its result and
// final state.
func (a *Activation) Wait(ctx context.Context) (Result, State, error) {
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.result, a.state, nil
	case <-ctx.Done():
		return Result{}, a.State(), fmt.Errorf("quickfood/guard: activation %s: %w", a.id, ctx.Err())
	}
}

func (a *Activation) run(ctx context.Context) {
	defer close(a.done)

	if ctx.Err() != nil {
		a.settle(Result{Decision: RedirectUnauthenticated}, StateSuperseded)
		return
	}

	res := a.guard.Check(ctx)

	state := StateAllowed
	if res.Decision != Allow {
		path := a.guard.RedirectPath(res.Decision)
		if !a.nav.router.redirect(a.nav, path) {
			state = StateSuperseded
		} else if res.Decision == RedirectUnauthenticated {
			state = StateRedirectLogin
		} else {
			state = StateRedirectUnauthorized
		}
	} else if !a.nav.IsCurrent() {
		state = StateSuperseded
	}

	if state == StateSuperseded {
		a.nav.router.logger.Debug("guard: dropping superseded activation",
			slog.String("activation_id", a.id),
			slog.String("path", a.nav.path),
			slog.String("decision", res.Decision.String()))
	}
	a.settle(res, state)
}

func (a *Activation) settle(res Result, state State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result = res
	a.state = state
}
