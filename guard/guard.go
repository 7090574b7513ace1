// Package guard implements route authorization for protected and
// public-only views.
//
// A Guard turns the session manager's verdict into a navigation decision.
// A Router scopes each guard activation to one navigation so that a check
// overtaken by a later navigation never fires its redirect.
package guard

import (
	"context"
	"log/slog"
	"time"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/quickfood/quickfood-go/audit"
	"github.com/quickfood/quickfood-go/metrics"
)

// Default redirect targets.
const (
	DefaultLoginPath        = "/login"
	DefaultUnauthorizedPath = "/unauthorized"
	DefaultHomePath         = "/"
)

// Decision is the outcome of one guard activation.
type Decision int

const (
	Allow Decision = iota
	RedirectUnauthenticated
	RedirectUnauthorized
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectUnauthenticated:
		return "redirect_unauthenticated"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	default:
		return "unknown"
	}
}

// Result is returned by Check.
type Result struct {
	Decision Decision

	// Identity is the identity the decision was made for. Nil when the
	// caller is unauthenticated.
	Identity *quickfood.Identity

	// Stale is true when the identity is the cached snapshot because the
	// server could not be reached. Views should avoid acting on it.
	Stale bool
}

// Guard wraps a protected view with an optional set of allowed roles.
type Guard struct {
	auth    quickfood.Authenticator
	store   quickfood.CredentialStore
	roles   map[quickfood.Role]bool
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger

	resource         string
	loginPath        string
	unauthorizedPath string
}

// Option configures a Guard.
type Option func(*Guard)

// WithRoles restricts the view to the given roles. Without it any
// authenticated role is allowed.
func WithRoles(roles ...quickfood.Role) Option {
	return func(g *Guard) {
		if g.roles == nil {
			g.roles = make(map[quickfood.Role]bool, len(roles))
		}
		for _, r := range roles {
			g.roles[r] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithAuditLogger records denied navigations.
func WithAuditLogger(l *audit.Logger) Option {
	return func(g *Guard) { g.audit = l }
}

// WithResource names the guarded view in logs and audit events.
func WithResource(name string) Option {
	return func(g *Guard) { g.resource = name }
}

// WithLoginPath overrides the redirect target for unauthenticated callers.
func WithLoginPath(p string) Option {
	return func(g *Guard) { g.loginPath = p }
}

// WithUnauthorizedPath overrides the redirect target for disallowed roles.
func WithUnauthorizedPath(p string) Option {
	return func(g *Guard) { g.unauthorizedPath = p }
}

// New creates a Guard. The store is read only when the server cannot be
// reached, to fall back on the cached identity.
func New(auth quickfood.Authenticator, store quickfood.CredentialStore, opts ...Option) *Guard {
	g := &Guard{
		auth:             auth,
		store:            store,
		logger:           slog.Default(),
		loginPath:        DefaultLoginPath,
		unauthorizedPath: DefaultUnauthorizedPath,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check runs one activation: it asks the authenticator for a verdict and
// applies the role restriction. It makes exactly one EnsureAuthenticated call.
func (g *Guard) Check(ctx context.Context) Result {
	start := time.Now()
	res := g.decide(ctx)
	g.metrics.RecordGuardDecision(res.Decision.String(), time.Since(start).Seconds())

	if res.Decision != Allow {
		ev := audit.Event{
			ActivationID: quickfood.ActivationIDFromContext(ctx),
			Action:       audit.ActionNavigation,
			Resource:     g.resource,
			Result:       audit.ResultDenied,
			Details:      res.Decision.String(),
		}
		if res.Identity != nil {
			ev.UserID, ev.Email = res.Identity.ID, res.Identity.Email
		}
		g.audit.Log(ev)
	}
	return res
}

func (g *Guard) decide(ctx context.Context) Result {
	ar := g.auth.EnsureAuthenticated(ctx)

	var res Result
	switch ar.Status {
	case quickfood.StatusAuthenticated:
		res.Identity = ar.Identity
	case quickfood.StatusIndeterminate:
		// Optimistic continuation only on a previously verified snapshot.
		sess, err := g.store.Load(ctx)
		if err != nil {
			g.logger.Warn("guard: credential store read failed", slog.Any("error", err))
			return Result{Decision: RedirectUnauthenticated}
		}
		res.Identity = sess.CachedIdentity()
		if res.Identity == nil {
			return Result{Decision: RedirectUnauthenticated}
		}
		res.Stale = true
	default:
		return Result{Decision: RedirectUnauthenticated}
	}

	if !g.permits(res.Identity.Role) {
		res.Decision = RedirectUnauthorized
		return res
	}
	res.Decision = Allow
	return res
}

func (g *Guard) permits(role quickfood.Role) bool {
	return g.roles == nil || g.roles[role]
}

// RedirectPath returns where d sends the caller, or "" for Allow.
func (g *Guard) RedirectPath(d Decision) string {
	switch d {
	case RedirectUnauthenticated:
		return g.loginPath
	case RedirectUnauthorized:
		return g.unauthorizedPath
	default:
		return ""
	}
}

// Resource returns the name set with WithResource.
func (g *Guard) Resource() string { return g.resource }
