// Package session implements the token lifecycle manager.
//
// Manager produces a verified identity for each guard activation, renewing
// the access token transparently. Concurrent activations that observe the
// same rejected access token share a single renewal request.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/quickfood/quickfood-go/audit"
	"github.com/quickfood/quickfood-go/metrics"
	"github.com/quickfood/quickfood-go/rolegate"
)

const renewKey = "renew"

// Manager implements quickfood.Authenticator on top of a credential store
// and the remote identity API.
type Manager struct {
	store   quickfood.CredentialStore
	api     quickfood.IdentityAPI
	cfg     quickfood.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
	now     func() time.Time

	sf singleflight.Group

	// commitMu serializes read-compare-write sequences on the store so a
	// renewal or identity write never lands on a session replaced meanwhile.
	commitMu sync.Mutex
}

// compile-time check
var _ quickfood.Authenticator = (*Manager)(nil)

// Option configures the Manager.
type Option func(*Manager)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithAuditLogger sets the audit logger for session events.
func WithAuditLogger(l *audit.Logger) Option {
	return func(mgr *Manager) { mgr.audit = l }
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// New creates a Manager using the client's store, API, config and logger.
func New(client *quickfood.Client, opts ...Option) *Manager {
	m := &Manager{
		store:  client.Store(),
		api:    client.API(),
		cfg:    client.Config(),
		logger: client.Logger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Store returns the credential store the manager writes to.
func (m *Manager) Store() quickfood.CredentialStore { return m.store }

// EnsureAuthenticated verifies the stored access token with the server,
// renewing it at most once, and caches the returned identity.
//
// It never returns a transport error: failures are folded into
// StatusUnauthenticated (credential is definitely unusable) or
// StatusIndeterminate (a transient fault; the store is left untouched).
func (m *Manager) EnsureAuthenticated(ctx context.Context) quickfood.AuthResult {
	res := m.ensure(ctx)
	m.metrics.RecordAuthOutcome(res.Status.String())
	return res
}

func (m *Manager) ensure(ctx context.Context) quickfood.AuthResult {
	log := m.log(ctx)

	sess, err := m.store.Load(ctx)
	if err != nil {
		log.Warn("credential store read failed", slog.Any("error", err))
		return indeterminate()
	}
	if !sess.Authenticated() {
		return unauthenticated()
	}

	access := sess.AccessToken
	if sess.RefreshToken != "" && m.presumablyExpired(access) {
		log.Debug("access token past exp, renewing before fetch")
	} else {
		id, err := m.fetch(ctx, access)
		switch {
		case err == nil:
			return m.accept(ctx, access, id)
		case !errors.Is(err, quickfood.ErrUnauthenticated):
			log.Warn("identity fetch failed", slog.Any("error", err))
			return indeterminate()
		}
	}

	renewed, err := m.renew(ctx, access)
	switch {
	case err == nil:
	case errors.Is(err, quickfood.ErrRefreshRejected), errors.Is(err, quickfood.ErrUnauthenticated):
		return unauthenticated()
	default:
		log.Warn("token renewal failed", slog.Any("error", err))
		return indeterminate()
	}

	// One retry with the renewed token; a second rejection is final.
	id, err := m.fetch(ctx, renewed)
	switch {
	case err == nil:
		return m.accept(ctx, renewed, id)
	case errors.Is(err, quickfood.ErrUnauthenticated):
		m.forceLogout(ctx, renewed, "renewed access token rejected")
		return unauthenticated()
	default:
		log.Warn("identity fetch after renewal failed", slog.Any("error", err))
		return indeterminate()
	}
}

// fetch calls the identity endpoint under the request timeout.
func (m *Manager) fetch(ctx context.Context, access string) (quickfood.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	id, err := m.api.FetchCurrentIdentity(ctx, access)
	switch {
	case err == nil:
		m.metrics.RecordIdentityFetch("ok")
	case errors.Is(err, quickfood.ErrUnauthenticated):
		m.metrics.RecordIdentityFetch("rejected")
	default:
		m.metrics.RecordIdentityFetch("network")
	}
	return id, err
}

// accept caches a verified identity. The write is skipped when the stored
// access token changed while the fetch was in flight, so a snapshot never
// lands next to a credential it does not belong to.
func (m *Manager) accept(ctx context.Context, access string, id quickfood.Identity) quickfood.AuthResult {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	sess, err := m.store.Load(ctx)
	if err != nil {
		m.log(ctx).Warn("credential store read failed", slog.Any("error", err))
		return authenticated(id)
	}
	switch {
	case !sess.Authenticated():
		// Logged out while the fetch was in flight.
		return unauthenticated()
	case sess.AccessToken != access:
		return authenticated(id)
	}
	if err := m.store.SetIdentity(ctx, id); err != nil {
		m.log(ctx).Warn("caching identity failed", slog.Any("error", err))
	}
	return authenticated(id)
}

// renew returns a usable access token to replace rejected. Callers that
// arrive while a renewal is in flight wait for it instead of issuing their
// own request. A caller whose ctx ends stops waiting; the flight continues.
func (m *Manager) renew(ctx context.Context, rejected string) (string, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := m.sf.DoChan(renewKey, func() (interface{}, error) {
		return m.renewOnce(flightCtx, rejected)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("quickfood/session: %w: %v", quickfood.ErrNetwork, ctx.Err())
	}
}

func (m *Manager) renewOnce(ctx context.Context, rejected string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RenewTimeout)
	defer cancel()

	sess, err := m.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("quickfood/session: %w: %v", quickfood.ErrNetwork, err)
	}
	switch {
	case !sess.Authenticated():
		// Cleared by a logout or an earlier forced logout.
		return "", fmt.Errorf("quickfood/session: %w", quickfood.ErrUnauthenticated)
	case sess.AccessToken != rejected:
		// An earlier renewal (or a new login) already replaced the token.
		m.metrics.RecordRenewal("reused")
		return sess.AccessToken, nil
	case sess.RefreshToken == "":
		m.metrics.RecordRenewal("rejected")
		m.forceLogout(ctx, rejected, "no refresh token")
		return "", fmt.Errorf("quickfood/session: %w: no refresh token", quickfood.ErrRefreshRejected)
	}

	access, err := m.api.Renew(ctx, sess.RefreshToken)
	switch {
	case err == nil:
	case errors.Is(err, quickfood.ErrRefreshRejected):
		m.metrics.RecordRenewal("rejected")
		m.forceLogout(ctx, rejected, err.Error())
		return "", fmt.Errorf("quickfood/session: %w", err)
	default:
		m.metrics.RecordRenewal("network")
		m.audit.Log(audit.Event{
			ActivationID: quickfood.ActivationIDFromContext(ctx),
			Action:       audit.ActionRenewal,
			Result:       audit.ResultFailure,
			Error:        err.Error(),
		})
		if !errors.Is(err, quickfood.ErrNetwork) {
			err = fmt.Errorf("%w: %v", quickfood.ErrNetwork, err)
		}
		return "", fmt.Errorf("quickfood/session: %w", err)
	}

	stored, err := m.commitRenewal(ctx, rejected, access)
	if err != nil {
		return "", err
	}
	if stored != access {
		// A login or logout replaced the session while the request was out.
		m.metrics.RecordRenewal("discarded")
		if stored == "" {
			return "", fmt.Errorf("quickfood/session: %w", quickfood.ErrUnauthenticated)
		}
		return stored, nil
	}
	m.metrics.RecordRenewal("success")
	m.audit.Log(audit.Event{
		ActivationID: quickfood.ActivationIDFromContext(ctx),
		Action:       audit.ActionRenewal,
		Result:       audit.ResultSuccess,
	})
	m.log(ctx).Info("access token renewed")
	return access, nil
}

// commitRenewal stores renewed only if the store still holds rejected, and
// returns the access token the store holds afterwards.
func (m *Manager) commitRenewal(ctx context.Context, rejected, renewed string) (string, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	sess, err := m.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("quickfood/session: %w: %v", quickfood.ErrNetwork, err)
	}
	if sess.AccessToken != rejected {
		return sess.AccessToken, nil
	}
	if err := m.store.SetAccessToken(ctx, renewed); err != nil {
		return "", fmt.Errorf("quickfood/session: %w: store renewed token: %v", quickfood.ErrNetwork, err)
	}
	return renewed, nil
}

// forceLogout clears the store if it still holds the access token that
// proved unusable.
func (m *Manager) forceLogout(ctx context.Context, access, reason string) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	sess, err := m.store.Load(ctx)
	if err != nil {
		m.log(ctx).Error("forced logout: credential store read failed", slog.Any("error", err))
		return
	}
	if sess.AccessToken != access {
		return
	}
	if err := m.store.Clear(ctx); err != nil {
		m.log(ctx).Error("forced logout: clearing credentials failed", slog.Any("error", err))
		return
	}

	ev := audit.Event{
		ActivationID: quickfood.ActivationIDFromContext(ctx),
		Action:       audit.ActionForcedLogout,
		Result:       audit.ResultSuccess,
		Details:      reason,
	}
	if sess.Identity != nil {
		ev.UserID, ev.Email = sess.Identity.ID, sess.Identity.Email
	}
	m.audit.Log(ev)
	m.metrics.RecordSessionEvent("forced_logout")
	m.log(ctx).Info("forced logout", slog.String("reason", reason))
}

// presumablyExpired reports whether access is a JWT whose exp claim has
// passed. Opaque tokens are never presumed expired.
func (m *Manager) presumablyExpired(access string) bool {
	claims, ok := parseClaims(access)
	if !ok {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !m.now().Before(exp.Time.Add(-m.cfg.TokenExpirySkew))
}

// --- login, registration, logout, deposit ---

// Login authenticates with email and password and stores the new credential,
// replacing any previous session. When the access token carries identity
// claims they seed the cached identity until the next verified fetch.
func (m *Manager) Login(ctx context.Context, email, password string) (*quickfood.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("quickfood/session: %w: email and password are required", quickfood.ErrValidation)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	cred, err := m.api.Login(reqCtx, email, password)
	if err != nil {
		m.audit.Log(audit.Event{Action: audit.ActionLogin, Result: audit.ResultFailure, Email: email, Error: err.Error()})
		return nil, fmt.Errorf("quickfood/session: login: %w", err)
	}

	seeded, err := m.replaceSession(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("quickfood/session: login: %w", err)
	}

	ev := audit.Event{Action: audit.ActionLogin, Result: audit.ResultSuccess, Email: email}
	if seeded != nil {
		ev.UserID = seeded.ID
	}
	m.audit.Log(ev)
	m.metrics.RecordSessionEvent("login")
	return seeded, nil
}

// replaceSession swaps in cred and the identity its claims carry.
func (m *Manager) replaceSession(ctx context.Context, cred quickfood.Credential) (*quickfood.Identity, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return nil, err
	}
	if err := m.store.SetCredential(ctx, cred); err != nil {
		return nil, err
	}
	id, ok := identityFromClaims(cred.AccessToken)
	if !ok {
		return nil, nil
	}
	if err := m.store.SetIdentity(ctx, id); err != nil {
		m.log(ctx).Warn("seeding identity failed", slog.Any("error", err))
		return nil, nil
	}
	return &id, nil
}

// Register creates an account. It does not log in.
func (m *Manager) Register(ctx context.Context, req quickfood.RegisterRequest) error {
	switch {
	case req.Username == "" || req.Email == "" || req.Password == "":
		return fmt.Errorf("quickfood/session: %w: all fields are required", quickfood.ErrValidation)
	case strings.ContainsAny(req.Username, " \t\n"):
		return fmt.Errorf("quickfood/session: %w: username cannot contain spaces", quickfood.ErrValidation)
	case !req.Role.Valid():
		return fmt.Errorf("quickfood/session: %w: unknown role %q", quickfood.ErrValidation, req.Role)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	if err := m.api.Register(reqCtx, req); err != nil {
		m.audit.Log(audit.Event{Action: audit.ActionRegister, Result: audit.ResultFailure, Email: req.Email, Error: err.Error()})
		return fmt.Errorf("quickfood/session: register: %w", err)
	}
	m.audit.Log(audit.Event{Action: audit.ActionRegister, Result: audit.ResultSuccess, Email: req.Email, Details: string(req.Role)})
	return nil
}

// Logout erases the credential and the cached identity.
func (m *Manager) Logout(ctx context.Context) error {
	m.commitMu.Lock()
	sess, _ := m.store.Load(ctx)
	err := m.store.Clear(ctx)
	m.commitMu.Unlock()
	if err != nil {
		return fmt.Errorf("quickfood/session: logout: %w", err)
	}

	ev := audit.Event{Action: audit.ActionLogout, Result: audit.ResultSuccess}
	if sess.Identity != nil {
		ev.UserID, ev.Email = sess.Identity.ID, sess.Identity.Email
	}
	m.audit.Log(ev)
	m.metrics.RecordSessionEvent("logout")
	return nil
}

// Current returns the cached identity, or nil when there is no access token.
// It performs no network call and the result may be stale.
func (m *Manager) Current(ctx context.Context) (*quickfood.Identity, error) {
	sess, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("quickfood/session: %w", err)
	}
	return sess.CachedIdentity(), nil
}

// Deposit adds amount to the caller's balance and updates the cached
// identity with the balance the server reports.
func (m *Manager) Deposit(ctx context.Context, amount int64) (*quickfood.Identity, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("quickfood/session: %w: deposit amount must be a positive integer", quickfood.ErrValidation)
	}

	id, err := m.verified(ctx)
	if err != nil {
		return nil, fmt.Errorf("quickfood/session: deposit: %w", err)
	}
	if !rolegate.Allows(id.Role, rolegate.Deposit) {
		return nil, fmt.Errorf("quickfood/session: deposit: %w", quickfood.ErrUnauthorized)
	}

	sess, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("quickfood/session: deposit: %w", err)
	}
	if !sess.Authenticated() {
		return nil, fmt.Errorf("quickfood/session: deposit: %w", quickfood.ErrUnauthenticated)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	balance, err := m.api.Deposit(reqCtx, sess.AccessToken, id.ID, amount)
	if err != nil {
		m.audit.Log(audit.Event{Action: audit.ActionDeposit, Result: audit.ResultFailure, UserID: id.ID, Error: err.Error()})
		return nil, fmt.Errorf("quickfood/session: deposit: %w", err)
	}

	id.Balance = balance
	if err := m.store.SetIdentity(ctx, id); err != nil {
		m.log(ctx).Warn("caching balance failed", slog.Any("error", err))
	}
	m.audit.Log(audit.Event{
		Action:  audit.ActionDeposit,
		Result:  audit.ResultSuccess,
		UserID:  id.ID,
		Details: fmt.Sprintf("amount=%d", amount),
	})
	return &id, nil
}

// verified returns the identity a guard already verified for this request,
// or runs a fresh check when ctx carries none.
func (m *Manager) verified(ctx context.Context) (quickfood.Identity, error) {
	if id := quickfood.IdentityFromContext(ctx); id != nil {
		return *id, nil
	}
	res := m.EnsureAuthenticated(ctx)
	switch res.Status {
	case quickfood.StatusAuthenticated:
		return *res.Identity, nil
	case quickfood.StatusIndeterminate:
		return quickfood.Identity{}, quickfood.ErrNetwork
	default:
		return quickfood.Identity{}, quickfood.ErrUnauthenticated
	}
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	if id := quickfood.ActivationIDFromContext(ctx); id != "" {
		return m.logger.With(slog.String("activation_id", id))
	}
	return m.logger
}

func authenticated(id quickfood.Identity) quickfood.AuthResult {
	return quickfood.AuthResult{Status: quickfood.StatusAuthenticated, Identity: &id}
}

func unauthenticated() quickfood.AuthResult {
	return quickfood.AuthResult{Status: quickfood.StatusUnauthenticated}
}

func indeterminate() quickfood.AuthResult {
	return quickfood.AuthResult{Status: quickfood.StatusIndeterminate}
}
