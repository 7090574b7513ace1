// Package fake provides an in-memory QuickFood remote API for testing.
//
// API implements quickfood.IdentityAPI directly, and Handler serves the same
// behavior over HTTP so the identity client can be exercised end to end.
// Access tokens are HS256 JWTs carrying the role, user_id, email and balance
// claims the real server issues; refresh tokens are opaque.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	quickfood "github.com/quickfood/quickfood-go"
)

var signingKey = []byte("quickfood-fake-signing-key")

// Option configures the fake API.
type Option func(*API)

type account struct {
	identity quickfood.Identity
	username string
	password string
}

// API is an in-memory remote API with call counters and failure switches.
type API struct {
	mu       sync.Mutex
	accounts map[int64]*account
	access   map[string]int64 // live access token -> user id
	refresh  map[string]int64 // live refresh token -> user id
	nextID   int64
	seq      int
	tokenTTL time.Duration

	fetchErr   error
	renewErr   error
	fetchGate  chan struct{}
	renewGate  chan struct{}
	rejectNext int // reject this many more fetches regardless of token

	loginCalls      atomic.Int32
	fetchCalls      atomic.Int32
	rejectedFetches atomic.Int32
	renewCalls      atomic.Int32
	depositCalls    atomic.Int32
}

// compile-time check
var _ quickfood.IdentityAPI = (*API)(nil)

// WithUser adds an account.
func WithUser(id int64, email, password string, role quickfood.Role, balance float64) Option {
	return func(a *API) {
		a.accounts[id] = &account{
			identity: quickfood.Identity{Role: role, ID: id, Email: email, Balance: balance},
			username: email,
			password: password,
		}
		if id >= a.nextID {
			a.nextID = id + 1
		}
	}
}

// WithTokenTTL sets the exp claim lifetime of issued access tokens.
// Default: 5 minutes.
func WithTokenTTL(d time.Duration) Option {
	return func(a *API) { a.tokenTTL = d }
}

// New creates a fake API.
func New(opts ...Option) *API {
	a := &API{
		accounts: make(map[int64]*account),
		access:   make(map[string]int64),
		refresh:  make(map[string]int64),
		nextID:   1,
		tokenTTL: 5 * time.Minute,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// --- quickfood.IdentityAPI ---

// Login issues a token pair for a matching account.
func (a *API) Login(ctx context.Context, email, password string) (quickfood.Credential, error) {
	a.loginCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, acc := range a.accounts {
		if acc.identity.Email == email && acc.password == password {
			return a.issueLocked(id, time.Now().Add(a.tokenTTL)), nil
		}
	}
	return quickfood.Credential{}, fmt.Errorf("quickfood/fake: %w", quickfood.ErrInvalidCredentials)
}

// Register creates an account. Duplicate usernames or emails conflict.
func (a *API) Register(ctx context.Context, req quickfood.RegisterRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !req.Role.Valid() {
		return fmt.Errorf("quickfood/fake: %w: unknown role %q", quickfood.ErrValidation, req.Role)
	}
	for _, acc := range a.accounts {
		if acc.username == req.Username || acc.identity.Email == req.Email {
			return fmt.Errorf("quickfood/fake: %w", quickfood.ErrConflict)
		}
	}
	id := a.nextID
	a.nextID++
	a.accounts[id] = &account{
		identity: quickfood.Identity{Role: req.Role, ID: id, Email: req.Email},
		username: req.Username,
		password: req.Password,
	}
	return nil
}

// FetchCurrentIdentity returns the account behind a live access token.
func (a *API) FetchCurrentIdentity(ctx context.Context, accessToken string) (quickfood.Identity, error) {
	a.fetchCalls.Add(1)
	if err := a.wait(ctx, a.gate(&a.fetchGate)); err != nil {
		return quickfood.Identity{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fetchErr != nil {
		return quickfood.Identity{}, a.fetchErr
	}
	id, ok := a.access[accessToken]
	if a.rejectNext > 0 {
		a.rejectNext--
		ok = false
	}
	if !ok {
		a.rejectedFetches.Add(1)
		return quickfood.Identity{}, fmt.Errorf("quickfood/fake: %w: token not valid", quickfood.ErrUnauthenticated)
	}
	return a.accounts[id].identity, nil
}

// Renew issues a new access token for a live refresh token.
func (a *API) Renew(ctx context.Context, refreshToken string) (string, error) {
	a.renewCalls.Add(1)
	if err := a.wait(ctx, a.gate(&a.renewGate)); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.renewErr != nil {
		return "", a.renewErr
	}
	id, ok := a.refresh[refreshToken]
	if !ok {
		return "", fmt.Errorf("quickfood/fake: %w", quickfood.ErrRefreshRejected)
	}
	token := a.signLocked(id, time.Now().Add(a.tokenTTL))
	a.access[token] = id
	return token, nil
}

// Deposit adds amount to the balance of userID.
func (a *API) Deposit(ctx context.Context, accessToken string, userID, amount int64) (float64, error) {
	a.depositCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.access[accessToken]
	if !ok || id != userID {
		return 0, fmt.Errorf("quickfood/fake: %w", quickfood.ErrUnauthenticated)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("quickfood/fake: %w: amount must be positive", quickfood.ErrValidation)
	}
	acc := a.accounts[id]
	acc.identity.Balance += float64(amount)
	return acc.identity.Balance, nil
}

// --- test controls ---

// Issue returns a fresh live token pair for userID without a login call.
func (a *API) Issue(userID int64) quickfood.Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issueLocked(userID, time.Now().Add(a.tokenTTL))
}

// IssueExpired returns a live refresh token with an access token whose exp
// claim is already in the past and which the server also rejects.
func (a *API) IssueExpired(userID int64) quickfood.Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	cred := a.issueLocked(userID, time.Now().Add(-time.Minute))
	delete(a.access, cred.AccessToken)
	return cred
}

// Expire makes the server reject an access token.
func (a *API) Expire(accessToken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.access, accessToken)
}

// RevokeRefresh makes the server reject a refresh token.
func (a *API) RevokeRefresh(refreshToken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.refresh, refreshToken)
}

// RejectNextFetches rejects the next n identity fetches even for live tokens.
func (a *API) RejectNextFetches(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejectNext = n
}

// FailFetch makes identity fetches return err (nil restores normal behavior).
func (a *API) FailFetch(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchErr = err
}

// FailRenew makes renewals return err (nil restores normal behavior).
func (a *API) FailRenew(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renewErr = err
}

// BlockFetch holds identity fetches until the returned release is called.
func (a *API) BlockFetch() (release func()) {
	return a.block(&a.fetchGate)
}

// BlockRenew holds renewals until the returned release is called.
func (a *API) BlockRenew() (release func()) {
	return a.block(&a.renewGate)
}

// SetIdentity changes the server-side truth for an account.
func (a *API) SetIdentity(id quickfood.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[id.ID]
	if !ok {
		acc = &account{username: id.Email}
		a.accounts[id.ID] = acc
	}
	acc.identity = id
}

// LoginCalls returns the number of Login calls.
func (a *API) LoginCalls() int { return int(a.loginCalls.Load()) }

// FetchCalls returns the number of FetchCurrentIdentity calls.
func (a *API) FetchCalls() int { return int(a.fetchCalls.Load()) }

// RejectedFetches returns the number of fetches answered with a rejection.
func (a *API) RejectedFetches() int { return int(a.rejectedFetches.Load()) }

// RenewCalls returns the number of Renew calls.
func (a *API) RenewCalls() int { return int(a.renewCalls.Load()) }

// DepositCalls returns the number of Deposit calls.
func (a *API) DepositCalls() int { return int(a.depositCalls.Load()) }

// --- internal helpers ---

func (a *API) issueLocked(userID int64, exp time.Time) quickfood.Credential {
	access := a.signLocked(userID, exp)
	a.seq++
	refresh := fmt.Sprintf("refresh-%d-%d", userID, a.seq)
	a.access[access] = userID
	a.refresh[refresh] = userID
	return quickfood.Credential{AccessToken: access, RefreshToken: refresh}
}

func (a *API) signLocked(userID int64, exp time.Time) string {
	a.seq++
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     exp.Unix(),
		"jti":     fmt.Sprintf("access-%d", a.seq),
	}
	if acc, ok := a.accounts[userID]; ok {
		claims["role"] = string(acc.identity.Role)
		claims["email"] = acc.identity.Email
		claims["balance"] = acc.identity.Balance
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("quickfood/fake: sign token: %v", err))
	}
	return token
}

func (a *API) gate(g *chan struct{}) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *g
}

func (a *API) block(g *chan struct{}) func() {
	ch := make(chan struct{})
	a.mu.Lock()
	*g = ch
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			if *g == ch {
				*g = nil
			}
			a.mu.Unlock()
			close(ch)
		})
	}
}

func (a *API) wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("quickfood/fake: %w: %v", quickfood.ErrNetwork, ctx.Err())
	}
}
