package quickfood

import "context"

// CredentialStore is persisted key-value storage for the credential and the
// cached identity. It performs no validation of token contents.
// Implementations: credstore.Memory, credstore.File, credstore.Redis.
type CredentialStore interface {
	// Load returns the current session, or an empty one.
	Load(ctx context.Context) (Session, error)

	// SetCredential replaces both tokens.
	SetCredential(ctx context.Context, c Credential) error

	// SetAccessToken replaces the access token, keeping the refresh token.
	SetAccessToken(ctx context.Context, token string) error

	// SetIdentity replaces the cached identity.
	SetIdentity(ctx context.Context, id Identity) error

	// Clear erases the tokens and the identity together.
	Clear(ctx context.Context) error
}

// IdentityAPI is the remote API boundary used by the session layer.
// Implementations perform no retries.
// Implementations: identity/ (HTTP), fake/ (testing).
type IdentityAPI interface {
	// Login exchanges email and password for a token pair.
	Login(ctx context.Context, email, password string) (Credential, error)

	// Register creates a new account.
	Register(ctx context.Context, req RegisterRequest) error

	// FetchCurrentIdentity returns the identity the access token belongs to.
	FetchCurrentIdentity(ctx context.Context, accessToken string) (Identity, error)

	// Renew exchanges a refresh token for a new access token.
	Renew(ctx context.Context, refreshToken string) (string, error)

	// Deposit adds amount to the user's balance and returns the new balance.
	Deposit(ctx context.Context, accessToken string, userID, amount int64) (float64, error)
}

// Authenticator produces a verified identity for one guard activation.
// Implementations: session.Manager.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) AuthResult
}
