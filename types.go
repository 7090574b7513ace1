package quickfood

// Role is the marketplace role reported by the remote API.
type Role string

const (
	RoleUser            Role = "user"
	RoleRestaurantOwner Role = "restaurant_owner"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleRestaurantOwner
}

// Credential is the token pair issued on login.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Identity is the cached copy of the server-reported user attributes.
// It is possibly stale until refreshed by a successful identity fetch.
type Identity struct {
	Role    Role
	ID      int64
	Email   string
	Balance float64
}

// Session is everything a CredentialStore holds.
type Session struct {
	Credential
	Identity *Identity
}

// Authenticated reports whether an access token is present. This is the only
// valid test for "is authenticated"; presence of an identity means nothing.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// CachedIdentity returns the stored identity, or nil when there is no access
// token to back it.
func (s Session) CachedIdentity() *Identity {
	if !s.Authenticated() || s.Identity == nil {
		return nil
	}
	id := *s.Identity
	return &id
}

// RegisterRequest holds the fields of a registration form.
type RegisterRequest struct {
	Username string
	Email    string
	Role     Role
	Password string
}

// AuthStatus classifies the outcome of an authentication check.
type AuthStatus int

const (
	// StatusUnauthenticated means there is definitely no usable credential.
	StatusUnauthenticated AuthStatus = iota
	// StatusAuthenticated means the identity was verified by the server.
	StatusAuthenticated
	// StatusIndeterminate means a transient fault prevented a verdict.
	StatusIndeterminate
)

func (s AuthStatus) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusIndeterminate:
		return "indeterminate"
	default:
		return "unauthenticated"
	}
}

// AuthResult is returned by Authenticator.EnsureAuthenticated.
// Identity is set only when Status is StatusAuthenticated.
type AuthResult struct {
	Status   AuthStatus
	Identity *Identity
}
