// Package quickfood provides the session and route-authorization core of the
// QuickFood marketplace client.
//
// The package defines the domain types, the CredentialStore and IdentityAPI
// boundaries, and a Client that bundles the injected implementations.
// Concrete implementations live in subpackages and are injected via Option
// functions:
//
//	client, err := quickfood.NewClient(
//	    quickfood.Config{APIURL: "https://api.quickfood.example/api"},
//	    quickfood.WithCredentialStore(credstore.NewFile(path)),
//	    quickfood.WithIdentityAPI(identity.New(apiURL)),
//	)
//	mgr := session.New(client)
package quickfood

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Client is the main entry point. It holds configuration and the injected
// store and API implementations shared by the session manager and the guards.
type Client struct {
	config Config
	logger *slog.Logger
	store  CredentialStore
	api    IdentityAPI
}

// Config holds connection and behavior configuration.
type Config struct {
	// APIURL is the base URL of the remote API, e.g. "https://host/api".
	// Informational; the IdentityAPI implementation is built from it.
	APIURL string

	// RequestTimeout bounds identity fetches, login, registration and deposits.
	// Default: 10 seconds.
	RequestTimeout time.Duration

	// RenewTimeout bounds a single token renewal. Default: 10 seconds.
	RenewTimeout time.Duration

	// TokenExpirySkew is subtracted from a JWT access token's exp claim when
	// deciding whether the token is presumptively expired. Default: 5 seconds.
	TokenExpirySkew time.Duration
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCredentialStore sets the credential store implementation.
func WithCredentialStore(s CredentialStore) Option {
	return func(c *Client) { c.store = s }
}

// WithIdentityAPI sets the remote API implementation.
func WithIdentityAPI(a IdentityAPI) Option {
	return func(c *Client) { c.api = a }
}

const (
	DefaultRequestTimeout  = 10 * time.Second
	DefaultRenewTimeout    = 10 * time.Second
	DefaultTokenExpirySkew = 5 * time.Second
)

// NewClient creates a new client with the given configuration and options.
// Both a credential store and an identity API are required.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RenewTimeout <= 0 {
		cfg.RenewTimeout = DefaultRenewTimeout
	}
	if cfg.TokenExpirySkew == 0 {
		cfg.TokenExpirySkew = DefaultTokenExpirySkew
	}

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}

	if c.store == nil {
		return nil, fmt.Errorf("quickfood: credential store is required")
	}
	if c.api == nil {
		return nil, fmt.Errorf("quickfood: identity API is required")
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the configured logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Store returns the credential store.
func (c *Client) Store() CredentialStore { return c.store }

// API returns the remote API implementation.
func (c *Client) API() IdentityAPI { return c.api }

// Close releases resources held by the injected implementations.
// Any of them implementing io.Closer is closed.
func (c *Client) Close() error {
	var firstErr error
	for _, svc := range []interface{}{c.store, c.api} {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
