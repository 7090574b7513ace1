// Package identity provides the HTTP/JSON client for the remote QuickFood
// authentication API.
//
// Every call is a single request bounded by the client timeout; no retries
// are performed here. Failures are classified into the quickfood error
// taxonomy so callers can branch with errors.Is.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	quickfood "github.com/quickfood/quickfood-go"
)

// Client implements quickfood.IdentityAPI over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// compile-time check
var _ quickfood.IdentityAPI = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient = &http.Client{Timeout: d} }
}

// New creates a client for the API rooted at baseURL (e.g. "https://host/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx response. It unwraps to the taxonomy error it was
// classified as.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
	Kind       error
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("quickfood/identity: %s: %v (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("quickfood/identity: %s: %v (status %d)", e.Op, e.Kind, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Kind }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

// userResponse is the body of GET /auth/users/me/.
type userResponse struct {
	ID      int64   `json:"id"`
	Email   string  `json:"email"`
	Role    string  `json:"role"`
	Balance Balance `json:"balance"`
}

// Balance decodes a JSON number or a decimal string such as "42.00".
type Balance float64

func (b *Balance) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*b = 0
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid balance %s: %w", data, err)
	}
	*b = Balance(v)
	return nil
}

// Login exchanges email and password for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (quickfood.Credential, error) {
	var pair tokenPair
	status, body, err := c.do(ctx, http.MethodPost, "/auth/login/", "", loginRequest{Email: email, Password: password})
	if err != nil {
		return quickfood.Credential{}, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return quickfood.Credential{}, apiError("login", status, body, quickfood.ErrInvalidCredentials)
	case status >= 400 && status < 500:
		return quickfood.Credential{}, apiError("login", status, body, quickfood.ErrValidation)
	case !ok(status):
		return quickfood.Credential{}, apiError("login", status, body, quickfood.ErrNetwork)
	}
	if err := decode(body, &pair); err != nil {
		return quickfood.Credential{}, fmt.Errorf("quickfood/identity: login: %w: %v", quickfood.ErrNetwork, err)
	}
	if pair.Access == "" {
		return quickfood.Credential{}, fmt.Errorf("quickfood/identity: login: %w: empty access token", quickfood.ErrNetwork)
	}
	return quickfood.Credential{AccessToken: pair.Access, RefreshToken: pair.Refresh}, nil
}

// Register creates a new account. A 400 or 409 means the username or email
// is taken; any other 4xx is a validation failure.
func (c *Client) Register(ctx context.Context, req quickfood.RegisterRequest) error {
	status, body, err := c.do(ctx, http.MethodPost, "/auth/register/", "", registerRequest{
		Username: req.Username,
		Email:    req.Email,
		Role:     string(req.Role),
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	switch {
	case ok(status):
		return nil
	case status == http.StatusBadRequest || status == http.StatusConflict:
		return apiError("register", status, body, quickfood.ErrConflict)
	case status >= 400 && status < 500:
		return apiError("register", status, body, quickfood.ErrValidation)
	default:
		return apiError("register", status, body, quickfood.ErrNetwork)
	}
}

// FetchCurrentIdentity returns the identity behind accessToken. Both 401 and
// 403 count as the token being rejected.
func (c *Client) FetchCurrentIdentity(ctx context.Context, accessToken string) (quickfood.Identity, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/auth/users/me/", accessToken, nil)
	if err != nil {
		return quickfood.Identity{}, err
	}
	if authRejected(status) {
		return quickfood.Identity{}, apiError("fetch identity", status, body, quickfood.ErrUnauthenticated)
	}
	if !ok(status) {
		return quickfood.Identity{}, apiError("fetch identity", status, body, quickfood.ErrNetwork)
	}

	var u userResponse
	if err := decode(body, &u); err != nil {
		return quickfood.Identity{}, fmt.Errorf("quickfood/identity: fetch identity: %w: %v", quickfood.ErrNetwork, err)
	}
	return quickfood.Identity{
		Role:    quickfood.Role(u.Role),
		ID:      u.ID,
		Email:   u.Email,
		Balance: float64(u.Balance),
	}, nil
}

// Renew exchanges a refresh token for a new access token. Any 4xx means the
// refresh token was rejected.
func (c *Client) Renew(ctx context.Context, refreshToken string) (string, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/auth/refresh/", "", refreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", err
	}
	switch {
	case status >= 400 && status < 500:
		return "", apiError("renew", status, body, quickfood.ErrRefreshRejected)
	case !ok(status):
		return "", apiError("renew", status, body, quickfood.ErrNetwork)
	}

	var pair tokenPair
	if err := decode(body, &pair); err != nil {
		return "", fmt.Errorf("quickfood/identity: renew: %w: %v", quickfood.ErrNetwork, err)
	}
	if pair.Access == "" {
		return "", fmt.Errorf("quickfood/identity: renew: %w: empty access token", quickfood.ErrNetwork)
	}
	return pair.Access, nil
}

// Deposit adds amount to the balance of userID and returns the new balance.
func (c *Client) Deposit(ctx context.Context, accessToken string, userID, amount int64) (float64, error) {
	path := fmt.Sprintf("/auth/users/%d/deposit/", userID)
	status, body, err := c.do(ctx, http.MethodPatch, path, accessToken, depositRequest{Amount: amount})
	if err != nil {
		return 0, err
	}
	switch {
	case authRejected(status):
		return 0, apiError("deposit", status, body, quickfood.ErrUnauthenticated)
	case status >= 400 && status < 500:
		return 0, apiError("deposit", status, body, quickfood.ErrValidation)
	case !ok(status):
		return 0, apiError("deposit", status, body, quickfood.ErrNetwork)
	}

	var resp struct {
		Balance Balance `json:"balance"`
	}
	if err := decode(body, &resp); err != nil {
		return 0, fmt.Errorf("quickfood/identity: deposit: %w: %v", quickfood.ErrNetwork, err)
	}
	return float64(resp.Balance), nil
}

// do sends one request. Transport failures, including context expiry, are
// reported as quickfood.ErrNetwork.
func (c *Client) do(ctx context.Context, method, path, bearer string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("quickfood/identity: failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("quickfood/identity: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("quickfood/identity: %s %s: %w: %v", method, path, quickfood.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("quickfood/identity: failed to read response: %w: %v", quickfood.ErrNetwork, err)
	}
	return resp.StatusCode, body, nil
}

func ok(status int) bool { return status >= 200 && status < 300 }

func authRejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func decode(body []byte, v any) error {
	if len(body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(body, v)
}

// apiError extracts the server's "detail" or "error" message if present.
func apiError(op string, status int, body []byte, kind error) *APIError {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	detail := ""
	if json.Unmarshal(body, &payload) == nil {
		detail = payload.Detail
		if detail == "" {
			detail = payload.Error
		}
	}
	return &APIError{Op: op, StatusCode: status, Detail: detail, Kind: kind}
}
