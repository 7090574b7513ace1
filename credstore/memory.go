package credstore

import (
	"context"
	"sync"

	quickfood "github.com/quickfood/quickfood-go"
)

// Memory is a process-local store. It does not survive restarts.
type Memory struct {
	mu     sync.RWMutex
	fields map[string]string
}

// compile-time check
var _ quickfood.CredentialStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{fields: make(map[string]string)}
}

// Load returns the current session.
func (m *Memory) Load(_ context.Context) (quickfood.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sessionFromFields(m.fields), nil
}

// SetCredential replaces both tokens.
func (m *Memory) SetCredential(_ context.Context, c quickfood.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[KeyAccessToken] = c.AccessToken
	m.fields[KeyRefreshToken] = c.RefreshToken
	return nil
}

// SetAccessToken replaces the access token.
func (m *Memory) SetAccessToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[KeyAccessToken] = token
	return nil
}

// SetIdentity replaces the cached identity.
func (m *Memory) SetIdentity(_ context.Context, id quickfood.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range identityFields(id) {
		m.fields[k] = v
	}
	return nil
}

// Clear erases everything.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields = make(map[string]string)
	return nil
}
