package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	quickfood "github.com/quickfood/quickfood-go"
)

// File persists the session as a JSON object in a single file, so it
// survives process restarts. Writes go to a temporary file that is renamed
// over the target, so a reader never observes a partially written session.
type File struct {
	path string
	mu   sync.Mutex
}

// compile-time check
var _ quickfood.CredentialStore = (*File)(nil)

// NewFile creates a store backed by path. The file is created on first write.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Load returns the persisted session, or an empty one if the file is absent.
func (f *File) Load(_ context.Context) (quickfood.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fields, err := f.read()
	if err != nil {
		return quickfood.Session{}, err
	}
	return sessionFromFields(fields), nil
}

// SetCredential replaces both tokens.
func (f *File) SetCredential(_ context.Context, c quickfood.Credential) error {
	return f.update(func(m map[string]string) {
		m[KeyAccessToken] = c.AccessToken
		m[KeyRefreshToken] = c.RefreshToken
	})
}

// SetAccessToken replaces the access token.
func (f *File) SetAccessToken(_ context.Context, token string) error {
	return f.update(func(m map[string]string) {
		m[KeyAccessToken] = token
	})
}

// SetIdentity replaces the cached identity.
func (f *File) SetIdentity(_ context.Context, id quickfood.Identity) error {
	return f.update(func(m map[string]string) {
		for k, v := range identityFields(id) {
			m[k] = v
		}
	})
}

// Clear removes the file.
func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("quickfood/credstore: remove %s: %w", f.path, err)
	}
	return nil
}

func (f *File) update(fn func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fields, err := f.read()
	if err != nil {
		return err
	}
	fn(fields)
	return f.write(fields)
}

func (f *File) read() (map[string]string, error) {
	fields := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fields, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quickfood/credstore: read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("quickfood/credstore: decode %s: %w", f.path, err)
	}
	return fields, nil
}

func (f *File) write(fields map[string]string) error {
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("quickfood/credstore: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("quickfood/credstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("quickfood/credstore: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("quickfood/credstore: write temp: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("quickfood/credstore: chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("quickfood/credstore: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("quickfood/credstore: rename: %w", err)
	}
	return nil
}
