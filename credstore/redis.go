package credstore

import (
	"context"
	"fmt"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash key used when none is configured.
const DefaultRedisKey = "quickfood:session"

// Redis persists the session as the fields of one Redis hash. A multi-field
// HSET is atomic, and Clear deletes the whole hash.
type Redis struct {
	rdb *redis.Client
	key string
}

// compile-time check
var _ quickfood.CredentialStore = (*Redis)(nil)

// NewRedis creates a store on an existing client. An empty key selects
// DefaultRedisKey.
func NewRedis(rdb *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{rdb: rdb, key: key}
}

// DialRedis parses a redis:// URL, verifies connectivity and returns a store
// that owns the connection.
func DialRedis(ctx context.Context, url, key string) (*Redis, error) {
	if url == "" {
		return nil, fmt.Errorf("quickfood/credstore: redis url is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("quickfood/credstore: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("quickfood/credstore: ping redis: %w", err)
	}
	return NewRedis(rdb, key), nil
}

// Load returns the persisted session.
func (r *Redis) Load(ctx context.Context) (quickfood.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return quickfood.Session{}, fmt.Errorf("quickfood/credstore: hgetall: %w", err)
	}
	return sessionFromFields(fields), nil
}

// SetCredential replaces both tokens.
func (r *Redis) SetCredential(ctx context.Context, c quickfood.Credential) error {
	return r.hset(ctx, map[string]string{
		KeyAccessToken:  c.AccessToken,
		KeyRefreshToken: c.RefreshToken,
	})
}

// SetAccessToken replaces the access token.
func (r *Redis) SetAccessToken(ctx context.Context, token string) error {
	return r.hset(ctx, map[string]string{KeyAccessToken: token})
}

// SetIdentity replaces the cached identity.
func (r *Redis) SetIdentity(ctx context.Context, id quickfood.Identity) error {
	return r.hset(ctx, identityFields(id))
}

// Clear deletes the hash.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("quickfood/credstore: del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) hset(ctx context.Context, fields map[string]string) error {
	if err := r.rdb.HSet(ctx, r.key, fields).Err(); err != nil {
		return fmt.Errorf("quickfood/credstore: hset: %w", err)
	}
	return nil
}
