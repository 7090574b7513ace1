package guard

import (
	"context"
	"fmt"

	quickfood "github.com/quickfood/quickfood-go"
)

// PublicOnly reports whether a public-only view (login, registration) should
// redirect home. It reads only the store: an access token is sufficient and
// no role check applies.
func PublicOnly(ctx context.Context, store quickfood.CredentialStore) (redirect bool, err error) {
	sess, err := store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("quickfood/guard: %w", err)
	}
	return sess.Authenticated(), nil
}
