package quickfood

import "context"

type ctxKey string

const (
	ctxKeyIdentity     ctxKey = "quickfood_identity"
	ctxKeyActivationID ctxKey = "quickfood_activation_id"
)

// WithIdentity stores an identity the server verified for this request.
// Session operations reuse it instead of checking again.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext extracts the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(ctxKeyIdentity).(*Identity)
	return v
}

// WithActivationID tags the context with a guard activation id for logs and audit.
func WithActivationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyActivationID, id)
}

// ActivationIDFromContext extracts the activation id.
func ActivationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyActivationID).(string)
	return v
}
