// Package ginmw provides Gin HTTP middleware for QuickFood route guards.
//
// Each request to a protected route is one guard activation. The request
// context scopes the activation: a client that goes away gets no redirect.
package ginmw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/quickfood/quickfood-go/guard"
	"github.com/quickfood/quickfood-go/rolegate"
)

// Context keys for storing guard data in gin.Context.
const (
	KeyIdentity     = "quickfood_identity"
	KeyStale        = "quickfood_stale"
	KeyActivationID = "quickfood_activation_id"
)

// HeaderActivationID carries the activation id on responses.
const HeaderActivationID = "X-Activation-ID"

// Protected returns Gin middleware that runs g once per request.
// Allowed requests carry the identity in the gin context (see GetIdentity);
// a server-verified identity is also placed in the request context.
// Browsers are redirected with 302; JSON clients get 401 or 403.
func Protected(g *guard.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(KeyActivationID, id)
		c.Header(HeaderActivationID, id)

		ctx := quickfood.WithActivationID(c.Request.Context(), id)
		res := g.Check(ctx)
		if c.Request.Context().Err() != nil {
			// Superseded: the client went away while the check ran.
			c.Abort()
			return
		}

		if res.Decision != guard.Allow {
			deny(c, res.Decision, g.RedirectPath(res.Decision))
			return
		}

		c.Set(KeyIdentity, res.Identity)
		c.Set(KeyStale, res.Stale)
		if !res.Stale {
			// Handlers calling into the session reuse this verdict.
			ctx = quickfood.WithIdentity(ctx, res.Identity)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// PublicOnly returns Gin middleware for login and registration pages.
// It redirects to home when an access token is stored, without any network
// call, and otherwise lets the request through.
func PublicOnly(store quickfood.CredentialStore, home string) gin.HandlerFunc {
	return func(c *gin.Context) {
		redirect, err := guard.PublicOnly(c.Request.Context(), store)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credential store unavailable"})
			return
		}
		if redirect {
			c.Redirect(http.StatusFound, home)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Require returns Gin middleware that checks a single role capability.
// Requires Protected to run first.
// Responds with 403 if the capability is not enabled for the role.
func Require(capability rolegate.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		if !rolegate.Allows(id.Role, capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// --- Context helpers ---

// GetIdentity returns the identity the guard allowed.
func GetIdentity(c *gin.Context) *quickfood.Identity {
	v, _ := c.Get(KeyIdentity)
	id, _ := v.(*quickfood.Identity)
	return id
}

// IsStale reports whether the identity is the cached snapshot kept during a
// transient fault.
func IsStale(c *gin.Context) bool {
	return c.GetBool(KeyStale)
}

// GetActivationID returns the guard activation id for the request.
func GetActivationID(c *gin.Context) string {
	return c.GetString(KeyActivationID)
}

// --- internal helpers ---

func deny(c *gin.Context, d guard.Decision, path string) {
	if wantsJSON(c.Request) {
		status := http.StatusUnauthorized
		if d == guard.RedirectUnauthorized {
			status = http.StatusForbidden
		}
		c.AbortWithStatusJSON(status, gin.H{"error": d.String(), "redirect": path})
		return
	}
	c.Redirect(http.StatusFound, path)
	c.Abort()
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
