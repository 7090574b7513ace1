package ginmw_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/quickfood/quickfood-go/credstore"
	"github.com/quickfood/quickfood-go/guard"
	"github.com/quickfood/quickfood-go/middleware/ginmw"
	"github.com/quickfood/quickfood-go/rolegate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type authFunc func(ctx context.Context) quickfood.AuthResult

func (f authFunc) EnsureAuthenticated(ctx context.Context) quickfood.AuthResult { return f(ctx) }

func authenticatedAs(id quickfood.Identity) authFunc {
	return func(context.Context) quickfood.AuthResult {
		return quickfood.AuthResult{Status: quickfood.StatusAuthenticated, Identity: &id}
	}
}

var (
	user  = quickfood.Identity{Role: quickfood.RoleUser, ID: 7, Email: "a@b.com", Balance: 42}
	owner = quickfood.Identity{Role: quickfood.RoleRestaurantOwner, ID: 9, Email: "owner@b.com"}
)

func serve(r *gin.Engine, path string, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestProtected_Allow(t *testing.T) {
	r := gin.New()
	g := guard.New(authenticatedAs(user), credstore.NewMemory())
	r.GET("/orders", ginmw.Protected(g), func(c *gin.Context) {
		id := ginmw.GetIdentity(c)
		if id == nil || *id != user {
			t.Errorf("GetIdentity() = %+v, want %+v", id, user)
		}
		if ctxID := quickfood.IdentityFromContext(c.Request.Context()); ctxID == nil || ctxID.ID != user.ID {
			t.Errorf("IdentityFromContext() = %+v", ctxID)
		}
		if ginmw.GetActivationID(c) == "" {
			t.Error("activation id should be set")
		}
		c.JSON(http.StatusOK, gin.H{"stale": ginmw.IsStale(c)})
	})

	w := serve(r, "/orders", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get(ginmw.HeaderActivationID) == "" {
		t.Error("missing activation id header")
	}
}

func TestProtected_Redirects(t *testing.T) {
	tests := []struct {
		name     string
		auth     authFunc
		roles    []quickfood.Role
		accept   string
		wantCode int
		wantLoc  string
	}{
		{
			name:     "unauthenticated browser",
			auth:     func(context.Context) quickfood.AuthResult { return quickfood.AuthResult{} },
			wantCode: http.StatusFound,
			wantLoc:  "/login",
		},
		{
			name:     "unauthorized browser",
			auth:     authenticatedAs(owner),
			roles:    []quickfood.Role{quickfood.RoleUser},
			wantCode: http.StatusFound,
			wantLoc:  "/unauthorized",
		},
		{
			name:     "unauthenticated json",
			auth:     func(context.Context) quickfood.AuthResult { return quickfood.AuthResult{} },
			accept:   "application/json",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "unauthorized json",
			auth:     authenticatedAs(owner),
			roles:    []quickfood.Role{quickfood.RoleUser},
			accept:   "application/json",
			wantCode: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []guard.Option
			if tt.roles != nil {
				opts = append(opts, guard.WithRoles(tt.roles...))
			}
			g := guard.New(tt.auth, credstore.NewMemory(), opts...)

			r := gin.New()
			r.GET("/deposit", ginmw.Protected(g), func(c *gin.Context) {
				t.Error("handler should not run")
			})

			w := serve(r, "/deposit", tt.accept)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantLoc != "" && w.Header().Get("Location") != tt.wantLoc {
				t.Errorf("Location = %q, want %q", w.Header().Get("Location"), tt.wantLoc)
			}
			if tt.accept != "" {
				var body map[string]string
				if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body["redirect"] == "" {
					t.Errorf("body = %v, want a redirect target", body)
				}
			}
		})
	}
}

func TestProtected_StaleSnapshot(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	_ = store.SetCredential(ctx, quickfood.Credential{AccessToken: "a", RefreshToken: "r"})
	_ = store.SetIdentity(ctx, user)

	indeterminate := authFunc(func(context.Context) quickfood.AuthResult {
		return quickfood.AuthResult{Status: quickfood.StatusIndeterminate}
	})

	r := gin.New()
	r.GET("/", ginmw.Protected(guard.New(indeterminate, store)), func(c *gin.Context) {
		if !ginmw.IsStale(c) {
			t.Error("IsStale() = false, want true")
		}
		if quickfood.IdentityFromContext(c.Request.Context()) != nil {
			t.Error("a stale snapshot should not be passed on as verified")
		}
		c.Status(http.StatusOK)
	})

	if w := serve(r, "/", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestPublicOnly(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()

	r := gin.New()
	r.GET("/login", ginmw.PublicOnly(store, "/"), func(c *gin.Context) {
		c.String(http.StatusOK, "login form")
	})

	if w := serve(r, "/login", ""); w.Code != http.StatusOK {
		t.Fatalf("status without token = %d, want 200", w.Code)
	}

	_ = store.SetCredential(ctx, quickfood.Credential{AccessToken: "a"})
	w := serve(r, "/login", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("status = %d, Location = %q; want 302 to /", w.Code, w.Header().Get("Location"))
	}
}

func TestRequire(t *testing.T) {
	tests := []struct {
		name     string
		identity quickfood.Identity
		want     int
	}{
		{"user can deposit", user, http.StatusOK},
		{"owner cannot deposit", owner, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := guard.New(authenticatedAs(tt.identity), credstore.NewMemory())
			r := gin.New()
			r.GET("/deposit", ginmw.Protected(g), ginmw.Require(rolegate.Deposit), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			if w := serve(r, "/deposit", ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	r := gin.New()
	r.GET("/deposit", ginmw.Require(rolegate.Deposit), func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := serve(r, "/deposit", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status without Protected = %d, want 401", w.Code)
	}
}
