package guard_test

import (
	"context"
	"testing"
	"time"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/quickfood/quickfood-go/credstore"
	"github.com/quickfood/quickfood-go/guard"
)

type authFunc func(ctx context.Context) quickfood.AuthResult

func (f authFunc) EnsureAuthenticated(ctx context.Context) quickfood.AuthResult { return f(ctx) }

func wait(t *testing.T, a *guard.Activation) (guard.Result, guard.State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, state, err := a.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	return res, state
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMount_Allowed(t *testing.T) {
	rec := &recorder{}
	r := guard.NewRouter(rec, guard.WithRouterLogger(discard()))
	auth := &stubAuth{result: quickfood.AuthResult{Status: quickfood.StatusAuthenticated, Identity: &alice}}
	g := guard.New(auth, credstore.NewMemory())

	nav := r.Navigate(context.Background(), "/orders")
	a := nav.Mount(g)
	if a.ID() == "" {
		t.Error("activation id should be set")
	}

	res, state := wait(t, a)
	if state != guard.StateAllowed || res.Decision != guard.Allow {
		t.Fatalf("state = %v, decision = %v; want allowed", state, res.Decision)
	}
	if len(rec.Paths()) != 0 {
		t.Errorf("unexpected redirects: %v", rec.Paths())
	}
	if !nav.IsCurrent() {
		t.Error("navigation should still be current")
	}
}

func TestMount_Redirects(t *testing.T) {
	tests := []struct {
		name      string
		result    quickfood.AuthResult
		roles     []quickfood.Role
		wantState guard.State
		wantPath  string
	}{
		{"unauthenticated", quickfood.AuthResult{Status: quickfood.StatusUnauthenticated}, nil, guard.StateRedirectLogin, "/login"},
		{"unauthorized", quickfood.AuthResult{Status: quickfood.StatusAuthenticated, Identity: &alice}, []quickfood.Role{quickfood.RoleRestaurantOwner}, guard.StateRedirectUnauthorized, "/unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			r := guard.NewRouter(rec)
			var opts []guard.Option
			if tt.roles != nil {
				opts = append(opts, guard.WithRoles(tt.roles...))
			}
			g := guard.New(&stubAuth{result: tt.result}, credstore.NewMemory(), opts...)

			nav := r.Navigate(context.Background(), "/restaurant/3")
			_, state := wait(t, nav.Mount(g))
			if state != tt.wantState {
				t.Fatalf("state = %v, want %v", state, tt.wantState)
			}
			if paths := rec.Paths(); len(paths) != 1 || paths[0] != tt.wantPath {
				t.Errorf("redirects = %v, want [%s]", paths, tt.wantPath)
			}
			if cur := r.Current(); cur == nil || cur.Path() != tt.wantPath {
				t.Errorf("current navigation = %v, want %s", cur, tt.wantPath)
			}
			if nav.IsCurrent() {
				t.Error("redirected navigation should no longer be current")
			}
		})
	}
}

func TestMount_SupersededActivationDoesNotRedirect(t *testing.T) {
	rec := &recorder{}
	r := guard.NewRouter(rec, guard.WithRouterLogger(discard()))
	auth := &stubAuth{
		result: quickfood.AuthResult{Status: quickfood.StatusUnauthenticated},
		gate:   make(chan struct{}),
	}
	defer close(auth.gate)
	g := guard.New(auth, credstore.NewMemory())

	first := r.Navigate(context.Background(), "/orders")
	a := first.Mount(g)
	waitFor(t, "check started", func() bool { return auth.calls.Load() == 1 })
	r.Navigate(context.Background(), "/restaurants")

	_, state := wait(t, a)
	if state != guard.StateSuperseded {
		t.Fatalf("state = %v, want superseded", state)
	}
	if len(rec.Paths()) != 0 {
		t.Errorf("superseded activation redirected: %v", rec.Paths())
	}
	if got := r.Current().Path(); got != "/restaurants" {
		t.Errorf("current path = %q, want /restaurants", got)
	}
	if auth.calls.Load() != 1 {
		t.Errorf("EnsureAuthenticated calls = %d, want 1", auth.calls.Load())
	}
}

func TestMount_StaleNavigationSkipsCheck(t *testing.T) {
	r := guard.NewRouter(&recorder{})
	auth := &stubAuth{result: quickfood.AuthResult{Status: quickfood.StatusUnauthenticated}}

	stale := r.Navigate(context.Background(), "/orders")
	r.Navigate(context.Background(), "/")

	_, state := wait(t, stale.Mount(guard.New(auth, credstore.NewMemory())))
	if state != guard.StateSuperseded {
		t.Fatalf("state = %v, want superseded", state)
	}
	if auth.calls.Load() != 0 {
		t.Errorf("EnsureAuthenticated calls = %d, want 0", auth.calls.Load())
	}
}

func TestMount_OnlyOneRedirectPerNavigation(t *testing.T) {
	rec := &recorder{}
	r := guard.NewRouter(rec)
	auth := &stubAuth{result: quickfood.AuthResult{Status: quickfood.StatusUnauthenticated}}
	g := guard.New(auth, credstore.NewMemory())

	nav := r.Navigate(context.Background(), "/")
	a1, a2 := nav.Mount(g), nav.Mount(g)
	_, s1 := wait(t, a1)
	_, s2 := wait(t, a2)

	if len(rec.Paths()) != 1 {
		t.Fatalf("redirects = %v, want exactly one", rec.Paths())
	}
	states := map[guard.State]int{s1: 1}
	states[s2]++
	if states[guard.StateRedirectLogin] != 1 || states[guard.StateSuperseded] != 1 {
		t.Errorf("states = %v, %v; want one redirect_login and one superseded", s1, s2)
	}
}

func TestMount_ConcurrentPanelsShareRenewal(t *testing.T) {
	const panels = 4
	ctx := context.Background()
	mgr, store, api := newSession(t)

	cred := api.Issue(alice.ID)
	_ = store.SetCredential(ctx, cred)
	api.Expire(cred.AccessToken)

	rec := &recorder{}
	nav := guard.NewRouter(rec).Navigate(ctx, "/")
	activations := make([]*guard.Activation, panels)
	for i := range activations {
		activations[i] = nav.Mount(guard.New(mgr, store, guard.WithRoles(quickfood.RoleUser)))
	}

	for i, a := range activations {
		if _, state := wait(t, a); state != guard.StateAllowed {
			t.Errorf("panel %d: state = %v, want allowed", i, state)
		}
	}
	if api.RenewCalls() != 1 {
		t.Errorf("RenewCalls = %d, want 1", api.RenewCalls())
	}
	if len(rec.Paths()) != 0 {
		t.Errorf("unexpected redirects: %v", rec.Paths())
	}
}

func TestMount_ActivationIDInContext(t *testing.T) {
	seen := make(chan string, 1)
	auth := authFunc(func(ctx context.Context) quickfood.AuthResult {
		seen <- quickfood.ActivationIDFromContext(ctx)
		return quickfood.AuthResult{Status: quickfood.StatusAuthenticated, Identity: &alice}
	})

	a := guard.NewRouter(&recorder{}).Navigate(context.Background(), "/").Mount(guard.New(auth, credstore.NewMemory()))
	wait(t, a)
	if got := <-seen; got != a.ID() {
		t.Errorf("activation id in context = %q, want %q", got, a.ID())
	}
}

func TestActivation_WaitHonorsContext(t *testing.T) {
	auth := &stubAuth{
		result: quickfood.AuthResult{Status: quickfood.StatusUnauthenticated},
		gate:   make(chan struct{}),
	}
	defer close(auth.gate)

	a := guard.NewRouter(&recorder{}).Navigate(context.Background(), "/").Mount(guard.New(auth, credstore.NewMemory()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, state, err := a.Wait(ctx); err == nil || state != guard.StateChecking {
		t.Errorf("Wait() = %v, %v; want deadline error while checking", state, err)
	}
}

func TestMountPublicOnly(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r := guard.NewRouter(rec)
	store := credstore.NewMemory()

	redirected, err := r.Navigate(ctx, "/login").MountPublicOnly(store, guard.DefaultHomePath)
	if err != nil || redirected {
		t.Fatalf("MountPublicOnly(empty) = %v, %v; want false, nil", redirected, err)
	}

	_ = store.SetCredential(ctx, quickfood.Credential{AccessToken: "a", RefreshToken: "r"})
	redirected, err = r.Navigate(ctx, "/register").MountPublicOnly(store, guard.DefaultHomePath)
	if err != nil || !redirected {
		t.Fatalf("MountPublicOnly(token) = %v, %v; want true, nil", redirected, err)
	}
	if paths := rec.Paths(); len(paths) != 1 || paths[0] != "/" {
		t.Errorf("redirects = %v, want [/]", paths)
	}
}
