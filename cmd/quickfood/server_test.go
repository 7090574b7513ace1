package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/quickfood/quickfood-go/credstore"
	"github.com/quickfood/quickfood-go/fake"
	"github.com/quickfood/quickfood-go/identity"
	"github.com/quickfood/quickfood-go/metrics"
	"github.com/quickfood/quickfood-go/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	handler http.Handler
	store   *credstore.Memory
	api     *fake.API
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := fake.New(
		fake.WithUser(7, "a@b.com", "password123", quickfood.RoleUser, 42),
		fake.WithUser(9, "owner@b.com", "password123", quickfood.RoleRestaurantOwner, 0),
	)
	remote := httptest.NewServer(api.Handler())
	t.Cleanup(remote.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := credstore.NewMemory()
	client, err := quickfood.NewClient(quickfood.Config{APIURL: remote.URL},
		quickfood.WithLogger(logger),
		quickfood.WithCredentialStore(store),
		quickfood.WithIdentityAPI(identity.New(remote.URL)),
	)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	mgr := session.New(client, session.WithMetrics(m))
	return &harness{
		handler: newServer(mgr, serverOptions{logger: logger, metrics: m, gatherer: reg}),
		store:   store,
		api:     api,
	}
}

func (h *harness) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) login(t *testing.T, email string) {
	t.Helper()
	w := h.do(http.MethodPost, "/login", url.Values{"email": {email}, "password": {"password123"}})
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Fatalf("login: status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
}

func TestServer_AnonymousRedirectsToLogin(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/", "/restaurants", "/restaurant/3", "/menu-item/4", "/orders", "/deposit"} {
		w := h.do(http.MethodGet, path, nil)
		if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
			t.Errorf("GET %s: status = %d, Location = %q; want 302 /login", path, w.Code, w.Header().Get("Location"))
		}
	}
	if w := h.do(http.MethodGet, "/login", nil); w.Code != http.StatusOK {
		t.Errorf("GET /login: status = %d, want 200", w.Code)
	}
	if h.api.FetchCalls() != 0 {
		t.Errorf("FetchCalls = %d, want 0", h.api.FetchCalls())
	}
}

func TestServer_LoginFlow(t *testing.T) {
	h := newHarness(t)
	h.login(t, "a@b.com")

	w := h.do(http.MethodGet, "/restaurant/3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /restaurant/3: status = %d", w.Code)
	}
	var body struct {
		View         string   `json:"view"`
		ID           string   `json:"id"`
		Stale        bool     `json:"stale"`
		Capabilities []string `json:"capabilities"`
		Identity     struct {
			ID   int64  `json:"id"`
			Role string `json:"role"`
		} `json:"identity"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.View != "restaurant" || body.ID != "3" || body.Identity.ID != 7 || body.Identity.Role != "user" || body.Stale {
		t.Errorf("body = %+v", body)
	}
	if len(body.Capabilities) == 0 {
		t.Error("expected capabilities for the user role")
	}

	w = h.do(http.MethodGet, "/login", nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("GET /login while logged in: status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
}

func TestServer_BadLogin(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/login", url.Values{"email": {"a@b.com"}, "password": {"wrong"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestServer_Register(t *testing.T) {
	h := newHarness(t)

	form := url.Values{"username": {"bob"}, "email": {"bob@b.com"}, "role": {"user"}, "password": {"password123"}}
	if w := h.do(http.MethodPost, "/register", form); w.Code != http.StatusSeeOther {
		t.Fatalf("register: status = %d, want 303", w.Code)
	}
	if w := h.do(http.MethodPost, "/register", form); w.Code != http.StatusConflict {
		t.Errorf("duplicate register: status = %d, want 409", w.Code)
	}
}

func TestServer_DepositRoleRestricted(t *testing.T) {
	h := newHarness(t)
	h.login(t, "owner@b.com")

	w := h.do(http.MethodGet, "/deposit", nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/unauthorized" {
		t.Errorf("owner GET /deposit: status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
	if w := h.do(http.MethodGet, "/orders", nil); w.Code != http.StatusOK {
		t.Errorf("owner GET /orders: status = %d, want 200", w.Code)
	}
}

func TestServer_Deposit(t *testing.T) {
	h := newHarness(t)
	h.login(t, "a@b.com")

	w := h.do(http.MethodPost, "/deposit", url.Values{"amount": {"8"}})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /deposit: status = %d, body = %s", w.Code, w.Body.String())
	}
	var body struct {
		Balance float64 `json:"balance"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Balance != 50 {
		t.Errorf("balance = %v, want 50", body.Balance)
	}
	if h.api.FetchCalls() != 1 {
		t.Errorf("FetchCalls = %d, want 1 (the guard's check only)", h.api.FetchCalls())
	}

	if w := h.do(http.MethodPost, "/deposit", url.Values{"amount": {"0"}}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero deposit: status = %d, want 422", w.Code)
	}
}

func TestServer_Logout(t *testing.T) {
	h := newHarness(t)
	h.login(t, "a@b.com")

	w := h.do(http.MethodPost, "/logout", nil)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Fatalf("logout: status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
	sess, _ := h.store.Load(context.Background())
	if sess.Authenticated() || sess.Identity != nil {
		t.Errorf("store after logout = %+v", sess)
	}
	if w := h.do(http.MethodGet, "/", nil); w.Code != http.StatusFound {
		t.Errorf("GET / after logout: status = %d, want 302", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, "/orders", nil)

	w := h.do(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "quickfood_guard_decisions_total") {
		t.Error("metrics output missing guard decisions")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{quickfood.ErrInvalidCredentials, http.StatusUnauthorized},
		{quickfood.ErrUnauthorized, http.StatusForbidden},
		{quickfood.ErrConflict, http.StatusConflict},
		{quickfood.ErrValidation, http.StatusUnprocessableEntity},
		{quickfood.ErrNetwork, http.StatusServiceUnavailable},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
