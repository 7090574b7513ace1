package main

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/quickfood/quickfood-go/audit"
	"github.com/quickfood/quickfood-go/guard"
	"github.com/quickfood/quickfood-go/metrics"
	"github.com/quickfood/quickfood-go/middleware/ginmw"
	"github.com/quickfood/quickfood-go/rolegate"
	"github.com/quickfood/quickfood-go/session"
)

type serverOptions struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger
	gatherer prometheus.Gatherer // nil disables /metrics
}

type server struct {
	mgr  *session.Manager
	opts serverOptions
}

// newServer wires the client views. Public-only views redirect home when a
// token is stored; every other view runs its own guard per request.
func newServer(mgr *session.Manager, opts serverOptions) http.Handler {
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	s := &server{mgr: mgr, opts: opts}
	store := mgr.Store()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(opts.logger))

	public := r.Group("/", ginmw.PublicOnly(store, guard.DefaultHomePath))
	public.GET("/login", s.view("login"))
	public.POST("/login", s.login)
	public.GET("/register", s.view("register"))
	public.POST("/register", s.register)

	r.GET("/", s.protect("home"), s.view("home"))
	r.GET("/restaurants", s.protect("restaurants"), s.view("restaurants"))
	r.GET("/restaurant/:id", s.protect("restaurant"), s.view("restaurant"))
	r.GET("/menu-item/:id", s.protect("menu_item"), s.view("menu_item"))
	r.GET("/orders", s.protect("orders"), s.view("orders"))

	deposit := s.protect("deposit", guard.WithRoles(quickfood.RoleUser))
	r.GET("/deposit", deposit, s.view("deposit"))
	r.POST("/deposit", deposit, ginmw.Require(rolegate.Deposit), s.deposit)

	r.GET("/unauthorized", func(c *gin.Context) {
		c.JSON(http.StatusForbidden, gin.H{"view": "unauthorized"})
	})
	r.POST("/logout", s.logout)

	if opts.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *server) protect(resource string, opts ...guard.Option) gin.HandlerFunc {
	opts = append([]guard.Option{
		guard.WithResource(resource),
		guard.WithLogger(s.opts.logger),
		guard.WithMetrics(s.opts.metrics),
		guard.WithAuditLogger(s.opts.audit),
	}, opts...)
	return ginmw.Protected(guard.New(s.mgr, s.mgr.Store(), opts...))
}

// --- views ---

type identityView struct {
	ID      int64   `json:"id"`
	Role    string  `json:"role"`
	Email   string  `json:"email"`
	Balance float64 `json:"balance"`
}

// view renders the data a page needs from the core: the identity, whether it
// is a stale snapshot, and the capabilities of its role.
func (s *server) view(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"view": name}
		for _, p := range c.Params {
			body[p.Key] = p.Value
		}
		if id := ginmw.GetIdentity(c); id != nil {
			body["identity"] = identityView{ID: id.ID, Role: string(id.Role), Email: id.Email, Balance: id.Balance}
			body["stale"] = ginmw.IsStale(c)
			body["capabilities"] = rolegate.CapabilitiesFor(id.Role).List()
		}
		c.JSON(http.StatusOK, body)
	}
}

type loginForm struct {
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

func (s *server) login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "email and password are required"})
		return
	}
	if _, err := s.mgr.Login(c.Request.Context(), form.Email, form.Password); err != nil {
		s.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, guard.DefaultHomePath)
}

type registerForm struct {
	Username string `form:"username" json:"username"`
	Email    string `form:"email" json:"email"`
	Role     string `form:"role" json:"role"`
	Password string `form:"password" json:"password"`
}

func (s *server) register(c *gin.Context) {
	var form registerForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid form"})
		return
	}
	err := s.mgr.Register(c.Request.Context(), quickfood.RegisterRequest{
		Username: form.Username,
		Email:    form.Email,
		Role:     quickfood.Role(form.Role),
		Password: form.Password,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, guard.DefaultLoginPath)
}

type depositForm struct {
	Amount int64 `form:"amount" json:"amount"`
}

func (s *server) deposit(c *gin.Context) {
	var form depositForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "amount must be a positive integer"})
		return
	}
	id, err := s.mgr.Deposit(c.Request.Context(), form.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": id.Balance})
}

func (s *server) logout(c *gin.Context) {
	if err := s.mgr.Logout(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, guard.DefaultLoginPath)
}

func (s *server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.opts.logger.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, quickfood.ErrInvalidCredentials), errors.Is(err, quickfood.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, quickfood.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, quickfood.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, quickfood.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, quickfood.ErrNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("activation_id", ginmw.GetActivationID(c)))
	}
}
