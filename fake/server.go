package fake

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	quickfood "github.com/quickfood/quickfood-go"
)

// Handler serves the fake API over HTTP with the status codes of the real
// server: 401 for rejected tokens or logins, 400 for registration conflicts,
// 422 for validation failures, 503 for injected transient failures.
func (a *API) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	auth := r.Group("/auth")
	auth.POST("/login/", a.handleLogin)
	auth.POST("/register/", a.handleRegister)
	auth.GET("/users/me/", a.handleMe)
	auth.POST("/refresh/", a.handleRefresh)
	auth.PATCH("/users/:id/deposit/", a.handleDeposit)
	return r
}

func (a *API) handleLogin(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}
	cred, err := a.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": cred.AccessToken, "refresh": cred.RefreshToken})
}

func (a *API) handleRegister(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body"})
		return
	}
	err := a.Register(c.Request.Context(), quickfood.RegisterRequest{
		Username: body.Username,
		Email:    body.Email,
		Role:     quickfood.Role(body.Role),
		Password: body.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"username": body.Username, "email": body.Email, "role": body.Role})
}

func (a *API) handleMe(c *gin.Context) {
	id, err := a.FetchCurrentIdentity(c.Request.Context(), bearer(c.Request))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      id.ID,
		"email":   id.Email,
		"role":    string(id.Role),
		"balance": strconv.FormatFloat(id.Balance, 'f', 2, 64),
	})
}

func (a *API) handleRefresh(c *gin.Context) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}
	access, err := a.Renew(c.Request.Context(), body.Refresh)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": access})
}

func (a *API) handleDeposit(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be an integer"})
		return
	}
	balance, err := a.Deposit(c.Request.Context(), bearer(c.Request), userID, body.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, quickfood.ErrInvalidCredentials),
		errors.Is(err, quickfood.ErrUnauthenticated),
		errors.Is(err, quickfood.ErrRefreshRejected):
		c.JSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
	case errors.Is(err, quickfood.ErrConflict):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, quickfood.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
	}
}

func bearer(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
