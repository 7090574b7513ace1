package session

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	quickfood "github.com/quickfood/quickfood-go"
)

// parseClaims decodes a JWT payload without verifying the signature. The
// client holds no signing key; the server remains the judge of validity.
func parseClaims(token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// identityFromClaims builds an identity from the role, user_id, email and
// balance claims. role and user_id are required.
func identityFromClaims(token string) (quickfood.Identity, bool) {
	claims, ok := parseClaims(token)
	if !ok {
		return quickfood.Identity{}, false
	}
	role, _ := claims["role"].(string)
	if role == "" {
		return quickfood.Identity{}, false
	}
	id, ok := number(claims["user_id"])
	if !ok {
		return quickfood.Identity{}, false
	}
	email, _ := claims["email"].(string)
	balance, _ := number(claims["balance"])

	return quickfood.Identity{
		Role:    quickfood.Role(role),
		ID:      int64(id),
		Email:   email,
		Balance: balance,
	}, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
