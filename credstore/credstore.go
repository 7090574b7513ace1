// Package credstore provides quickfood.CredentialStore implementations.
//
// All stores persist the same six string fields, named after the keys the
// browser client kept in local storage, so a session written by one backend
// reads back identically from another.
package credstore

import (
	"strconv"

	quickfood "github.com/quickfood/quickfood-go"
)

// Field names of a persisted session.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUserRole     = "user_role"
	KeyUserID       = "user_id"
	KeyUserEmail    = "user_email"
	KeyUserBalance  = "user_balance"
)

// identityKeys are the fields written by SetIdentity.
var identityKeys = []string{KeyUserRole, KeyUserID, KeyUserEmail, KeyUserBalance}

// allKeys are the fields erased by Clear.
var allKeys = append([]string{KeyAccessToken, KeyRefreshToken}, identityKeys...)

func identityFields(id quickfood.Identity) map[string]string {
	return map[string]string{
		KeyUserRole:    string(id.Role),
		KeyUserID:      strconv.FormatInt(id.ID, 10),
		KeyUserEmail:   id.Email,
		KeyUserBalance: strconv.FormatFloat(id.Balance, 'f', -1, 64),
	}
}

// sessionFromFields rebuilds a session. A missing or malformed identity
// yields a nil Identity; the next successful fetch rewrites it.
func sessionFromFields(m map[string]string) quickfood.Session {
	s := quickfood.Session{
		Credential: quickfood.Credential{
			AccessToken:  m[KeyAccessToken],
			RefreshToken: m[KeyRefreshToken],
		},
	}

	role, ok := m[KeyUserRole]
	if !ok || role == "" {
		return s
	}
	id, err := strconv.ParseInt(m[KeyUserID], 10, 64)
	if err != nil {
		return s
	}
	var balance float64
	if raw := m[KeyUserBalance]; raw != "" {
		balance, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return s
		}
	}
	s.Identity = &quickfood.Identity{
		Role:    quickfood.Role(role),
		ID:      id,
		Email:   m[KeyUserEmail],
		Balance: balance,
	}
	return s
}
