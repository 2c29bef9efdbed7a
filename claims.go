package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are the claims carried by an issued session token
type SessionClaims struct {
	jwt.RegisteredClaims
	UID             string `json:"uid,omitempty"`
	PermissionLevel string `json:"lvl,omitempty"`
}

// AccountID returns the account the token is bound to
func (c *SessionClaims) AccountID() (uuid.UUID, error) {
	if c.UID != "" {
		return uuid.Parse(c.UID)
	}
	return uuid.Parse(c.Subject)
}

// TokenID returns the jti claim
func (c *SessionClaims) TokenID() string {
	return c.ID
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Issued returns the issue time
func (c *SessionClaims) Issued() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
