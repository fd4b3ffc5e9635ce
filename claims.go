package admission

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims of a session token minted for an admitted
// and approved identity.
type SessionClaims struct {
	jwt.RegisteredClaims
	UID      string   `json:"uid,omitempty"`
	UserRole UserRole `json:"role,omitempty"`
	Org      string   `json:"org,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Verified bool     `json:"verified"`
}

// UserID returns the identity, falling back to the subject.
func (c *SessionClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

// Role returns the role claim
func (c *SessionClaims) Role() UserRole {
	return c.UserRole
}

// IsAdmin reports whether the session belongs to an org admin.
func (c *SessionClaims) IsAdmin() bool {
	return IsAdmin(c.UserRole)
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}
