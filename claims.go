package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token purposes. The codec itself is purpose agnostic; callers check the
// discriminator after Verify.
const (
	PurposeConfirm = "confirm"
	PurposeSession = "session"
)

// Claims is the payload of every token this package issues: confirmation
// links and session bearer tokens alike.
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	Role    string `json:"role,omitempty"`
}

// HasPurpose reports whether the token was issued for the given purpose.
func (c *Claims) HasPurpose(purpose string) bool {
	return c != nil && c.Purpose == purpose
}

// SubjectEmail returns the email the token was issued for. Older tokens
// carried the address only in the subject claim.
func (c *Claims) SubjectEmail() string {
	if c == nil {
		return ""
	}
	if c.Email != "" {
		return NormalizeEmail(c.Email)
	}
	return NormalizeEmail(c.RegisteredClaims.Subject)
}

// Expires returns the expiry instant, zero when absent.
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}
