package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session TTL defaults. Sessions are client-held bearer tokens; the server
// keeps no session state and expiry is the only way a session ends.
const (
	DefaultSessionTTL      = time.Hour
	DefaultGuestSessionTTL = time.Hour
)

// SessionToken is a freshly issued bearer token and its expiry, handy for
// setting cookies.
type SessionToken struct {
	Token     string
	ExpiresAt time.Time
}

// SessionIssuer produces short-lived session tokens for authenticated users
// and anonymous guests.
type SessionIssuer struct {
	codec    TokenCodec
	ttl      time.Duration
	guestTTL time.Duration
	now      func() time.Time
}

// NewSessionIssuer creates an issuer over the given codec. Non-positive TTLs
// fall back to the defaults.
func NewSessionIssuer(codec TokenCodec, sessionTTL, guestTTL time.Duration) *SessionIssuer {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if guestTTL <= 0 {
		guestTTL = DefaultGuestSessionTTL
	}
	return &SessionIssuer{
		codec:    codec,
		ttl:      sessionTTL,
		guestTTL: guestTTL,
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *SessionIssuer) WithClock(now func() time.Time) *SessionIssuer {
	if now != nil {
		s.now = now
	}
	return s
}

// IssueGuest produces an anonymous session token. No eligibility checks.
func (s *SessionIssuer) IssueGuest() (*SessionToken, error) {
	return s.issue(RoleGuest, "", s.guestTTL, RoleGuest)
}

// IssueAuthenticated produces a session token for an authenticated email.
// Call only after Credentials.Authenticate succeeds.
func (s *SessionIssuer) IssueAuthenticated(email string) (*SessionToken, error) {
	key := NormalizeEmail(email)
	return s.issue(key, key, s.ttl, RoleMember)
}

func (s *SessionIssuer) issue(subject, email string, ttl time.Duration, role UserRole) (*SessionToken, error) {
	now := s.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:   email,
		Purpose: PurposeSession,
		Role:    role,
	}

	token, err := s.codec.Sign(claims)
	if err != nil {
		return nil, err
	}

	return &SessionToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Verify checks an incoming session token: codec verification plus the
// purpose discriminator. Wrong-purpose tokens fail exactly like invalid
// ones.
func (s *SessionIssuer) Verify(token string) (*Claims, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, err
	}
	if !claims.HasPurpose(PurposeSession) {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
