package accounts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec signs and verifies compact signed tokens: three base64url
// segments (header, claims, HMAC-SHA256 signature) joined by dots.
type TokenCodec interface {
	Sign(claims *Claims) (string, error)
	Verify(token string) (*Claims, error)
}

// HMACCodec is the TokenCodec implementation. The signing method is pinned
// to HMAC; a token claiming any other algorithm fails verification.
type HMACCodec struct {
	signingKey []byte
	issuer     string
	logger     Logger
	now        func() time.Time
}

var _ TokenCodec = (*HMACCodec)(nil)

// NewTokenCodec creates a codec for the given server secret.
func NewTokenCodec(signingKey []byte, issuer string, logger Logger) *HMACCodec {
	if logger == nil {
		logger = defLogger{}
	}
	return &HMACCodec{
		signingKey: signingKey,
		issuer:     issuer,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source, mainly for expiry tests.
func (c *HMACCodec) WithClock(now func() time.Time) *HMACCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// Sign serializes claims and appends an HMAC-SHA256 signature. No side
// effects; the token is immutable once returned.
func (c *HMACCodec) Sign(claims *Claims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryBadInput)
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if claims.Issuer == "" {
		claims.Issuer = c.issuer
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(c.now())
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return signed, nil
}

// Verify recomputes and checks the signature (constant time, equal-length
// gated inside the HMAC verifier) and enforces expiry. Every failure mode
// collapses to ErrTokenInvalid so callers cannot distinguish a bad signature
// from a mangled or expired token.
func (c *HMACCodec) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.signingKey, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())

	if err != nil {
		c.logger.Debug("token rejected: %v", err)
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
