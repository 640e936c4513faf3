// Package sessionware guards fiber routes with session bearer tokens.
package sessionware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	accounts "github.com/veridian-labs/go-accounts"
)

// ErrMissingToken is returned when no token is present in the request.
var ErrMissingToken = errors.New("missing or malformed session token")

// DefaultContextKey is where validated claims are stored in locals.
const DefaultContextKey = "session"

// TokenVerifier validates a raw session token. SessionIssuer satisfies it.
type TokenVerifier interface {
	Verify(token string) (*accounts.Claims, error)
}

// Config controls the middleware.
type Config struct {
	// Verifier is required.
	Verifier TokenVerifier
	// ContextKey defaults to DefaultContextKey.
	ContextKey string
	// AuthScheme defaults to "Bearer".
	AuthScheme string
	// CookieName is the fallback token source when the Authorization
	// header is absent. Defaults to the session cookie the login handlers
	// set.
	CookieName string
	// Filter skips the middleware when it returns true.
	Filter func(*fiber.Ctx) bool
	// ErrorHandler handles extraction and validation failures.
	ErrorHandler func(*fiber.Ctx, error) error
}

// New builds the middleware. Expired and invalid tokens are rejected
// uniformly through the error handler.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := extractToken(c, cfg)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		claims, err := cfg.Verifier.Verify(raw)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, claims)
		return c.Next()
	}
}

// ClaimsFrom retrieves validated claims stored by the middleware.
func ClaimsFrom(c *fiber.Ctx, key ...string) (*accounts.Claims, bool) {
	contextKey := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		contextKey = key[0]
	}

	claims, ok := c.Locals(contextKey).(*accounts.Claims)
	return claims, ok
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Verifier == nil {
		panic("Missing TokenVerifier in sessionware config...")
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = accounts.SessionCookieName
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, _ error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"ok":    false,
				"error": "invalid or expired session",
			})
		}
	}

	return cfg
}

func extractToken(c *fiber.Ctx, cfg Config) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header != "" {
		scheme := cfg.AuthScheme + " "
		if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			return strings.TrimSpace(header[len(scheme):]), nil
		}
		return "", ErrMissingToken
	}

	if token := c.Cookies(cfg.CookieName); token != "" {
		return token, nil
	}

	return "", ErrMissingToken
}
