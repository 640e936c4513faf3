package accounts

import "github.com/goliatone/go-errors"

const (
	TextCodeInvalidToken       = "invalid_token"
	TextCodeCodeNotFound       = "code_not_found"
	TextCodeCodeExpired        = "code_expired"
	TextCodeCodeInvalid        = "code_invalid"
	TextCodeNotEligible        = "email_not_eligible"
	TextCodeCredentialsExist   = "credentials_exist"
	TextCodeInvalidCredentials = "invalid_credentials"
)

// ErrTokenInvalid is the single error returned for every token failure:
// malformed segments, decode errors, signature mismatch, or expiry. Callers
// must not be able to tell which one happened.
var ErrTokenInvalid = errors.New("invalid or expired token", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(errors.CodeUnauthorized)

// ErrCodeNotFound is returned when no verification code exists for the email,
// including after a code has been consumed.
var ErrCodeNotFound = errors.New("invalid code", errors.CategoryAuth).
	WithTextCode(TextCodeCodeNotFound).
	WithCode(errors.CodeBadRequest)

// ErrCodeExpired is returned when the stored code is past its expiry.
var ErrCodeExpired = errors.New("invalid or expired code", errors.CategoryAuth).
	WithTextCode(TextCodeCodeExpired).
	WithCode(errors.CodeBadRequest)

// ErrCodeInvalid is returned on a hash mismatch. The stored code survives,
// so the user may retry until it expires.
var ErrCodeInvalid = errors.New("invalid code", errors.CategoryAuth).
	WithTextCode(TextCodeCodeInvalid).
	WithCode(errors.CodeBadRequest)

// ErrNotEligible is returned when credential creation is attempted before
// both the code and the link proof have completed.
var ErrNotEligible = errors.New("email not fully verified and confirmed", errors.CategoryAuthz).
	WithTextCode(TextCodeNotEligible).
	WithCode(errors.CodeForbidden)

// ErrCredentialsExist is returned when the email already has credentials.
var ErrCredentialsExist = errors.New("email already has credentials", errors.CategoryConflict).
	WithTextCode(TextCodeCredentialsExist).
	WithCode(errors.CodeConflict)

// ErrInvalidCredentials covers both "no such account" and "wrong password"
// so login responses cannot be used for account enumeration.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)
