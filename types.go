package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Store is one named key-value blob store. The backing service offers no
// transactions and no compare-and-swap; every cross-record guarantee in this
// package is built on merge semantics instead of mutual exclusion.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// StoreProvider opens logical stores by name.
type StoreProvider interface {
	Open(name string) Store
}

// Email is an outbound message handed to a Mailer.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers email out of band. Delivery failure after the provider
// accepts the message is out of scope.
type Mailer interface {
	Send(msg Email) error
}

// Config holds protocol options. Secrets and TTLs are injected through this
// interface; components never read the environment themselves.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetPublicBaseURL() string
	GetCodeTTL() time.Duration
	GetConfirmTokenTTL() time.Duration
	GetSessionTTL() time.Duration
	GetGuestSessionTTL() time.Duration
}

// StatusRecorder is the write half of the reconciler, consumed by the
// verification code service and the confirm-email handler.
type StatusRecorder interface {
	MarkVerified(ctx context.Context, email string) (*EmailStatus, error)
	MarkConfirmed(ctx context.Context, email string) (*EmailStatus, error)
}

// StatusSource is the read half, consumed by the credential store's
// eligibility gate.
type StatusSource interface {
	Status(ctx context.Context, email string) (*EmailStatus, error)
}

// NormalizeEmail lower-cases and trims an address. Every store is keyed by
// the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCOUNTS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
