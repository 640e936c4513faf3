package accounts

import (
	"time"

	"github.com/google/uuid"
)

// Logical store names. They match the blob stores the original site
// functions wrote, so existing records stay readable.
const (
	StoreEmailCodes      = "email_codes"
	StoreEmailStatus     = "email_status"
	StoreLegacyStatus    = "verified_emails"
	StoreUserCredentials = "user_credentials"
	StoreEmailIndex      = "email_index"
	StoreLegacyUsers     = "users"
	StoreWebsiteInfra    = "website_infra"
)

// UserRole is the role carried in session claims.
type UserRole = string

const (
	// RoleGuest is an anonymous session
	RoleGuest UserRole = "guest"
	// RoleMember is an authenticated session
	RoleMember UserRole = "member"
)

// CodeRecord is what the code service persists: the one-way hash of a
// verification code, never the code itself.
type CodeRecord struct {
	CodeHash  string    `json:"codeHash"`
	ExpiresAt time.Time `json:"expiresAt"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// Expired reports whether the record is past its expiry at now.
func (r CodeRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// EmailStatus is the canonical per-email record merging the two independent
// proof signals. Verified is set only by code validation, Confirmed only by
// link confirmation; once true a flag never goes back to false.
type EmailStatus struct {
	Email       string     `json:"email,omitempty"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Eligible reports whether both proofs have completed.
func (s *EmailStatus) Eligible() bool {
	return s != nil && s.Verified && s.Confirmed
}

// CredentialRecord is the password credential for one email. Created exactly
// once and never mutated afterwards; there is no password-change flow.
type CredentialRecord struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"uid"`
	Alg       string    `json:"alg"`
	Salt      string    `json:"salt"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// TrackingRecord is one row of the site infrastructure inventory.
type TrackingRecord struct {
	Website          string    `json:"website"`
	HostedOn         string    `json:"hostedOn"`
	CodeStoredOn     string    `json:"codeStoredOn"`
	WebsiteEmail     string    `json:"websiteEmail"`
	CorporateEmail   string    `json:"corporateEmail"`
	AIDilemmaService string    `json:"aiDilemmaService"`
	CreatedAt        time.Time `json:"createdAt"`
}
