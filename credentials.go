package accounts

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

// CredentialAlgScrypt tags records hashed with the current KDF.
const CredentialAlgScrypt = "scrypt"

// KDF parameters are fixed constants of the component, not caller
// configurable, so a compromised caller cannot downgrade them.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltLen      = 16
)

// Credentials creates and authenticates password credentials. Creation is
// gated on the reconciler reporting both proofs complete.
type Credentials struct {
	creds       Store
	index       Store
	legacyUsers Store
	status      StatusSource
	logger      Logger
	now         func() time.Time
}

// NewCredentials creates the credential store over user_credentials and its
// companion stores.
func NewCredentials(stores StoreProvider, status StatusSource, logger Logger) *Credentials {
	if logger == nil {
		logger = defLogger{}
	}
	return &Credentials{
		creds:       stores.Open(StoreUserCredentials),
		index:       stores.Open(StoreEmailIndex),
		legacyUsers: stores.Open(StoreLegacyUsers),
		status:      status,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source for tests.
func (c *Credentials) WithClock(now func() time.Time) *Credentials {
	if now != nil {
		c.now = now
	}
	return c
}

// Create derives and persists a password credential for the email. It fails
// with ErrNotEligible unless both proofs are complete and with
// ErrCredentialsExist when a record is already present (first writer wins).
//
// The existence check and the write are not atomic: the store has no
// conditional writes, so two concurrent first creates for the same email can
// both pass the check. Accepted as a known limitation.
func (c *Credentials) Create(ctx context.Context, email, password string) (*CredentialRecord, error) {
	key := NormalizeEmail(email)

	status, err := c.status.Status(ctx, key)
	if err != nil {
		return nil, err
	}
	if !status.Eligible() {
		return nil, ErrNotEligible
	}

	if _, err := c.creds.Get(ctx, key); err == nil {
		return nil, ErrCredentialsExist
	} else if !goerrors.IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to check existing credentials")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate salt")
	}

	hash, err := deriveKey(password, salt)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive password hash")
	}

	rec := &CredentialRecord{
		ID:        credentialID(key),
		Email:     key,
		Alg:       CredentialAlgScrypt,
		Salt:      hex.EncodeToString(salt),
		Hash:      hex.EncodeToString(hash),
		CreatedAt: c.now(),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode credential record")
	}
	if err := c.creds.Set(ctx, key, raw); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to persist credentials")
	}
	if err := c.index.Set(ctx, key, []byte(key)); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to persist email index")
	}

	return rec, nil
}

// Authenticate verifies a password against the stored credential. Every
// failure, including "no such account", maps to ErrInvalidCredentials.
func (c *Credentials) Authenticate(ctx context.Context, loginID, password string) (*CredentialRecord, error) {
	rec := c.lookup(ctx, loginID)
	if rec == nil {
		return nil, ErrInvalidCredentials
	}

	salt, err := hex.DecodeString(rec.Salt)
	if err != nil || len(salt) == 0 {
		return nil, ErrInvalidCredentials
	}
	expected, err := hex.DecodeString(rec.Hash)
	if err != nil || len(expected) == 0 {
		return nil, ErrInvalidCredentials
	}

	got, err := deriveKey(password, salt)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if len(got) != len(expected) || subtle.ConstantTimeCompare(got, expected) != 1 {
		return nil, ErrInvalidCredentials
	}

	return rec, nil
}

// Has reports whether the email has credentials, via the email index.
func (c *Credentials) Has(ctx context.Context, email string) bool {
	_, err := c.index.Get(ctx, NormalizeEmail(email))
	return err == nil
}

// lookup resolves a login identifier to a credential record: the canonical
// store keyed by email first, then the legacy username store.
func (c *Credentials) lookup(ctx context.Context, loginID string) *CredentialRecord {
	id := strings.ToLower(strings.TrimSpace(loginID))
	if id == "" {
		return nil
	}

	if strings.Contains(id, "@") {
		if raw, err := c.creds.Get(ctx, id); err == nil {
			var rec CredentialRecord
			if err := json.Unmarshal(raw, &rec); err == nil && rec.Salt != "" && rec.Hash != "" {
				return &rec
			}
		}
		// Legacy data mapped emails to usernames through the index.
		if uname, err := c.index.Get(ctx, id); err == nil {
			if raw, err := c.legacyUsers.Get(ctx, strings.ToLower(string(uname))); err == nil {
				return decodeLegacyUser(raw)
			}
		}
		return nil
	}

	if raw, err := c.legacyUsers.Get(ctx, id); err == nil {
		return decodeLegacyUser(raw)
	}

	return nil
}

// decodeLegacyUser is the single adapter for the historical users-store
// shape {username, email, pwd_scrypt_hex, salt_hex}.
func decodeLegacyUser(raw []byte) *CredentialRecord {
	var aux struct {
		Email   string `json:"email"`
		SaltHex string `json:"salt_hex"`
		Salt    string `json:"salt"`
		HashHex string `json:"pwd_scrypt_hex"`
		Hash    string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return nil
	}

	email := NormalizeEmail(aux.Email)
	salt := aux.SaltHex
	if salt == "" {
		salt = aux.Salt
	}
	hash := aux.HashHex
	if hash == "" {
		hash = aux.Hash
	}
	if email == "" || salt == "" || hash == "" {
		return nil
	}

	return &CredentialRecord{
		ID:    credentialID(email),
		Email: email,
		Alg:   CredentialAlgScrypt,
		Salt:  salt,
		Hash:  hash,
	}
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
}

// credentialID derives a stable record id from the email.
func credentialID(email string) uuid.UUID {
	if id, err := hashid.NewUUID(email); err == nil {
		return id
	}
	return uuid.New()
}
