package accounts

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Code alphabet: consonant-vowel-consonant triples from a restricted set.
// The consonants drop ambiguous glyphs (I, L, O) and the vowels are limited
// to avoid spelling anything unfortunate.
const (
	codeConsonants = "BCDFGHJKMNPQRSTVWXYZ"
	codeVowels     = "AEU"
	codeLength     = 6
)

// DefaultCodeTTL is how long an issued code stays valid.
const DefaultCodeTTL = 10 * time.Minute

// CodeService issues and validates human-typed verification codes. Codes are
// stored hashed, expire, and are consumed on first successful validation.
type CodeService struct {
	codes  Store
	status StatusRecorder
	ttl    time.Duration
	logger Logger
	now    func() time.Time
}

// NewCodeService creates a code service over the email_codes store.
func NewCodeService(stores StoreProvider, status StatusRecorder, ttl time.Duration, logger Logger) *CodeService {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &CodeService{
		codes:  stores.Open(StoreEmailCodes),
		status: status,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *CodeService) WithClock(now func() time.Time) *CodeService {
	if now != nil {
		s.now = now
	}
	return s
}

// TTL returns the configured code lifetime.
func (s *CodeService) TTL() time.Duration {
	return s.ttl
}

// Issue generates a fresh code for the email and persists its hash,
// replacing any code previously issued for the same address. The raw code is
// returned for out-of-band delivery and never retained.
func (s *CodeService) Issue(ctx context.Context, email string) (string, error) {
	key := NormalizeEmail(email)

	code, err := makeCode()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
	}

	now := s.now()
	rec := CodeRecord{
		CodeHash:  hashCode(NormalizeCode(code)),
		ExpiresAt: now.Add(s.ttl),
		IssuedAt:  now,
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode code record")
	}

	if err := s.codes.Set(ctx, key, raw); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "failed to persist verification code")
	}

	return code, nil
}

// Validate checks a submitted code against the stored hash. On a match the
// record is deleted (single use) and the email is marked verified. On a
// mismatch the record survives so the user can retry until expiry.
func (s *CodeService) Validate(ctx context.Context, email, submitted string) error {
	key := NormalizeEmail(email)

	raw, err := s.codes.Get(ctx, key)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrCodeNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load verification code")
	}

	var rec CodeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ErrCodeNotFound
	}
	if rec.CodeHash == "" || rec.Expired(s.now()) {
		return ErrCodeExpired
	}

	got := hashCode(NormalizeCode(submitted))
	if subtle.ConstantTimeCompare([]byte(got), []byte(rec.CodeHash)) != 1 {
		return ErrCodeInvalid
	}

	// Single use: drop the record before recording the proof so that a
	// replay of the same code lands on NotFound. A concurrent validation
	// racing this delete is accepted as low probability, low severity.
	if err := s.codes.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete consumed code for %s: %v", key, err)
	}

	if _, err := s.status.MarkVerified(ctx, key); err != nil {
		return err
	}

	return nil
}

// NormalizeCode uppercases and strips everything outside A-Z0-9, so
// "bav-rek" and "BAV REK" both compare as "BAVREK".
func NormalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hashCode(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// makeCode builds two consonant-vowel-consonant triples joined by a dash,
// e.g. BAV-REK.
func makeCode() (string, error) {
	tri := func() (string, error) {
		a, err := pickByte(codeConsonants)
		if err != nil {
			return "", err
		}
		b, err := pickByte(codeVowels)
		if err != nil {
			return "", err
		}
		c, err := pickByte(codeConsonants)
		if err != nil {
			return "", err
		}
		return string([]byte{a, b, c}), nil
	}

	first, err := tri()
	if err != nil {
		return "", err
	}
	second, err := tri()
	if err != nil {
		return "", err
	}

	return first + "-" + second, nil
}

func pickByte(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, err
	}
	return alphabet[n.Int64()], nil
}
