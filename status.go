package accounts

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Reconciler owns the canonical EmailStatus record. The two proof channels
// (typed code, clicked link) complete independently and in either order;
// every write here is a commutative, idempotent merge so that a lost update
// against the non-transactional store degrades into a repeat of the same
// merge instead of corrupting state.
type Reconciler struct {
	status Store
	legacy Store
	logger Logger
	now    func() time.Time
}

var (
	_ StatusRecorder = (*Reconciler)(nil)
	_ StatusSource   = (*Reconciler)(nil)
)

// NewReconciler creates a reconciler over the canonical email_status store
// and the legacy verified_emails store.
func NewReconciler(stores StoreProvider, logger Logger) *Reconciler {
	if logger == nil {
		logger = defLogger{}
	}
	return &Reconciler{
		status: stores.Open(StoreEmailStatus),
		legacy: stores.Open(StoreLegacyStatus),
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// MarkVerified records a successful code validation. The timestamp is set
// only the first time; a later call never overwrites it.
func (r *Reconciler) MarkVerified(ctx context.Context, email string) (*EmailStatus, error) {
	return r.mark(ctx, email, func(s *EmailStatus, at time.Time) {
		s.Verified = true
		if s.VerifiedAt == nil {
			s.VerifiedAt = &at
		}
	})
}

// MarkConfirmed records a successful link confirmation.
func (r *Reconciler) MarkConfirmed(ctx context.Context, email string) (*EmailStatus, error) {
	return r.mark(ctx, email, func(s *EmailStatus, at time.Time) {
		s.Confirmed = true
		if s.ConfirmedAt == nil {
			s.ConfirmedAt = &at
		}
	})
}

func (r *Reconciler) mark(ctx context.Context, email string, apply func(*EmailStatus, time.Time)) (*EmailStatus, error) {
	key := NormalizeEmail(email)

	cur, err := r.read(ctx, r.status, key)
	if err != nil {
		return nil, err
	}

	at := r.now()
	apply(cur, at)
	cur.Email = key
	cur.UpdatedAt = &at

	if err := r.write(ctx, r.status, key, cur); err != nil {
		return nil, err
	}

	return cur, nil
}

// Status reads the canonical record, defaulting to all-false when absent.
func (r *Reconciler) Status(ctx context.Context, email string) (*EmailStatus, error) {
	key := NormalizeEmail(email)

	cur, err := r.read(ctx, r.status, key)
	if err != nil {
		return nil, err
	}
	cur.Email = key

	return cur, nil
}

// Reconcile folds the legacy store into the canonical record and writes the
// merged result back to both. The merge rule is logical OR for every boolean
// and earliest-non-nil for every timestamp, so the operation is idempotent,
// safe with partial inputs, and can never regress a true flag.
func (r *Reconciler) Reconcile(ctx context.Context, email string) (*EmailStatus, error) {
	key := NormalizeEmail(email)

	canonical, err := r.read(ctx, r.status, key)
	if err != nil {
		return nil, err
	}

	legacy := &EmailStatus{}
	if raw, err := r.legacy.Get(ctx, key); err == nil {
		legacy = decodeLegacyStatus(raw)
	} else if !goerrors.IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read legacy status")
	}

	merged := mergeStatus(canonical, legacy)
	merged.Email = key
	at := r.now()
	merged.UpdatedAt = &at

	if err := r.write(ctx, r.status, key, merged); err != nil {
		return nil, err
	}
	// Backfill the legacy store so anything still reading it sees the same
	// truth. Best effort; the canonical write above is the one that counts.
	if err := r.write(ctx, r.legacy, key, merged); err != nil {
		r.logger.Warn("failed to backfill legacy status for %s: %v", key, err)
	}

	return merged, nil
}

func (r *Reconciler) read(ctx context.Context, store Store, key string) (*EmailStatus, error) {
	raw, err := store.Get(ctx, key)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return &EmailStatus{}, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read email status")
	}

	var s EmailStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		// Unparseable records are treated as legacy shapes rather than lost.
		return decodeLegacyStatus(raw), nil
	}

	return &s, nil
}

func (r *Reconciler) write(ctx context.Context, store Store, key string, s *EmailStatus) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode email status")
	}
	if err := store.Set(ctx, key, raw); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to persist email status")
	}
	return nil
}

// mergeStatus combines two records: OR on booleans, earliest non-nil wins on
// timestamps. Both inputs may be partial.
func mergeStatus(a, b *EmailStatus) *EmailStatus {
	if a == nil {
		a = &EmailStatus{}
	}
	if b == nil {
		b = &EmailStatus{}
	}
	return &EmailStatus{
		Verified:    a.Verified || b.Verified,
		VerifiedAt:  earliest(a.VerifiedAt, b.VerifiedAt),
		Confirmed:   a.Confirmed || b.Confirmed,
		ConfirmedAt: earliest(a.ConfirmedAt, b.ConfirmedAt),
	}
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	default:
		return a
	}
}

// decodeLegacyStatus is the single adapter for the historical record shapes:
// snake_case timestamp names, RFC3339 strings, and epoch-millisecond
// numbers. A flag counts as set if either the boolean or its timestamp is
// present in any variant.
func decodeLegacyStatus(raw []byte) *EmailStatus {
	var aux struct {
		Email            string          `json:"email"`
		Verified         bool            `json:"verified"`
		Confirmed        bool            `json:"confirmed"`
		VerifiedAt       json.RawMessage `json:"verifiedAt"`
		ConfirmedAt      json.RawMessage `json:"confirmedAt"`
		VerifiedAtSnake  json.RawMessage `json:"verified_at"`
		ConfirmedAtSnake json.RawMessage `json:"confirmed_at"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return &EmailStatus{}
	}

	verifiedAt := earliest(parseLooseTime(aux.VerifiedAt), parseLooseTime(aux.VerifiedAtSnake))
	confirmedAt := earliest(parseLooseTime(aux.ConfirmedAt), parseLooseTime(aux.ConfirmedAtSnake))

	return &EmailStatus{
		Email:       NormalizeEmail(aux.Email),
		Verified:    aux.Verified || verifiedAt != nil,
		VerifiedAt:  verifiedAt,
		Confirmed:   aux.Confirmed || confirmedAt != nil,
		ConfirmedAt: confirmedAt,
	}
}

// parseLooseTime accepts RFC3339 strings and epoch milliseconds.
func parseLooseTime(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t
		}
		return nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		return &t
	}

	return nil
}
