// Package accounts implements passwordless email verification and credential
// bootstrap on top of a pluggable key-value blob store.
//
// Verification flow:
//   - CodeService issues short human-typeable codes (stored hashed, with a
//     TTL) and validates them exactly once. A successful validation marks the
//     email verified through the Reconciler.
//   - HMACCodec signs and verifies purpose-scoped JWTs. Confirmation links
//     embed a "confirm" token; session tokens carry the "session" purpose.
//   - Reconciler owns the canonical email status record and merges in the
//     legacy store's shapes so older deployments converge without data loss.
//
// Credentials and sessions:
//   - Credentials gates account creation on an email being both verified and
//     confirmed, derives scrypt keys, and authenticates against canonical or
//     legacy records with a uniform failure mode.
//   - SessionIssuer mints guest and authenticated session tokens and verifies
//     them for the sessionware middleware.
//
// AccountController binds the pieces to a Fiber application; blobstore ships
// in-memory and Bun/SQLite providers for the Store abstraction.
package accounts
