// Package authgate implements the identity layer of a multi-tenant web
// application: password login, mandatory second-factor verification (TOTP and
// single-use backup codes), email-verification and password-reset token
// lifecycles, per-action rate limiting, and CSRF token enforcement.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config],
// sentinel errors, and value types (LoginResult, ValidateResult, AuditEvent,
// MetricsSnapshot). Coordination primitives such as rate-limit keys, random
// token encoding, and store record formats live under internal/ and are
// never exported.
//
// # Session ordering contract
//
// The engine mints a session in exactly two places: a password validation
// that required no second factor, and a finalized second-factor confirmation.
// Both paths funnel through an unexported grant value that no other code can
// construct, so a pending-auth ticket can never be upgraded to a session by
// any handler-level shortcut. Abandoning or expiring a ticket leaves no
// session behind because none was created.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store records, or encoding details in its API.
//   - Create a session from [Engine.ValidatePassword]; that method returns an
//     account identity only.
//   - Deliver email or any other out-of-band message; callers own transport.
package authgate
