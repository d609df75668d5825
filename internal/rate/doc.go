// Package rate implements the Redis-backed fixed-window attempt counters
// behind every protected identity operation.
//
// # Window semantics
//
// One counter per (action, identifier): INCR plus a conditional EXPIRE on the
// first hit of the window. A request arriving exactly at the window boundary
// lands in the new window, because the old key has already expired by then.
// Counters are never shared across actions.
//
// # Global floor
//
// Independent of per-action policies, a per-source-address ceiling is applied
// across all actions as last-resort abuse protection. It cannot be configured
// below a hard minimum.
//
// # What this package must NOT do
//
//   - Implement domain policy (which actions exist with which budgets is the
//     engine configuration's concern).
//   - Be imported from outside the authgate module.
package rate
