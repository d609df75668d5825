// Package session persists issued sessions in Redis using a compact
// versioned binary encoding. A session is the only artifact that grants
// access to protected resources; it is written exclusively by the engine's
// session issuer.
package session
