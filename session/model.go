package session

// Session is one authenticated browser session. CSRFHash is the SHA-256 of
// the CSRF token bound to this session; the plaintext token is returned to
// the client once at issuance. Timestamps are unix seconds.
type Session struct {
	SessionID string
	AccountID string
	Role      string

	CSRFHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
