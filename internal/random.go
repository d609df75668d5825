package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"
)

// TicketID identifies a pending-auth ticket, a verification token, or a
// session. 128 bits of entropy, base64url on the wire.
type TicketID [16]byte

const (
	tokenSecretSize  = 32
	opaqueTokenSize  = 16 + tokenSecretSize
	csrfTokenSize    = 32
	backupCodeChars  = "ABCDEFGHJKMNPQRSTVWXYZ0123456789" // Crockford-ish, no I/L/O/U
	backupCodeGroups = 5
)

func NewTicketID() (TicketID, error) {
	var id TicketID
	_, err := rand.Read(id[:])
	return id, err
}

func (t TicketID) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

func ParseTicketID(s string) (TicketID, error) {
	var id TicketID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid ticket id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewTokenSecret returns the secret half of an opaque verification token.
func NewTokenSecret() ([tokenSecretSize]byte, error) {
	var secret [tokenSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashTokenSecret is what the store persists; the plaintext secret leaves the
// process exactly once, inside the emailed link.
func HashTokenSecret(secret [tokenSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// HashTokenBytes hashes an untrusted candidate secret during consumption.
func HashTokenBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeOpaqueToken packs id||secret into one base64url string.
func EncodeOpaqueToken(id TicketID, secret [tokenSecretSize]byte) string {
	var raw [opaqueTokenSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeOpaqueToken splits a candidate token back into id and secret. Any
// malformed input is a single generic error; callers map it to their
// anti-enumeration rejection.
func DecodeOpaqueToken(token string) (TicketID, [tokenSecretSize]byte, error) {
	var (
		id     TicketID
		secret [tokenSecretSize]byte
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != opaqueTokenSize {
		return id, secret, errors.New("invalid token size")
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}

// NewCSRFToken returns a fresh double-submit token value.
func NewCSRFToken() (string, error) {
	var raw [csrfTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewBackupCode returns a backup code over a 32-character alphabet that
// avoids visually ambiguous letters. Entropy is 5 bits per character.
func NewBackupCode(length int) (string, error) {
	if length < 8 {
		return "", errors.New("backup code length must be >= 8")
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(length)
	for _, v := range raw {
		b.WriteByte(backupCodeChars[int(v)%len(backupCodeChars)])
	}
	return b.String(), nil
}

// FormatBackupCode inserts a hyphen every five characters for display.
func FormatBackupCode(code string) string {
	if len(code) <= backupCodeGroups {
		return code
	}

	var b strings.Builder
	for i, r := range code {
		if i > 0 && i%backupCodeGroups == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CanonicalizeBackupCode strips separators and upper-cases user input so the
// displayed and typed forms hash identically.
func CanonicalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// BackupCodeHash binds the code hash to its account so equal codes on
// different accounts never collide in storage.
func BackupCodeHash(accountID, canonicalCode string) [32]byte {
	return sha256.Sum256([]byte(accountID + ":" + canonicalCode))
}

// DecodeBase32Secret decodes an unpadded base32 TOTP secret.
func DecodeBase32Secret(s string) ([]byte, error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return enc.DecodeString(strings.ToUpper(strings.TrimSpace(s)))
}
