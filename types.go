package authgate

import (
	"context"
	"errors"
	"time"
)

// ErrAccountNotFound must be returned by [AccountProvider] lookups when no
// account matches. Any other provider error is treated as a store outage and
// surfaces as [ErrStoreUnavailable], never as a credential rejection.
var ErrAccountNotFound = errors.New("account not found")

// AccountRecord is the account row as seen by the engine. Timestamps are unix
// seconds; zero means unset.
type AccountRecord struct {
	AccountID string
	Email     string

	// PasswordHash is a PHC-format argon2id hash. Empty for accounts that
	// can only sign in through an external identity provider.
	PasswordHash string

	EmailVerifiedAt int64
	// AdminVerifiedAt is a manual override that substitutes for email
	// verification.
	AdminVerifiedAt int64

	Role             string
	TwoFactorEnabled bool
}

// Verified reports whether the account passed the verification gate, either
// by confirming its email or through an admin override.
func (a AccountRecord) Verified() bool {
	return a.EmailVerifiedAt > 0 || a.AdminVerifiedAt > 0
}

// TOTPRecord is retrieved from [AccountProvider.GetTOTPSecret]. Secret is the
// raw shared secret; Confirmed flips when the owner proves possession of the
// authenticator during enrollment.
type TOTPRecord struct {
	Secret    []byte
	Enabled   bool
	Confirmed bool
}

// BackupCodeRecord stores the SHA-256 hash of a single backup code. The
// plaintext is shown to the user exactly once at generation time and never
// persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// CreateAccountInput is the input for [AccountProvider.CreateAccount]. The
// engine normalizes Email before calling.
type CreateAccountInput struct {
	Email        string
	PasswordHash string
	Role         string
}

// AccountProvider is the interface callers implement to connect the engine to
// their account database. Single-use semantics matter for one method:
// ConsumeBackupCode must atomically remove the matched hash and report
// whether this caller removed it, so that two concurrent redemptions of the
// same code produce exactly one true.
type AccountProvider interface {
	GetAccountByEmail(ctx context.Context, email string) (AccountRecord, error)
	GetAccountByID(ctx context.Context, accountID string) (AccountRecord, error)
	CreateAccount(ctx context.Context, input CreateAccountInput) (AccountRecord, error)
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error
	MarkEmailVerified(ctx context.Context, accountID string, verifiedAt int64) error
	UpdateEmail(ctx context.Context, accountID, newEmail string) error

	GetTOTPSecret(ctx context.Context, accountID string) (*TOTPRecord, error)
	EnableTOTP(ctx context.Context, accountID string, secret []byte) error
	ConfirmTOTP(ctx context.Context, accountID string) error
	DisableTOTP(ctx context.Context, accountID string) error

	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, accountID string, codeHash [32]byte) (bool, error)
}

// ValidateResult is returned by [Engine.ValidatePassword]. It proves the
// password was correct and nothing more; it carries no session.
type ValidateResult struct {
	AccountID            string
	Role                 string
	SecondFactorRequired bool
}

// LoginResult is returned by [Engine.Login] and [Engine.ConfirmSecondFactor].
// Exactly one of the two shapes is populated: a session (SessionToken,
// CSRFToken) or a pending second-factor challenge (SecondFactorRequired with
// PendingTicket).
type LoginResult struct {
	SessionID    string
	SessionToken string
	CSRFToken    string

	SecondFactorRequired bool
	PendingTicket        string
	TicketExpiresAt      time.Time
}

// TOTPSetup holds the provisioned secret and otpauth:// URL returned by
// [Engine.GenerateTOTPSetup]. The secret becomes active only after
// [Engine.ConfirmTOTPSetup].
type TOTPSetup struct {
	SecretBase32 string
	OtpauthURL   string
}

// SignupResult is returned by [Engine.Signup]. VerificationToken is the
// plaintext email-verification token to embed in the confirmation link; the
// engine stores only its hash.
type SignupResult struct {
	AccountID         string
	VerificationToken string
}

// TokenPurpose selects a verification-token lifecycle. Tokens of different
// purposes never validate against each other.
type TokenPurpose uint8

const (
	// PurposeEmailVerify confirms ownership of the signup email address.
	PurposeEmailVerify TokenPurpose = iota + 1
	// PurposeEmailChange confirms ownership of a replacement email address.
	PurposeEmailChange
	// PurposePasswordReset authorizes a one-time password replacement.
	PurposePasswordReset
)

func (p TokenPurpose) valid() bool {
	switch p {
	case PurposeEmailVerify, PurposeEmailChange, PurposePasswordReset:
		return true
	}
	return false
}

// String returns the wire name used in store keys and audit metadata.
func (p TokenPurpose) String() string {
	switch p {
	case PurposeEmailVerify:
		return "email_verify"
	case PurposeEmailChange:
		return "email_change"
	case PurposePasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}
