package authgate

import "errors"

var (
	// ErrInvalidCredentials covers every anti-enumeration login rejection:
	// unknown email, wrong password, passwordless (OAuth-only) account.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailNotVerified is a remediable account-state rejection. The caller
	// already proved the password, so this may be surfaced distinctly.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrLoginRateLimited signals the login attempt budget is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrSecondFactorRequired is returned by helpers that cannot continue a
	// login because the account requires a second factor.
	ErrSecondFactorRequired = errors.New("second factor required")
	// ErrSecondFactorInvalid covers a wrong TOTP or backup code. The pending
	// ticket stays redeemable until its TTL or attempt budget runs out.
	ErrSecondFactorInvalid = errors.New("invalid second factor code")
	// ErrSecondFactorRateLimited signals the verification attempt budget is
	// exhausted for this account.
	ErrSecondFactorRateLimited = errors.New("second factor rate limited")
	// ErrTicketInvalid means the pending-auth ticket does not exist. Emitted
	// for malformed ids and for tickets already consumed then evicted.
	ErrTicketInvalid = errors.New("pending auth ticket invalid")
	// ErrTicketExpired means the ticket TTL elapsed; the caller must restart
	// from password validation.
	ErrTicketExpired = errors.New("pending auth ticket expired")
	// ErrTicketReplay means two redemptions raced and this one lost.
	ErrTicketReplay = errors.New("pending auth ticket already redeemed")
	// ErrTicketAttemptsExceeded means the per-ticket failure budget ran out
	// and the ticket was destroyed.
	ErrTicketAttemptsExceeded = errors.New("pending auth ticket attempts exceeded")
	// ErrTicketUnavailable is an infrastructure failure, never a credential
	// problem.
	ErrTicketUnavailable = errors.New("pending auth ticket backend unavailable")

	// ErrTOTPNotEnabled is returned by second-factor operations on accounts
	// without an enrolled authenticator.
	ErrTOTPNotEnabled = errors.New("totp not enabled for account")
	// ErrTOTPSetupInvalid means the confirmation code during enrollment did
	// not match the provisioned secret.
	ErrTOTPSetupInvalid = errors.New("totp setup code invalid")
	// ErrTOTPSetupRateLimited caps enrollment attempts.
	ErrTOTPSetupRateLimited = errors.New("totp setup rate limited")
	// ErrBackupCodeInvalid means the submitted backup code matched no stored
	// hash.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrBackupCodesNotConfigured means the account has no backup codes left
	// or never generated any.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")
	// ErrBackupCodeUnavailable is an infrastructure failure in the backup
	// code vault.
	ErrBackupCodeUnavailable = errors.New("backup code backend unavailable")

	// ErrTokenInvalid means the verification token never existed or is
	// malformed. Callers must not surface more detail than this.
	ErrTokenInvalid = errors.New("verification token invalid")
	// ErrTokenExpired means the token existed but its TTL elapsed; the
	// remedy is requesting a new one.
	ErrTokenExpired = errors.New("verification token expired")
	// ErrTokenAlreadyUsed means the token was consumed before; the remedy is
	// proceeding to login, not requesting a new token.
	ErrTokenAlreadyUsed = errors.New("verification token already used")
	// ErrTokenRateLimited caps issue and consume attempts per action.
	ErrTokenRateLimited = errors.New("verification token rate limited")
	// ErrTokenUnavailable is an infrastructure failure in the token store.
	ErrTokenUnavailable = errors.New("verification token backend unavailable")

	// ErrCSRFRejected is the single, uniform CSRF failure. It never reveals
	// whether the token was missing, expired, or mismatched.
	ErrCSRFRejected = errors.New("csrf token rejected")

	// ErrPasswordPolicy rejects a new password before any token or store
	// side effect.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrSessionNotFound is returned by session validation and logout.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCreationFailed wraps infrastructure failures while minting a
	// session.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSignupRateLimited caps account creation per source address.
	ErrSignupRateLimited = errors.New("signup rate limited")
	// ErrAccountExists is returned on duplicate signup email.
	ErrAccountExists = errors.New("account already exists")
	// ErrEngineNotReady means the engine was used before Build wired its
	// dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable is the generic durable-store outage error. It must
	// surface as a 5xx-class failure, never as a credential rejection.
	ErrStoreUnavailable = errors.New("durable store unavailable")
)
