package authgate

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/karwick/authgate/internal/rate"
)

// RequestEmailVerification issues (or reissues) the verification token for
// an unverified account. An unknown or already-verified address returns an
// empty token and no error, so callers can answer uniformly.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	if e == nil || e.accounts == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return "", nil
	}

	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionEmailVerificationResend, ip, "email:"+email); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.emitRateLimit(ctx, "email_verification_resend", nil)
			return "", ErrTokenRateLimited
		}
		return "", ErrStoreUnavailable
	}

	account, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventEmailVerifyRequest, false, "", "", ErrAccountNotFound, func() map[string]string {
				return map[string]string{"email": email}
			})
			return "", nil
		}
		return "", ErrStoreUnavailable
	}
	if account.Verified() {
		return "", nil
	}

	token, err := e.issueVerificationToken(ctx, account.AccountID, PurposeEmailVerify, e.config.EmailVerification.TTL, "")
	if err != nil {
		return "", err
	}

	e.emitAudit(ctx, auditEventEmailVerifyRequest, true, account.AccountID, "", nil, nil)
	return token, nil
}

// ConfirmEmailVerification redeems the token from the signup email and marks
// the account verified. Replay of a consumed token returns
// ErrTokenAlreadyUsed, distinct from expiry, so the caller can tell the user
// "already verified, go log in" instead of sending a new link.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return ErrTokenInvalid
	}

	record, tokenID, err := e.consumeVerificationToken(ctx, PurposeEmailVerify, token)
	if err != nil {
		return err
	}

	if err := e.accounts.MarkEmailVerified(ctx, record.AccountID, time.Now().Unix()); err != nil {
		e.restoreVerificationToken(ctx, PurposeEmailVerify, tokenID)
		return ErrStoreUnavailable
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerifyConfirm, true, record.AccountID, "", nil, nil)
	return nil
}

// RequestEmailChange issues a confirmation token bound to the replacement
// address. The change takes effect only when the token arrives back through
// ConfirmEmailChange, proving the caller controls the new mailbox. A
// replacement address already in use yields an empty token and no error.
func (e *Engine) RequestEmailChange(ctx context.Context, accountID, newEmail string) (string, error) {
	if e == nil || e.accounts == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.EmailChange.Enabled {
		return "", nil
	}

	newEmail = normalizeEmail(newEmail)
	if _, err := mail.ParseAddress(newEmail); err != nil {
		return "", ErrTokenInvalid
	}

	ip := clientIPFromContext(ctx)
	if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionEmailChange, ip, "acct:"+accountID); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.emitRateLimit(ctx, "email_change", nil)
			return "", ErrTokenRateLimited
		}
		return "", ErrStoreUnavailable
	}

	if _, err := e.accounts.GetAccountByID(ctx, accountID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", ErrAccountNotFound
		}
		return "", ErrStoreUnavailable
	}

	_, err := e.accounts.GetAccountByEmail(ctx, newEmail)
	switch {
	case err == nil:
		e.emitAudit(ctx, auditEventEmailChangeRequest, false, accountID, "", ErrAccountExists, nil)
		return "", nil
	case errors.Is(err, ErrAccountNotFound):
		// Address is free.
	default:
		return "", ErrStoreUnavailable
	}

	token, err := e.issueVerificationToken(ctx, accountID, PurposeEmailChange, e.config.EmailChange.TTL, newEmail)
	if err != nil {
		return "", err
	}

	e.emitAudit(ctx, auditEventEmailChangeRequest, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"new_email": newEmail}
	})
	return token, nil
}

// ConfirmEmailChange redeems a change token and swaps the account's address
// to the one the token was issued for.
func (e *Engine) ConfirmEmailChange(ctx context.Context, token string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if !e.config.EmailChange.Enabled {
		return ErrTokenInvalid
	}

	record, tokenID, err := e.consumeVerificationToken(ctx, PurposeEmailChange, token)
	if err != nil {
		return err
	}
	if record.Payload == "" {
		return ErrTokenInvalid
	}

	if err := e.accounts.UpdateEmail(ctx, record.AccountID, record.Payload); err != nil {
		e.restoreVerificationToken(ctx, PurposeEmailChange, tokenID)
		return ErrStoreUnavailable
	}

	e.metricInc(MetricEmailChanged)
	e.emitAudit(ctx, auditEventEmailChangeConfirm, true, record.AccountID, "", nil, func() map[string]string {
		return map[string]string{"new_email": record.Payload}
	})
	return nil
}
