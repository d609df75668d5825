package authgate

import (
	"context"
	"errors"

	"github.com/karwick/authgate/internal/rate"
)

// RequestPasswordReset starts the forgot-password flow. The return value is
// the plaintext token to embed in the reset email, or empty when no email
// should be sent. Unknown and known addresses take the same path and cost
// the same budget; the caller must answer both identically.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil || e.accounts == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return "", nil
	}

	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionPasswordResetRequest, ip, "email:"+email); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.emitRateLimit(ctx, "password_reset_request", nil)
			return "", ErrTokenRateLimited
		}
		return "", ErrStoreUnavailable
	}

	account, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Same audit trail shape as the hit case, empty token out.
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrAccountNotFound, func() map[string]string {
				return map[string]string{"email": email}
			})
			return "", nil
		}
		return "", ErrStoreUnavailable
	}

	token, err := e.issueVerificationToken(ctx, account.AccountID, PurposePasswordReset, e.config.PasswordReset.TTL, "")
	if err != nil {
		return "", err
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, account.AccountID, "", nil, nil)
	return token, nil
}

// ResetPassword redeems a reset token and installs the new password. The
// policy check runs before consumption, so a weak password never burns the
// token; the user corrects it and retries with the same link.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrTokenInvalid
	}

	ip := clientIPFromContext(ctx)
	if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionPasswordResetSubmit, ip); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.emitRateLimit(ctx, "password_reset_submit", nil)
			return ErrTokenRateLimited
		}
		return ErrStoreUnavailable
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return ErrPasswordPolicy
	}

	record, tokenID, err := e.consumeVerificationToken(ctx, PurposePasswordReset, token)
	if err != nil {
		return err
	}

	if err := e.accounts.UpdatePasswordHash(ctx, record.AccountID, newHash); err != nil {
		e.restoreVerificationToken(ctx, PurposePasswordReset, tokenID)
		return ErrStoreUnavailable
	}

	// The old password no longer works; clear its accumulated failures.
	account, err := e.accounts.GetAccountByID(ctx, record.AccountID)
	if err == nil {
		if rerr := e.rateLimiter.Reset(ctx, rate.ActionLogin, "email:"+account.Email); rerr != nil {
			e.warnf("login limiter reset after password reset failed: %v", rerr)
		}
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, record.AccountID, "", nil, nil)
	return nil
}
