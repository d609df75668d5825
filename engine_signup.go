package authgate

import (
	"context"
	"errors"
	"net/mail"

	"github.com/karwick/authgate/internal/rate"
)

// Signup creates an unverified account and returns the email-verification
// token for the welcome email. The new account cannot log in until the token
// is redeemed or an operator verifies it manually.
func (e *Engine) Signup(ctx context.Context, email, password string) (*SignupResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Signup.Enabled {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)
	if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionSignup, ip); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.metricInc(MetricSignupFailure)
			e.emitRateLimit(ctx, "signup", nil)
			return nil, ErrSignupRateLimited
		}
		return nil, ErrStoreUnavailable
	}

	hash, err := e.passwordHash.Hash(password)
	if err != nil {
		e.metricInc(MetricSignupFailure)
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", ErrPasswordPolicy, nil)
		return nil, ErrPasswordPolicy
	}

	_, err = e.accounts.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		e.metricInc(MetricSignupFailure)
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", ErrAccountExists, func() map[string]string {
			return map[string]string{"email": email}
		})
		return nil, ErrAccountExists
	case errors.Is(err, ErrAccountNotFound):
		// Free to create.
	default:
		return nil, ErrStoreUnavailable
	}

	account, err := e.accounts.CreateAccount(ctx, CreateAccountInput{
		Email:        email,
		PasswordHash: hash,
		Role:         e.config.Signup.DefaultRole,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			// Lost a race with a concurrent signup for the same address.
			e.metricInc(MetricSignupFailure)
			e.emitAudit(ctx, auditEventSignupFailure, false, "", "", ErrAccountExists, nil)
			return nil, ErrAccountExists
		}
		return nil, ErrStoreUnavailable
	}

	result := &SignupResult{AccountID: account.AccountID}
	if e.config.EmailVerification.Enabled {
		token, err := e.issueVerificationToken(ctx, account.AccountID, PurposeEmailVerify, e.config.EmailVerification.TTL, "")
		if err != nil {
			return nil, err
		}
		result.VerificationToken = token
	}

	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, auditEventSignupSuccess, true, account.AccountID, "", nil, nil)
	return result, nil
}
