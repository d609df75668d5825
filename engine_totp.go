package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/karwick/authgate/internal"
	"github.com/karwick/authgate/internal/rate"
)

const totpSecretSize = 20

// GenerateTOTPSetup provisions a fresh authenticator secret for the account.
// The secret is stored unconfirmed and does not gate login until the owner
// proves possession via ConfirmTOTPSetup.
func (e *Engine) GenerateTOTPSetup(ctx context.Context, accountID string) (*TOTPSetup, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	decision, err := e.rateLimiter.Check(ctx, rate.ActionSecondFactorSetup, ip, "acct:"+accountID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !decision.Allowed {
		e.emitRateLimit(ctx, "second_factor_setup", nil)
		return nil, ErrTOTPSetupRateLimited
	}

	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, ErrStoreUnavailable
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TOTP.Issuer,
		AccountName: account.Email,
		SecretSize:  totpSecretSize,
	})
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	if err := e.accounts.EnableTOTP(ctx, accountID, []byte(key.Secret())); err != nil {
		return nil, ErrStoreUnavailable
	}

	if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionSecondFactorSetup, ip, "acct:"+accountID); err != nil && !errors.Is(err, rate.ErrLimited) {
		e.warnf("totp setup limiter record failed: %v", err)
	}

	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, accountID, "", nil, nil)
	return &TOTPSetup{
		SecretBase32: key.Secret(),
		OtpauthURL:   key.URL(),
	}, nil
}

// ConfirmTOTPSetup activates the provisioned secret once the owner submits a
// code generated from it. Until this succeeds the account's login flow is
// unchanged.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, accountID, code string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	decision, err := e.rateLimiter.Check(ctx, rate.ActionSecondFactorSetup, ip, "acct:"+accountID)
	if err != nil {
		return ErrStoreUnavailable
	}
	if !decision.Allowed {
		e.emitRateLimit(ctx, "second_factor_setup", nil)
		return ErrTOTPSetupRateLimited
	}

	record, err := e.accounts.GetTOTPSecret(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrTOTPNotEnabled
		}
		return ErrStoreUnavailable
	}
	if record == nil || len(record.Secret) == 0 {
		return ErrTOTPNotEnabled
	}

	if !e.validateTOTP(code, string(record.Secret)) {
		if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionSecondFactorSetup, ip, "acct:"+accountID); err != nil {
			if errors.Is(err, rate.ErrLimited) {
				e.emitRateLimit(ctx, "second_factor_setup", nil)
				return ErrTOTPSetupRateLimited
			}
			e.warnf("totp setup limiter record failed: %v", err)
		}
		return ErrTOTPSetupInvalid
	}

	if err := e.accounts.ConfirmTOTP(ctx, accountID); err != nil {
		return ErrStoreUnavailable
	}

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, accountID, "", nil, nil)
	return nil
}

// DisableTOTP turns the second factor off. It demands a currently valid code
// so a hijacked session cannot silently weaken the account.
func (e *Engine) DisableTOTP(ctx context.Context, accountID, code string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	record, err := e.accounts.GetTOTPSecret(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrTOTPNotEnabled
		}
		return ErrStoreUnavailable
	}
	if record == nil || !record.Confirmed {
		return ErrTOTPNotEnabled
	}

	ok := e.validateTOTP(code, string(record.Secret))
	if !ok {
		ok, err = e.consumeBackupCode(ctx, accountID, code)
		if err != nil {
			return err
		}
	}
	if !ok {
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, accountID, "", ErrSecondFactorInvalid, func() map[string]string {
			return map[string]string{"operation": "disable_totp"}
		})
		return ErrSecondFactorInvalid
	}

	if err := e.accounts.DisableTOTP(ctx, accountID); err != nil {
		return ErrStoreUnavailable
	}
	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, nil); err != nil {
		e.warnf("backup code clear after totp disable failed: %v", err)
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, accountID, "", nil, nil)
	return nil
}

// verifyTOTPCode checks a login-time code against the account's confirmed
// secret. An unconfirmed or missing secret never validates.
func (e *Engine) verifyTOTPCode(ctx context.Context, accountID, code string) (bool, error) {
	record, err := e.accounts.GetTOTPSecret(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, ErrStoreUnavailable
	}
	if record == nil || !record.Enabled || !record.Confirmed {
		return false, nil
	}
	return e.validateTOTP(code, string(record.Secret)), nil
}

func (e *Engine) validateTOTP(code, secret string) bool {
	// A secret that is not valid base32 can only be a corrupt provider row;
	// reject it before the code comparison.
	if _, err := internal.DecodeBase32Secret(secret); err != nil {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      e.config.TOTP.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
