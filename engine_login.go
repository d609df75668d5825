package authgate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/karwick/authgate/internal"
	"github.com/karwick/authgate/internal/rate"
)

// ValidatePassword checks email and password against the account store and
// returns proof of correctness, never a session. Unknown email, wrong
// password, and passwordless accounts all cost one full hash verification
// and all surface as ErrInvalidCredentials.
func (e *Engine) ValidatePassword(ctx context.Context, email, password string) (*ValidateResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.CheckGlobalIP(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "global_ip", nil)
			return nil, ErrLoginRateLimited
		}
		return nil, ErrStoreUnavailable
	}

	decision, err := e.rateLimiter.Check(ctx, rate.ActionLogin, ip, "email:"+email)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !decision.Allowed {
		e.metricInc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, "login", func() map[string]string {
			return map[string]string{"email": email}
		})
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
		return nil, ErrLoginRateLimited
	}

	account, lookupErr := e.accounts.GetAccountByEmail(ctx, email)
	if lookupErr != nil && !errors.Is(lookupErr, ErrAccountNotFound) {
		return nil, ErrStoreUnavailable
	}

	hash := account.PasswordHash
	missing := errors.Is(lookupErr, ErrAccountNotFound) || hash == ""
	if missing {
		// Burn the same work a real verification costs so response timing
		// does not reveal whether the email exists.
		hash = e.passwordHash.Dummy()
	}

	match, err := e.passwordHash.Verify(password, hash)
	if err != nil {
		match = false
	}
	if missing || !match {
		return nil, e.recordLoginFailure(ctx, email, ip, account.AccountID, ErrInvalidCredentials)
	}

	if !account.Verified() {
		// The password was proven correct, so naming this state does not
		// enable enumeration; it gives the user a remedy.
		return nil, e.recordLoginFailure(ctx, email, ip, account.AccountID, ErrEmailNotVerified)
	}

	if err := e.rateLimiter.Reset(ctx, rate.ActionLogin, ip, "email:"+email); err != nil {
		e.warnf("login limiter reset failed: %v", err)
	}

	e.maybeUpgradeHash(ctx, account.AccountID, password, account.PasswordHash)

	return &ValidateResult{
		AccountID:            account.AccountID,
		Role:                 account.Role,
		SecondFactorRequired: account.TwoFactorEnabled,
	}, nil
}

// Login runs the full flow. For accounts without a second factor it returns
// a live session. For accounts with one it returns a pending-auth ticket and
// no session; the session is minted only by ConfirmSecondFactor.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	result, err := e.ValidatePassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if !result.SecondFactorRequired {
		grant, err := grantFromPassword(result)
		if err != nil {
			return nil, err
		}
		login, err := e.issueSession(ctx, grant)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, result.AccountID, login.SessionID, nil, nil)
		return login, nil
	}

	ticketID, err := internal.NewTicketID()
	if err != nil {
		return nil, ErrTicketUnavailable
	}

	expiresAt := time.Now().Add(e.config.Ticket.TTL)
	record := &pendingTicket{
		AccountID: result.AccountID,
		Role:      result.Role,
		ExpiresAt: expiresAt.Unix(),
	}
	if err := e.ticketStore.Save(ctx, ticketID.String(), record, e.config.Ticket.TTL); err != nil {
		return nil, ErrTicketUnavailable
	}

	e.metricInc(MetricSecondFactorRequired)
	e.emitAudit(ctx, auditEventSecondFactorRequired, true, result.AccountID, "", nil, nil)

	return &LoginResult{
		SecondFactorRequired: true,
		PendingTicket:        ticketID.String(),
		TicketExpiresAt:      expiresAt,
	}, nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, email, ip, accountID string, cause error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", cause, func() map[string]string {
		return map[string]string{"email": email}
	})

	if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionLogin, ip, "email:"+email); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", nil)
			return ErrLoginRateLimited
		}
		e.warnf("login limiter record failed: %v", err)
	}
	return cause
}

// maybeUpgradeHash rehashes the just-proven password when the stored hash was
// derived with weaker parameters than the current configuration. Best effort:
// the login already succeeded, so failures only warn.
func (e *Engine) maybeUpgradeHash(ctx context.Context, accountID, password, storedHash string) {
	upgrade, err := e.passwordHash.NeedsUpgrade(storedHash)
	if err != nil || !upgrade {
		return
	}

	newHash, err := e.passwordHash.Hash(password)
	if err != nil {
		e.warnf("password hash upgrade failed: %v", err)
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, newHash); err != nil {
		e.warnf("password hash upgrade store failed: %v", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
