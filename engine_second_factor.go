package authgate

import (
	"context"
	"errors"

	"github.com/karwick/authgate/internal"
	"github.com/karwick/authgate/internal/rate"
)

// ConfirmSecondFactor redeems a pending-auth ticket with a TOTP code, or a
// backup code when backup is set. The ticket is single use: the first
// successful redemption destroys it, and a concurrent duplicate gets
// ErrTicketReplay with no session.
func (e *Engine) ConfirmSecondFactor(ctx context.Context, ticketID, code string, backup bool) (*LoginResult, error) {
	if e == nil || e.ticketStore == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	if err := e.rateLimiter.CheckGlobalIP(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.emitRateLimit(ctx, "global_ip", nil)
			return nil, ErrSecondFactorRateLimited
		}
		return nil, ErrStoreUnavailable
	}

	if _, err := internal.ParseTicketID(ticketID); err != nil {
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, "", "", ErrTicketInvalid, nil)
		return nil, ErrTicketInvalid
	}

	ticket, err := e.ticketStore.Get(ctx, ticketID)
	if err != nil {
		return nil, e.mapTicketError(ctx, "", err)
	}

	decision, err := e.rateLimiter.Check(ctx, rate.ActionSecondFactor, ip, "acct:"+ticket.AccountID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !decision.Allowed {
		e.emitRateLimit(ctx, "second_factor", nil)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, ticket.AccountID, "", ErrSecondFactorRateLimited, nil)
		return nil, ErrSecondFactorRateLimited
	}

	var (
		ok     bool
		method string
	)
	if backup {
		method = "backup"
		ok, err = e.consumeBackupCode(ctx, ticket.AccountID, code)
	} else {
		method = "totp"
		ok, err = e.verifyTOTPCode(ctx, ticket.AccountID, code)
	}
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, e.recordSecondFactorFailure(ctx, ticketID, ticket.AccountID, ip, method)
	}

	// One winner: whoever deletes the ticket finalizes the login.
	removed, err := e.ticketStore.Delete(ctx, ticketID)
	if err != nil {
		return nil, ErrTicketUnavailable
	}
	if !removed {
		e.metricInc(MetricTicketReplay)
		e.emitAudit(ctx, auditEventTicketReplay, false, ticket.AccountID, "", ErrTicketReplay, nil)
		return nil, ErrTicketReplay
	}

	grant, valid := grantFromFinalizedTicket(ticket.AccountID, ticket.Role, TicketStateFinalized)
	if !valid {
		return nil, ErrTicketInvalid
	}

	login, err := e.issueSession(ctx, grant)
	if err != nil {
		return nil, err
	}

	if err := e.rateLimiter.Reset(ctx, rate.ActionSecondFactor, ip, "acct:"+ticket.AccountID); err != nil {
		e.warnf("second factor limiter reset failed: %v", err)
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, ticket.AccountID, login.SessionID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	if method == "backup" {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, ticket.AccountID, login.SessionID, nil, nil)
	}

	return login, nil
}

// AbandonSecondFactor cancels a pending login. It is idempotent: abandoning
// an unknown or already-settled ticket succeeds without effect.
func (e *Engine) AbandonSecondFactor(ctx context.Context, ticketID string) error {
	if e == nil || e.ticketStore == nil {
		return ErrEngineNotReady
	}

	if _, err := internal.ParseTicketID(ticketID); err != nil {
		return nil
	}

	ticket, err := e.ticketStore.Get(ctx, ticketID)
	if err != nil {
		if errors.Is(err, errTicketBackend) {
			return ErrTicketUnavailable
		}
		return nil
	}

	removed, err := e.ticketStore.Delete(ctx, ticketID)
	if err != nil {
		return ErrTicketUnavailable
	}
	if removed {
		e.metricInc(MetricSecondFactorAbandoned)
		e.emitAudit(ctx, auditEventSecondFactorAbandoned, true, ticket.AccountID, "", nil, nil)
	}
	return nil
}

func (e *Engine) recordSecondFactorFailure(ctx context.Context, ticketID, accountID, ip, method string) error {
	e.metricInc(MetricSecondFactorFailure)
	if method == "backup" {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, accountID, "", ErrSecondFactorInvalid, nil)
	}

	exceeded, err := e.ticketStore.RecordFailure(ctx, ticketID, e.config.Ticket.MaxAttempts)
	if err != nil {
		return e.mapTicketError(ctx, accountID, err)
	}
	if exceeded {
		e.emitAudit(ctx, auditEventSecondFactorExceeded, false, accountID, "", ErrTicketAttemptsExceeded, nil)
		return ErrTicketAttemptsExceeded
	}

	if err := e.rateLimiter.RecordAttempt(ctx, rate.ActionSecondFactor, ip, "acct:"+accountID); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.emitRateLimit(ctx, "second_factor", nil)
			return ErrSecondFactorRateLimited
		}
		e.warnf("second factor limiter record failed: %v", err)
	}

	e.emitAudit(ctx, auditEventSecondFactorFailure, false, accountID, "", ErrSecondFactorInvalid, func() map[string]string {
		return map[string]string{"method": method}
	})
	return ErrSecondFactorInvalid
}

func (e *Engine) mapTicketError(ctx context.Context, accountID string, err error) error {
	switch {
	case errors.Is(err, errTicketExpired):
		e.metricInc(MetricSecondFactorExpired)
		e.emitAudit(ctx, auditEventSecondFactorExpired, false, accountID, "", ErrTicketExpired, nil)
		return ErrTicketExpired
	case errors.Is(err, errTicketNotFound):
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, accountID, "", ErrTicketInvalid, nil)
		return ErrTicketInvalid
	default:
		return ErrTicketUnavailable
	}
}
