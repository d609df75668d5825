package authgate

import (
	"context"
	"errors"
	"time"
)

// Event type strings form the closed reason-code set consumed by the external
// audit and alerting collaborators. Extend the set rather than overloading an
// existing code.
const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventSecondFactorRequired  = "second_factor_required"
	auditEventSecondFactorSuccess   = "second_factor_success"
	auditEventSecondFactorFailure   = "second_factor_failure"
	auditEventSecondFactorAbandoned = "second_factor_abandoned"
	auditEventSecondFactorExpired   = "second_factor_expired"
	auditEventSecondFactorExceeded  = "second_factor_attempts_exceeded"
	auditEventTicketReplay          = "pending_ticket_replay"
	auditEventTOTPSetupRequested    = "totp_setup_requested"
	auditEventTOTPEnabled           = "totp_enabled"
	auditEventTOTPDisabled          = "totp_disabled"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventBackupCodeFailed      = "backup_code_failed"
	auditEventTokenIssued           = "verification_token_issued"
	auditEventTokenConsumed         = "verification_token_consumed"
	auditEventTokenRejected         = "verification_token_rejected"
	auditEventTokenReplay           = "verification_token_replay"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventEmailVerifyRequest    = "email_verification_request"
	auditEventEmailVerifyConfirm    = "email_verification_confirm"
	auditEventEmailChangeRequest    = "email_change_request"
	auditEventEmailChangeConfirm    = "email_change_confirm"
	auditEventSignupSuccess         = "signup_success"
	auditEventSignupFailure         = "signup_failure"
	auditEventSessionIssued         = "session_issued"
	auditEventSessionRevoked        = "session_revoked"
	auditEventCSRFRejected          = "csrf_rejected"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

// AuditErrorCode is the normalized error tag attached to failure events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrEmailNotVerified   AuditErrorCode = "email_not_verified"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrTicketInvalid      AuditErrorCode = "ticket_invalid"
	auditErrTicketExpired      AuditErrorCode = "ticket_expired"
	auditErrTicketReplay       AuditErrorCode = "ticket_replay"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenReplay        AuditErrorCode = "token_already_used"
	auditErrCSRFRejected       AuditErrorCode = "csrf_rejected"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrAccountExists      AuditErrorCode = "duplicate_account"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{"scope": scope}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrSecondFactorRateLimited),
		errors.Is(err, ErrTOTPSetupRateLimited),
		errors.Is(err, ErrTokenRateLimited),
		errors.Is(err, ErrSignupRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTicketExpired):
		return auditErrTicketExpired
	case errors.Is(err, ErrTicketReplay):
		return auditErrTicketReplay
	case errors.Is(err, ErrTicketAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrTicketInvalid):
		return auditErrTicketInvalid
	case errors.Is(err, ErrSecondFactorInvalid),
		errors.Is(err, ErrTOTPSetupInvalid),
		errors.Is(err, ErrBackupCodeInvalid),
		errors.Is(err, ErrBackupCodesNotConfigured):
		return auditErrCodeInvalid
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenAlreadyUsed):
		return auditErrTokenReplay
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrCSRFRejected):
		return auditErrCSRFRejected
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrAccountExists):
		return auditErrAccountExists
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrTicketUnavailable),
		errors.Is(err, ErrTokenUnavailable),
		errors.Is(err, ErrBackupCodeUnavailable),
		errors.Is(err, ErrSessionCreationFailed):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
