package internaldefs

import (
	authgate "github.com/karwick/authgate"
)

// CounterDef ties one engine counter to its stable export name. Both
// exporters enumerate the same list so dashboards agree regardless of
// backend.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Successful logins."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Failed login attempts."},
	{ID: authgate.MetricLoginRateLimited, Name: "authgate_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authgate.MetricSecondFactorRequired, Name: "authgate_second_factor_required_total", Help: "Logins that entered the second-factor gate."},
	{ID: authgate.MetricSecondFactorSuccess, Name: "authgate_second_factor_success_total", Help: "Successful second-factor confirmations."},
	{ID: authgate.MetricSecondFactorFailure, Name: "authgate_second_factor_failure_total", Help: "Failed second-factor confirmations."},
	{ID: authgate.MetricSecondFactorAbandoned, Name: "authgate_second_factor_abandoned_total", Help: "Explicitly abandoned pending logins."},
	{ID: authgate.MetricSecondFactorExpired, Name: "authgate_second_factor_expired_total", Help: "Pending logins that expired unredeemed."},
	{ID: authgate.MetricTicketReplay, Name: "authgate_ticket_replay_total", Help: "Detected pending-ticket replay attempts."},
	{ID: authgate.MetricBackupCodeUsed, Name: "authgate_backup_code_used_total", Help: "Successful backup-code authentications."},
	{ID: authgate.MetricBackupCodeFailed, Name: "authgate_backup_code_failed_total", Help: "Failed backup-code authentications."},
	{ID: authgate.MetricBackupCodesRegenerated, Name: "authgate_backup_codes_regenerated_total", Help: "Backup-code set regenerations."},
	{ID: authgate.MetricTOTPEnabled, Name: "authgate_totp_enabled_total", Help: "Completed authenticator enrollments."},
	{ID: authgate.MetricTOTPDisabled, Name: "authgate_totp_disabled_total", Help: "Authenticator removals."},
	{ID: authgate.MetricTokenIssued, Name: "authgate_verification_token_issued_total", Help: "Issued verification tokens."},
	{ID: authgate.MetricTokenConsumed, Name: "authgate_verification_token_consumed_total", Help: "Consumed verification tokens."},
	{ID: authgate.MetricTokenRejected, Name: "authgate_verification_token_rejected_total", Help: "Rejected verification tokens."},
	{ID: authgate.MetricTokenReplay, Name: "authgate_verification_token_replay_total", Help: "Replays of consumed verification tokens."},
	{ID: authgate.MetricPasswordResetRequest, Name: "authgate_password_reset_request_total", Help: "Password reset requests for existing accounts."},
	{ID: authgate.MetricPasswordResetSuccess, Name: "authgate_password_reset_success_total", Help: "Completed password resets."},
	{ID: authgate.MetricEmailVerified, Name: "authgate_email_verified_total", Help: "Completed email verifications."},
	{ID: authgate.MetricEmailChanged, Name: "authgate_email_changed_total", Help: "Completed email changes."},
	{ID: authgate.MetricSignupSuccess, Name: "authgate_signup_success_total", Help: "Created accounts."},
	{ID: authgate.MetricSignupFailure, Name: "authgate_signup_failure_total", Help: "Rejected signup attempts."},
	{ID: authgate.MetricSessionIssued, Name: "authgate_session_issued_total", Help: "Minted sessions."},
	{ID: authgate.MetricSessionRevoked, Name: "authgate_session_revoked_total", Help: "Revoked sessions."},
	{ID: authgate.MetricCSRFRejected, Name: "authgate_csrf_rejected_total", Help: "Requests rejected by the CSRF guard."},
	{ID: authgate.MetricRateLimitHit, Name: "authgate_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
}
