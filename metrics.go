package authgate

import "sync/atomic"

// MetricID indexes one engine counter. Values are dense and stable within a
// release; exporters enumerate [MetricNames].
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricSecondFactorRequired
	MetricSecondFactorSuccess
	MetricSecondFactorFailure
	MetricSecondFactorAbandoned
	MetricSecondFactorExpired
	MetricTicketReplay
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodesRegenerated
	MetricTOTPEnabled
	MetricTOTPDisabled
	MetricTokenIssued
	MetricTokenConsumed
	MetricTokenRejected
	MetricTokenReplay
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricEmailVerified
	MetricEmailChanged
	MetricSignupSuccess
	MetricSignupFailure
	MetricSessionIssued
	MetricSessionRevoked
	MetricCSRFRejected
	MetricRateLimitHit
	metricIDCount
)

// MetricNames maps each counter to its stable export name.
var MetricNames = map[MetricID]string{
	MetricLoginSuccess:           "login_success",
	MetricLoginFailure:           "login_failure",
	MetricLoginRateLimited:       "login_rate_limited",
	MetricSecondFactorRequired:   "second_factor_required",
	MetricSecondFactorSuccess:    "second_factor_success",
	MetricSecondFactorFailure:    "second_factor_failure",
	MetricSecondFactorAbandoned:  "second_factor_abandoned",
	MetricSecondFactorExpired:    "second_factor_expired",
	MetricTicketReplay:           "pending_ticket_replay",
	MetricBackupCodeUsed:         "backup_code_used",
	MetricBackupCodeFailed:       "backup_code_failed",
	MetricBackupCodesRegenerated: "backup_codes_regenerated",
	MetricTOTPEnabled:            "totp_enabled",
	MetricTOTPDisabled:           "totp_disabled",
	MetricTokenIssued:            "verification_token_issued",
	MetricTokenConsumed:          "verification_token_consumed",
	MetricTokenRejected:          "verification_token_rejected",
	MetricTokenReplay:            "verification_token_replay",
	MetricPasswordResetRequest:   "password_reset_request",
	MetricPasswordResetSuccess:   "password_reset_success",
	MetricEmailVerified:          "email_verified",
	MetricEmailChanged:           "email_changed",
	MetricSignupSuccess:          "signup_success",
	MetricSignupFailure:          "signup_failure",
	MetricSessionIssued:          "session_issued",
	MetricSessionRevoked:         "session_revoked",
	MetricCSRFRejected:           "csrf_rejected",
	MetricRateLimitHit:           "rate_limit_hit",
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed array of padded atomic counters. Inc is wait-free.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
