package authgate

import (
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/karwick/authgate/internal/rate"
	"github.com/karwick/authgate/jwt"
	"github.com/karwick/authgate/password"
	"github.com/karwick/authgate/session"
)

// Engine is the identity layer's single entry point. All login, second
// factor, token lifecycle, and session operations go through it.
//
// An Engine is configured once through the Builder and is immutable after
// Build. All methods are safe for concurrent use.
type Engine struct {
	config       Config
	redis        redis.UniversalClient
	sessionStore *session.Store
	ticketStore  *pendingTicketStore
	tokenStore   *verificationTokenStore
	csrfGuard    *csrfGuard
	rateLimiter  *rate.Limiter
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	accounts     AccountProvider
	warn         *log.Logger
}

// Close flushes and stops the async audit dispatcher. Safe to call on a nil
// engine and safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher's buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) warnf(format string, args ...any) {
	if e == nil || e.warn == nil {
		return
	}
	e.warn.Printf(format, args...)
}
