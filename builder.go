package authgate

import (
	"errors"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/karwick/authgate/internal/rate"
	"github.com/karwick/authgate/jwt"
	"github.com/karwick/authgate/password"
	"github.com/karwick/authgate/session"
)

// Builder assembles an Engine. Each With method returns the receiver so
// calls can be chained; Build may be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountProvider
	auditSink AuditSink
	warn      *log.Logger

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, tickets, verification
// tokens, CSRF state, and rate limit counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountProvider sets the host application's account storage.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

// WithAuditSink sets the destination for audit events. When unset, events
// are dropped via NoOpSink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithWarnLogger sets the logger used for non-fatal operational warnings,
// e.g. a failed token restore after a provider error.
func (b *Builder) WithWarnLogger(l *log.Logger) *Builder {
	b.warn = l
	return b
}

// WithMetricsEnabled toggles counter collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the Engine. The builder is
// single use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(cfg.jwtConfig(cfg.Session.Lifetime))
	if err != nil {
		return nil, err
	}

	sink := b.auditSink
	if sink == nil {
		sink = NoOpSink{}
	}

	warn := b.warn
	if warn == nil {
		warn = log.New(os.Stderr, "authgate: ", log.LstdFlags)
	}

	e := &Engine{
		config:       cfg,
		redis:        b.redis,
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		ticketStore:  newPendingTicketStore(b.redis),
		tokenStore:   newVerificationTokenStore(b.redis),
		csrfGuard:    newCSRFGuard(b.redis, cfg.CSRF.TokenTTL),
		rateLimiter:  rate.New(b.redis, cfg.policies(), cfg.RateLimit.GlobalIPCeilingPerMinute),
		audit:        newAuditDispatcher(cfg.Audit, sink),
		passwordHash: hasher,
		jwtManager:   jwtManager,
		accounts:     b.accounts,
		warn:         warn,
	}
	e.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return e, nil
}
