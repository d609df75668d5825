package authgate

import (
	"errors"
	"time"

	"github.com/karwick/authgate/internal/rate"
	"github.com/karwick/authgate/jwt"
	"github.com/karwick/authgate/password"
)

// Config is the full engine configuration tree. Populate once before
// [Builder.Build]; the engine treats it as immutable afterwards.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	Ticket            TicketConfig
	TOTP              TOTPConfig
	Password          password.Config
	PasswordReset     TokenFlowConfig
	EmailVerification TokenFlowConfig
	EmailChange       TokenFlowConfig
	Signup            SignupConfig
	CSRF              CSRFConfig
	RateLimit         RateLimitConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

// JWTConfig configures the access-token layer of issued sessions.
type JWTConfig struct {
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// SessionConfig controls lifetime and key layout of the session store.
type SessionConfig struct {
	RedisPrefix string
	Lifetime    time.Duration
}

// TicketConfig controls pending-auth tickets. TTL is deliberately short: a
// ticket proves password correctness for the current login attempt only.
type TicketConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

// TOTPConfig controls authenticator enrollment and verification. Skew is the
// tolerance in 30-second steps; widening it beyond 1 weakens brute-force
// resistance without helping legitimate clock drift.
type TOTPConfig struct {
	Issuer           string
	Skew             uint
	SetupTTL         time.Duration
	BackupCodeCount  int
	BackupCodeLength int
}

// TokenFlowConfig is shared by the password-reset, email-verification, and
// email-change token lifecycles.
type TokenFlowConfig struct {
	Enabled bool
	TTL     time.Duration
}

// SignupConfig controls account creation.
type SignupConfig struct {
	Enabled     bool
	DefaultRole string
}

// CSRFConfig controls the double-submit guard. Tokens are stable for the
// lifetime of their context and stored server-side.
type CSRFConfig struct {
	TokenTTL time.Duration
}

// RateLimitConfig carries one policy per protected action plus the
// non-configurable global per-IP floor. Zero-valued policies fall back to
// defaults in [DefaultConfig].
type RateLimitConfig struct {
	Login                   rate.Policy
	SecondFactor            rate.Policy
	SecondFactorSetup       rate.Policy
	PasswordResetRequest    rate.Policy
	PasswordResetSubmit     rate.Policy
	EmailChange             rate.Policy
	Signup                  rate.Policy
	EmailVerificationResend rate.Policy
	AdminAPI                rate.Policy

	// GlobalIPCeilingPerMinute is the last-resort abuse protection applied
	// per source address across all actions. Values below the hard floor are
	// raised to it during Validate.
	GlobalIPCeilingPerMinute int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counter set.
type MetricsConfig struct {
	Enabled bool
}

// globalIPFloorMinimum is the hard floor for the per-address ceiling; it
// exists regardless of per-action configuration.
const globalIPFloorMinimum = 60

// DefaultConfig returns a production-leaning configuration. Callers override
// what they need and pass the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Issuer:        "authgate",
		},
		Session: SessionConfig{
			RedisPrefix: "ags",
			Lifetime:    12 * time.Hour,
		},
		Ticket: TicketConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
		},
		TOTP: TOTPConfig{
			Issuer:           "authgate",
			Skew:             1,
			SetupTTL:         10 * time.Minute,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
		},
		Password: password.Config{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		PasswordReset:     TokenFlowConfig{Enabled: true, TTL: 30 * time.Minute},
		EmailVerification: TokenFlowConfig{Enabled: true, TTL: 24 * time.Hour},
		EmailChange:       TokenFlowConfig{Enabled: true, TTL: 1 * time.Hour},
		Signup: SignupConfig{
			Enabled:     true,
			DefaultRole: "member",
		},
		CSRF: CSRFConfig{
			TokenTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Login:                   rate.Policy{MaxAttempts: 10, Window: 15 * time.Minute},
			SecondFactor:            rate.Policy{MaxAttempts: 6, Window: 10 * time.Minute},
			SecondFactorSetup:       rate.Policy{MaxAttempts: 10, Window: time.Hour},
			PasswordResetRequest:    rate.Policy{MaxAttempts: 5, Window: time.Hour},
			PasswordResetSubmit:     rate.Policy{MaxAttempts: 10, Window: time.Hour},
			EmailChange:             rate.Policy{MaxAttempts: 5, Window: time.Hour},
			Signup:                  rate.Policy{MaxAttempts: 10, Window: time.Hour},
			EmailVerificationResend: rate.Policy{MaxAttempts: 5, Window: time.Hour},
			AdminAPI:                rate.Policy{MaxAttempts: 120, Window: time.Minute},

			GlobalIPCeilingPerMinute: 120,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate rejects configurations the engine cannot run safely with and
// raises the global IP ceiling to the hard floor when set too low.
func (c *Config) Validate() error {
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if c.Ticket.TTL <= 0 || c.Ticket.TTL > 15*time.Minute {
		return errors.New("ticket TTL must be within (0, 15m]")
	}
	if c.Ticket.MaxAttempts < 1 {
		return errors.New("ticket max attempts must be >= 1")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("totp skew above 2 steps is not permitted")
	}
	if c.TOTP.BackupCodeCount < 1 || c.TOTP.BackupCodeCount > 50 {
		return errors.New("backup code count must be within [1, 50]")
	}
	if c.TOTP.BackupCodeLength < 8 {
		return errors.New("backup code length must be >= 8")
	}
	if c.CSRF.TokenTTL <= 0 {
		return errors.New("csrf token TTL must be positive")
	}
	for _, flow := range []struct {
		name string
		cfg  TokenFlowConfig
	}{
		{"password reset", c.PasswordReset},
		{"email verification", c.EmailVerification},
		{"email change", c.EmailChange},
	} {
		if flow.cfg.Enabled && flow.cfg.TTL <= 0 {
			return errors.New(flow.name + " TTL must be positive when enabled")
		}
	}
	if c.RateLimit.GlobalIPCeilingPerMinute < globalIPFloorMinimum {
		c.RateLimit.GlobalIPCeilingPerMinute = globalIPFloorMinimum
	}
	return nil
}

// policies maps the config tree onto the limiter's per-action table,
// substituting defaults for zero-valued entries.
func (c *Config) policies() map[rate.Action]rate.Policy {
	def := DefaultConfig().RateLimit
	pick := func(p, fallback rate.Policy) rate.Policy {
		if p.MaxAttempts <= 0 || p.Window <= 0 {
			return fallback
		}
		return p
	}
	return map[rate.Action]rate.Policy{
		rate.ActionLogin:                   pick(c.RateLimit.Login, def.Login),
		rate.ActionSecondFactor:            pick(c.RateLimit.SecondFactor, def.SecondFactor),
		rate.ActionSecondFactorSetup:       pick(c.RateLimit.SecondFactorSetup, def.SecondFactorSetup),
		rate.ActionPasswordResetRequest:    pick(c.RateLimit.PasswordResetRequest, def.PasswordResetRequest),
		rate.ActionPasswordResetSubmit:     pick(c.RateLimit.PasswordResetSubmit, def.PasswordResetSubmit),
		rate.ActionEmailChange:             pick(c.RateLimit.EmailChange, def.EmailChange),
		rate.ActionSignup:                  pick(c.RateLimit.Signup, def.Signup),
		rate.ActionEmailVerificationResend: pick(c.RateLimit.EmailVerificationResend, def.EmailVerificationResend),
		rate.ActionAdminAPI:                pick(c.RateLimit.AdminAPI, def.AdminAPI),
	}
}

func (c *Config) jwtConfig(lifetime time.Duration) jwt.Config {
	return jwt.Config{
		AccessTTL:     lifetime,
		SigningMethod: jwt.SigningMethod(c.JWT.SigningMethod),
		PrivateKey:    c.JWT.PrivateKey,
		PublicKey:     c.JWT.PublicKey,
		Issuer:        c.JWT.Issuer,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = append([]byte(nil), cfg.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), cfg.JWT.PublicKey...)
	return out
}
