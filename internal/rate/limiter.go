package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLimited is the distinguishable rate-limit rejection; callers map it
	// to a 429-class response and a security event, never to a generic
	// validation failure.
	ErrLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps every backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Action names one protected operation. Each action owns its own counters.
type Action string

const (
	ActionLogin                   Action = "login"
	ActionSecondFactor            Action = "second_factor"
	ActionSecondFactorSetup       Action = "second_factor_setup"
	ActionPasswordResetRequest    Action = "password_reset_request"
	ActionPasswordResetSubmit     Action = "password_reset_submit"
	ActionEmailChange             Action = "email_change"
	ActionSignup                  Action = "signup"
	ActionEmailVerificationResend Action = "email_verification_resend"
	ActionAdminAPI                Action = "admin_api"
)

// Policy is one action's attempt budget.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces per-(action, identifier) fixed windows plus the global
// per-IP floor. Safe for concurrent use.
type Limiter struct {
	redis    redis.UniversalClient
	policies map[Action]Policy

	// globalIPCeiling is attempts per minute per source address across all
	// actions.
	globalIPCeiling int
}

func New(redisClient redis.UniversalClient, policies map[Action]Policy, globalIPCeiling int) *Limiter {
	return &Limiter{
		redis:           redisClient,
		policies:        policies,
		globalIPCeiling: globalIPCeiling,
	}
}

func actionKey(action Action, identifier string) string {
	return "arl:" + string(action) + ":" + identifier
}

func globalIPKey(ip string) string {
	return "arg:" + ip
}

// Check reports whether another attempt is currently allowed for every given
// identifier, without recording one. Missing windows count as zero.
func (l *Limiter) Check(ctx context.Context, action Action, identifiers ...string) (Decision, error) {
	policy, ok := l.policies[action]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	decision := Decision{Allowed: true, Remaining: policy.MaxAttempts}
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		d, err := l.checkKey(ctx, actionKey(action, id), policy.MaxAttempts)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allowed {
			return d, nil
		}
		if d.Remaining < decision.Remaining {
			decision = d
		}
	}
	return decision, nil
}

// RecordAttempt increments the window for every identifier, creating windows
// as needed, and reports ErrLimited when any budget is now exceeded.
func (l *Limiter) RecordAttempt(ctx context.Context, action Action, identifiers ...string) error {
	policy, ok := l.policies[action]
	if !ok {
		return nil
	}

	for _, id := range identifiers {
		if id == "" {
			continue
		}
		count, err := l.incrementWithTTL(ctx, actionKey(action, id), policy.Window)
		if err != nil {
			return err
		}
		if count > int64(policy.MaxAttempts) {
			return ErrLimited
		}
	}
	return nil
}

// Reset clears the windows for the given identifiers, typically after a
// successful login.
func (l *Limiter) Reset(ctx context.Context, action Action, identifiers ...string) error {
	keys := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if id != "" {
			keys = append(keys, actionKey(action, id))
		}
	}
	if len(keys) == 0 {
		return nil
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckGlobalIP enforces the last-resort per-address ceiling. Every call
// counts as one attempt; the window is always one minute.
func (l *Limiter) CheckGlobalIP(ctx context.Context, ip string) error {
	if ip == "" || l.globalIPCeiling <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, globalIPKey(ip), time.Minute)
	if err != nil {
		return err
	}
	if count > int64(l.globalIPCeiling) {
		return ErrLimited
	}
	return nil
}

func (l *Limiter) checkKey(ctx context.Context, key string, maxAttempts int) (Decision, error) {
	pipe := l.redis.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No window yet: full budget.
			return Decision{Allowed: true, Remaining: maxAttempts}, nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var resetAt time.Time
	if ttl, terr := ttlCmd.Result(); terr == nil && ttl > 0 {
		resetAt = time.Now().Add(ttl)
	}

	remaining := maxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < int64(maxAttempts),
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: the TTL is set only by the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
