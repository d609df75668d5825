package authgate

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/karwick/authgate/internal"
)

const csrfKeyPrefix = "acs"

var errCSRFBackend = errors.New("csrf backend unavailable")

// csrfGuard backs anonymous-context CSRF tokens (login, password reset
// request) with server-side state, so a token cannot be forged by a client
// that merely mirrors a cookie. Session-bound tokens live on the session
// record itself and are checked there.
type csrfGuard struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func newCSRFGuard(redisClient redis.UniversalClient, ttl time.Duration) *csrfGuard {
	return &csrfGuard{redis: redisClient, ttl: ttl}
}

func (g *csrfGuard) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return csrfKeyPrefix + ":" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// Issue mints a token valid for the guard's TTL. Tokens are not single use;
// a form that fails validation can be resubmitted with the same token.
func (g *csrfGuard) Issue(ctx context.Context) (string, error) {
	token, err := internal.NewCSRFToken()
	if err != nil {
		return "", err
	}
	if err := g.redis.Set(ctx, g.key(token), "1", g.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", errCSRFBackend, err)
	}
	return token, nil
}

// Validate fails closed: an absent, expired, or unreadable token is rejected
// identically.
func (g *csrfGuard) Validate(ctx context.Context, token string) error {
	if token == "" {
		return ErrCSRFRejected
	}
	n, err := g.redis.Exists(ctx, g.key(token)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errCSRFBackend, err)
	}
	if n == 0 {
		return ErrCSRFRejected
	}
	return nil
}
