package authgate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func login(t *testing.T, engine *Engine) *LoginResult {
	t.Helper()

	result, err := engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.SecondFactorRequired {
		t.Fatal("expected a direct session, got a pending challenge")
	}
	return result
}

func TestValidateSessionRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	engine, _, provider := newTestEngine(t, cfg)
	seedAccount(t, cfg, provider, true)

	result := login(t, engine)
	info, err := engine.ValidateSession(context.Background(), result.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if info.AccountID != "account-1" {
		t.Fatalf("wrong account, got %q", info.AccountID)
	}
	if info.Role != "member" {
		t.Fatalf("wrong role, got %q", info.Role)
	}
	if info.SessionID != result.SessionID {
		t.Fatal("session id mismatch")
	}
	if !info.ExpiresAt.After(time.Now()) {
		t.Fatal("session already expired")
	}
}

func TestValidateSessionRejectsGarbage(t *testing.T) {
	cfg := testConfig(t)
	engine, _, _ := newTestEngine(t, cfg)

	for _, token := range []string{"", "not-a-jwt", strings.Repeat("A", 400)} {
		if _, err := engine.ValidateSession(context.Background(), token); err == nil {
			t.Fatalf("token %q accepted", token)
		}
	}
}

func TestValidateSessionAfterLogout(t *testing.T) {
	cfg := testConfig(t)
	engine, _, provider := newTestEngine(t, cfg)
	seedAccount(t, cfg, provider, true)

	result := login(t, engine)
	if err := engine.Logout(context.Background(), result.SessionToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	// The JWT is still cryptographically valid; the store row is gone.
	if _, err := engine.ValidateSession(context.Background(), result.SessionToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := engine.Logout(context.Background(), result.SessionToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("double logout: expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionCSRFValidation(t *testing.T) {
	cfg := testConfig(t)
	engine, _, provider := newTestEngine(t, cfg)
	seedAccount(t, cfg, provider, true)

	result := login(t, engine)
	if result.CSRFToken == "" {
		t.Fatal("expected a CSRF token with the session")
	}

	if err := engine.ValidateSessionCSRF(context.Background(), result.SessionToken, result.CSRFToken); err != nil {
		t.Fatalf("matching token rejected: %v", err)
	}

	for _, bad := range []string{"", "wrong", result.CSRFToken + "x"} {
		if err := engine.ValidateSessionCSRF(context.Background(), result.SessionToken, bad); !errors.Is(err, ErrCSRFRejected) {
			t.Fatalf("token %q: expected ErrCSRFRejected, got %v", bad, err)
		}
	}
}

// sessionReadRecorder counts GETs against session row keys.
type sessionReadRecorder struct {
	mu    sync.Mutex
	reads int
}

func (r *sessionReadRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (r *sessionReadRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.observe(cmd)
		return next(ctx, cmd)
	}
}

func (r *sessionReadRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			r.observe(cmd)
		}
		return next(ctx, cmds)
	}
}

func (r *sessionReadRecorder) observe(cmd redis.Cmder) {
	if cmd.Name() != "get" {
		return
	}
	args := cmd.Args()
	if len(args) < 2 {
		return
	}
	if key, ok := args[1].(string); ok && strings.HasPrefix(key, "ags:") {
		r.mu.Lock()
		r.reads++
		r.mu.Unlock()
	}
}

func (r *sessionReadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func TestSessionCSRFCheckReadsRowOnce(t *testing.T) {
	cfg := testConfig(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	recorder := &sessionReadRecorder{}
	rdb.AddHook(recorder)

	provider := newStubProvider()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("engine build: %v", err)
	}
	t.Cleanup(engine.Close)
	seedAccount(t, cfg, provider, true)

	result := login(t, engine)

	before := recorder.count()
	if err := engine.ValidateSessionCSRF(context.Background(), result.SessionToken, result.CSRFToken); err != nil {
		t.Fatalf("ValidateSessionCSRF failed: %v", err)
	}
	if got := recorder.count() - before; got != 1 {
		t.Fatalf("CSRF check read the session row %d times, want 1", got)
	}
}

func TestSessionCSRFTokenIsPerSession(t *testing.T) {
	cfg := testConfig(t)
	engine, _, provider := newTestEngine(t, cfg)
	seedAccount(t, cfg, provider, true)

	first := login(t, engine)
	second := login(t, engine)
	if first.CSRFToken == second.CSRFToken {
		t.Fatal("two sessions shared a CSRF token")
	}

	// Tokens do not cross sessions.
	if err := engine.ValidateSessionCSRF(context.Background(), second.SessionToken, first.CSRFToken); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected ErrCSRFRejected, got %v", err)
	}
}

func TestAnonymousCSRFRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	engine, mr, _ := newTestEngine(t, cfg)

	token, err := engine.IssueAnonymousCSRFToken(context.Background())
	if err != nil {
		t.Fatalf("IssueAnonymousCSRFToken failed: %v", err)
	}
	if err := engine.ValidateAnonymousCSRF(context.Background(), token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	if err := engine.ValidateAnonymousCSRF(context.Background(), "forged"); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("forged token: expected ErrCSRFRejected, got %v", err)
	}
	if err := engine.ValidateAnonymousCSRF(context.Background(), ""); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("empty token: expected ErrCSRFRejected, got %v", err)
	}

	mr.FastForward(cfg.CSRF.TokenTTL + time.Minute)
	if err := engine.ValidateAnonymousCSRF(context.Background(), token); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("aged token: expected ErrCSRFRejected, got %v", err)
	}
}

func TestSessionExpiresWithRedisTTL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Lifetime = 30 * time.Minute
	engine, mr, provider := newTestEngine(t, cfg)
	seedAccount(t, cfg, provider, true)

	result := login(t, engine)
	mr.FastForward(31 * time.Minute)

	if _, err := engine.ValidateSession(context.Background(), result.SessionToken); err == nil {
		t.Fatal("expected expired session to be rejected")
	}
}
