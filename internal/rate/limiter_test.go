package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, policies map[Action]Policy, globalCeiling int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, policies, globalCeiling), mr
}

func TestLimiterAllowsUpToBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[Action]Policy{
		ActionLogin: {MaxAttempts: 3, Window: time.Minute},
	}, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); err != nil {
			t.Fatalf("attempt %d rejected: %v", i+1, err)
		}
	}
	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); !errors.Is(err, ErrLimited) {
		t.Fatalf("attempt 4: expected ErrLimited, got %v", err)
	}
}

func TestLimiterCheckDoesNotConsume(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[Action]Policy{
		ActionLogin: {MaxAttempts: 2, Window: time.Minute},
	}, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := limiter.Check(ctx, ActionLogin, "1.2.3.4")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !d.Allowed || d.Remaining != 2 {
			t.Fatalf("Check consumed budget: %+v", d)
		}
	}
}

func TestLimiterCheckReflectsRecordedAttempts(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[Action]Policy{
		ActionLogin: {MaxAttempts: 2, Window: time.Minute},
	}, 0)
	ctx := context.Background()

	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	d, err := limiter.Check(ctx, ActionLogin, "1.2.3.4")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected one remaining, got %+v", d)
	}
	if d.ResetAt.IsZero() {
		t.Fatal("expected a reset time once the window exists")
	}

	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	d, err = limiter.Check(ctx, ActionLogin, "1.2.3.4")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected exhausted budget, got %+v", d)
	}
}

func TestLimiterWindowExpiryRestoresBudget(t *testing.T) {
	limiter, mr := newTestLimiter(t, map[Action]Policy{
		ActionLogin: {MaxAttempts: 1, Window: time.Minute},
	}, 0)
	ctx := context.Background()

	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); err != nil {
		t.Fatalf("attempt after window expiry rejected: %v", err)
	}
}

func TestLimiterIdentifiersAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[Action]Policy{
		ActionLogin: {MaxAttempts: 1, Window: time.Minute},
	}, 0)
	ctx := context.Background()

	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if err := limiter.RecordAttempt(ctx, ActionLogin, "5.6.7.8"); err != nil {
		t.Fatalf("a different identifier must have its own window: %v", err)
	}
	if err := limiter.RecordAttempt(ctx, ActionSignup, "1.2.3.4"); err != nil {
		t.Fatalf("a different action must have its own window: %v", err)
	}
}

func TestLimiterRecordSpansAllIdentifiers(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[Action]Policy{
		ActionLogin: {MaxAttempts: 2, Window: time.Minute},
	}, 0)
	ctx := context.Background()

	// One call charges both the IP and the email key; exhausting either
	// rejects the attempt.
	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4", "email:a@example.com"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if err := limiter.RecordAttempt(ctx, ActionLogin, "9.9.9.9", "email:a@example.com"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if err := limiter.RecordAttempt(ctx, ActionLogin, "8.8.8.8", "email:a@example.com"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected the email budget to reject, got %v", err)
	}
}

func TestLimiterReset(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[Action]Policy{
		ActionLogin: {MaxAttempts: 1, Window: time.Minute},
	}, 0)
	ctx := context.Background()

	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if err := limiter.Reset(ctx, ActionLogin, "1.2.3.4"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := limiter.RecordAttempt(ctx, ActionLogin, "1.2.3.4"); err != nil {
		t.Fatalf("attempt after reset rejected: %v", err)
	}
}

func TestLimiterUnknownActionIsUnlimited(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[Action]Policy{}, 0)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := limiter.RecordAttempt(ctx, ActionAdminAPI, "1.2.3.4"); err != nil {
			t.Fatalf("unconfigured action rejected: %v", err)
		}
	}
	d, err := limiter.Check(ctx, ActionAdminAPI, "1.2.3.4")
	if err != nil || !d.Allowed {
		t.Fatalf("Check on unconfigured action: %+v %v", d, err)
	}
}

func TestLimiterEmptyIdentifiersAreSkipped(t *testing.T) {
	limiter, mr := newTestLimiter(t, map[Action]Policy{
		ActionLogin: {MaxAttempts: 1, Window: time.Minute},
	}, 0)

	if err := limiter.RecordAttempt(context.Background(), ActionLogin, ""); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("empty identifier created keys: %v", keys)
	}
}

func TestGlobalIPCeiling(t *testing.T) {
	limiter, mr := newTestLimiter(t, nil, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.CheckGlobalIP(ctx, "1.2.3.4"); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
	}
	if err := limiter.CheckGlobalIP(ctx, "1.2.3.4"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}
	if err := limiter.CheckGlobalIP(ctx, "5.6.7.8"); err != nil {
		t.Fatalf("other address caught by ceiling: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := limiter.CheckGlobalIP(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("call after window expiry rejected: %v", err)
	}
}
