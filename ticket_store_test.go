package authgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTicketStore(t *testing.T) (*pendingTicketStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return newPendingTicketStore(rdb), mr
}

func TestTicketStoreRoundTrip(t *testing.T) {
	store, _ := newTestTicketStore(t)
	ctx := context.Background()

	record := &pendingTicket{
		AccountID: "account-1",
		Role:      "member",
		ExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
	}
	if err := store.Save(ctx, "ticket-a", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "ticket-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccountID != record.AccountID || got.Role != record.Role || got.ExpiresAt != record.ExpiresAt {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, record)
	}
	if got.Attempts != 0 {
		t.Fatalf("fresh ticket has %d attempts", got.Attempts)
	}
}

func TestTicketStoreUnknownID(t *testing.T) {
	store, _ := newTestTicketStore(t)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, errTicketNotFound) {
		t.Fatalf("expected errTicketNotFound, got %v", err)
	}
}

func TestTicketStoreWallClockExpiry(t *testing.T) {
	store, mr := newTestTicketStore(t)
	ctx := context.Background()

	// The stored ExpiresAt is checked at read time even when the Redis TTL
	// has not fired, so clock skew between nodes cannot extend a ticket.
	record := &pendingTicket{
		AccountID: "account-1",
		ExpiresAt: time.Now().Add(-time.Second).Unix(),
	}
	if err := store.Save(ctx, "stale", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "stale"); !errors.Is(err, errTicketExpired) {
		t.Fatalf("expected errTicketExpired, got %v", err)
	}
	// The expired record was dropped on read.
	if mr.Exists("apt:stale") {
		t.Fatal("expired ticket left behind")
	}
}

func TestTicketStoreDeleteOneWinner(t *testing.T) {
	store, _ := newTestTicketStore(t)
	ctx := context.Background()

	record := &pendingTicket{AccountID: "account-1", ExpiresAt: time.Now().Add(time.Minute).Unix()}
	if err := store.Save(ctx, "ticket-a", record, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	removed, err := store.Delete(ctx, "ticket-a")
	if err != nil || !removed {
		t.Fatalf("first delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(ctx, "ticket-a")
	if err != nil || removed {
		t.Fatalf("second delete: removed=%v err=%v", removed, err)
	}
}

func TestTicketStoreRecordFailureBudget(t *testing.T) {
	store, mr := newTestTicketStore(t)
	ctx := context.Background()

	record := &pendingTicket{AccountID: "account-1", ExpiresAt: time.Now().Add(time.Minute).Unix()}
	if err := store.Save(ctx, "ticket-a", record, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const maxAttempts = 3
	for i := 1; i < maxAttempts; i++ {
		exceeded, err := store.RecordFailure(ctx, "ticket-a", maxAttempts)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if exceeded {
			t.Fatalf("failure %d exhausted a budget of %d", i, maxAttempts)
		}

		got, err := store.Get(ctx, "ticket-a")
		if err != nil {
			t.Fatalf("Get after failure %d: %v", i, err)
		}
		if int(got.Attempts) != i {
			t.Fatalf("expected %d recorded attempts, got %d", i, got.Attempts)
		}
	}

	exceeded, err := store.RecordFailure(ctx, "ticket-a", maxAttempts)
	if err != nil {
		t.Fatalf("final failure: %v", err)
	}
	if !exceeded {
		t.Fatal("expected budget exhaustion")
	}
	if mr.Exists("apt:ticket-a") {
		t.Fatal("exhausted ticket must be destroyed")
	}
}

func TestTicketStoreRecordFailureOnMissing(t *testing.T) {
	store, _ := newTestTicketStore(t)

	if _, err := store.RecordFailure(context.Background(), "nope", 5); !errors.Is(err, errTicketNotFound) {
		t.Fatalf("expected errTicketNotFound, got %v", err)
	}
}

func TestTicketEncodingRejectsBadInput(t *testing.T) {
	if _, err := decodePendingTicket(nil); err == nil {
		t.Fatal("empty input accepted")
	}
	if _, err := decodePendingTicket([]byte{99}); err == nil {
		t.Fatal("unknown version accepted")
	}

	encoded, err := encodePendingTicket(&pendingTicket{AccountID: "a", Role: "member", ExpiresAt: 42})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := decodePendingTicket(encoded[:len(encoded)-1]); err == nil {
		t.Fatal("truncated input accepted")
	}
}
