package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, ""), mr
}

func testSession(id string) *Session {
	now := time.Now()
	return &Session{
		SessionID: id,
		AccountID: "account-1",
		Role:      "member",
		CSRFHash:  sha256.Sum256([]byte("csrf-" + id)),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1")
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *got != *sess {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, sess)
	}
}

func TestStoreGetUnknown(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreWallClockExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess := testSession("stale")
	sess.ExpiresAt = time.Now().Add(-time.Second).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mr.Exists("ags:stale") {
		t.Fatal("expired session left behind")
	}
}

func TestStoreRedisTTLExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("s1"), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestStoreDeleteReportsWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("s1"), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	removed, err := store.Delete(ctx, "s1")
	if err != nil || !removed {
		t.Fatalf("first delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(ctx, "s1")
	if err != nil || removed {
		t.Fatalf("second delete: removed=%v err=%v", removed, err)
	}
}

func TestStoreCustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewStore(rdb, "custom")
	if err := store.Save(context.Background(), testSession("s1"), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists("custom:s1") {
		t.Fatalf("expected prefixed key, got %v", mr.Keys())
	}
}

func TestEncodeDecode(t *testing.T) {
	sess := testSession("s1")

	encoded, err := Encode(sess)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if *decoded != *sess {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, sess)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	sess := testSession("s1")
	encoded, err := Encode(sess)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	cases := map[string][]byte{
		"empty":           nil,
		"unknown version": {42},
		"truncated":       encoded[:len(encoded)-4],
		"trailing bytes":  append(append([]byte{}, encoded...), 0xFF),
	}
	for name, data := range cases {
		if _, err := Decode(data); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestEncodeRejectsOversizedField(t *testing.T) {
	sess := testSession("s1")
	for i := 0; i < 300; i++ {
		sess.Role += "x"
	}
	if _, err := Encode(sess); err == nil {
		t.Fatal("oversized field accepted")
	}
}
