package revocation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString([]byte("revocation-test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// newTestRegistry returns a registry with a controllable clock.
func newTestRegistry(t *testing.T, store Store) (*Registry, *time.Time) {
	t.Helper()

	now := time.Now().UTC()
	r := NewRegistry(discardLogger(), store, Config{
		FallbackTTL:   30 * time.Minute,
		SweepInterval: time.Hour,
	})
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegistry_RevokeThenLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r, now := newTestRegistry(t, store)

	token := signedToken(t, now.Add(time.Hour))

	if r.IsRevoked(ctx, token) {
		t.Fatalf("token revoked before Revoke")
	}
	if err := r.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !r.IsRevoked(ctx, token) {
		t.Fatalf("token not revoked after Revoke")
	}

	// Just before the token's own expiry it is still enforced.
	*now = now.Add(time.Hour - time.Second)
	if !r.IsRevoked(ctx, token) {
		t.Fatalf("token not revoked at T-eps")
	}

	// Past expiry the entry stops being enforced and is lazily evicted.
	*now = now.Add(2 * time.Second)
	if r.IsRevoked(ctx, token) {
		t.Fatalf("token still revoked at T+eps")
	}
	if store.Len() != 0 {
		t.Fatalf("expected lazy eviction, store has %d entries", store.Len())
	}
}

func TestRegistry_FallbackTTLForUndecodableToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r, now := newTestRegistry(t, store)

	if err := r.Revoke(ctx, "opaque-unparseable-token"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !r.IsRevoked(ctx, "opaque-unparseable-token") {
		t.Fatalf("unparseable token not revoked")
	}

	*now = now.Add(30*time.Minute + time.Second)
	if r.IsRevoked(ctx, "opaque-unparseable-token") {
		t.Fatalf("unparseable token still revoked past fallback TTL")
	}
	if store.Len() != 0 {
		t.Fatalf("expected eviction, store has %d entries", store.Len())
	}
}

func TestRegistry_RevokeEmptyToken(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, NewMemoryStore())
	if err := r.Revoke(context.Background(), "  "); err != ErrEmptyToken {
		t.Fatalf("err=%v want ErrEmptyToken", err)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r, now := newTestRegistry(t, store)

	// Two expired entries and one live one, inserted directly: sweep must
	// reclaim entries that are never looked up.
	mustPut(t, store, "dead-1", now.Add(-time.Minute))
	mustPut(t, store, "dead-2", now.Add(-time.Hour))
	mustPut(t, store, "live-1", now.Add(time.Hour))

	if removed := r.Sweep(ctx); removed != 2 {
		t.Fatalf("sweep removed=%d want 2", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d entries want 1", store.Len())
	}
}

func TestMemoryStore_PutKeepsLaterExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	mustPut(t, store, "d", now.Add(time.Hour))
	mustPut(t, store, "d", now.Add(time.Minute))

	exp, ok, err := store.Get(ctx, "d")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiry shrank on re-put: %v", exp)
	}
}

func mustPut(t *testing.T, store Store, digest string, exp time.Time) {
	t.Helper()
	if err := store.Put(context.Background(), digest, exp); err != nil {
		t.Fatalf("put %s: %v", digest, err)
	}
}
