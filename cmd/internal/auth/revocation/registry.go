package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"beacon/cmd/internal/auth/credential"
)

const (
	defaultFallbackTTL   = 30 * time.Minute
	defaultSweepInterval = 1 * time.Hour
)

// ErrEmptyToken is returned when Revoke is called with a blank credential.
var ErrEmptyToken = errors.New("revocation: empty token")

// Config controls entry lifetime and sweep cadence.
type Config struct {
	// FallbackTTL bounds the lifetime of entries for tokens whose expiry
	// cannot be decoded; without it unparseable tokens would leak forever.
	FallbackTTL time.Duration

	// SweepInterval is how often Run removes expired entries that are never
	// looked up between revocation and expiry.
	SweepInterval time.Duration
}

// LoadConfigFromEnv reads registry tuning from the environment with defaults.
func LoadConfigFromEnv() Config {
	return Config{
		FallbackTTL:   envDuration("BEACON_REVOCATION_FALLBACK_TTL", defaultFallbackTTL),
		SweepInterval: envDuration("BEACON_REVOCATION_SWEEP_INTERVAL", defaultSweepInterval),
	}
}

// Registry is the time-bounded credential denylist.
//
// A credential present with a future expiry is treated as invalid regardless
// of its own embedded validity; once its stored expiry passes it stops being
// enforced, via lazy eviction on lookup or the periodic sweep.
type Registry struct {
	log   *slog.Logger
	store Store
	cfg   Config

	now func() time.Time
}

// NewRegistry constructs a Registry over the given store.
func NewRegistry(log *slog.Logger, store Store, cfg Config) *Registry {
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = defaultFallbackTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Registry{
		log:   log,
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Revoke denylists the token until its own expiry, or for the fallback TTL
// when the expiry cannot be decoded.
func (r *Registry) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}

	exp, err := credential.ExpiryOf(token)
	if err != nil {
		exp = r.now().Add(r.cfg.FallbackTTL)
	}

	if err := r.store.Put(ctx, digestOf(token), exp); err != nil {
		return err
	}

	r.log.Info("revocation.add", "expires_at", exp)
	return nil
}

// IsRevoked reports whether the token is currently denylisted.
//
// Entries whose stored expiry has passed are evicted on the spot and
// reported as not revoked. Store errors are logged and reported as not
// revoked: the denylist is an additional gate over tokens that still carry
// their own signature and expiry, so failing open degrades to the
// validator's guarantees instead of taking every connection down.
func (r *Registry) IsRevoked(ctx context.Context, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	digest := digestOf(token)

	exp, ok, err := r.store.Get(ctx, digest)
	if err != nil {
		r.log.Warn("revocation.lookup.fail", "err", err)
		return false
	}
	if !ok {
		return false
	}

	if !exp.After(r.now()) {
		if err := r.store.Delete(ctx, digest); err != nil {
			r.log.Warn("revocation.evict.fail", "err", err)
		}
		return false
	}
	return true
}

// Sweep removes all expired entries and returns how many were removed.
func (r *Registry) Sweep(ctx context.Context) int {
	removed, err := r.store.DeleteExpired(ctx, r.now())
	if err != nil {
		r.log.Warn("revocation.sweep.fail", "err", err)
		return 0
	}
	if removed > 0 {
		r.log.Info("revocation.sweep", "removed", removed)
	}
	return removed
}

// Run sweeps on a fixed interval until the context is canceled.
func (r *Registry) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep(ctx)
		}
	}
}

// digestOf keys entries by SHA-256 hex digest so plaintext bearer tokens
// never sit in memory maps or database rows.
func digestOf(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
