package revocation

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL, for deployments where the
// denylist must be shared with the collaborator that issues credentials.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Expected table (schema management is external):
//
//	CREATE TABLE beacon.revoked_credentials (
//	    digest     text PRIMARY KEY,
//	    expires_at timestamptz NOT NULL
//	);
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "beacon").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("revocation: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("revocation: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed revocation store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "beacon",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("revocation: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgIdent(s.schema, "revoked_credentials")
}

// Put upserts the digest, keeping the later expiry on conflict.
func (s *PostgresStore) Put(ctx context.Context, digest string, expiresAt time.Time) error {
	if s == nil || s.pool == nil {
		return errors.New("revocation: nil store")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (digest, expires_at) VALUES ($1, $2)
		 ON CONFLICT (digest) DO UPDATE
		 SET expires_at = GREATEST(`+s.table()+`.expires_at, EXCLUDED.expires_at)`,
		digest, expiresAt,
	)
	return err
}

// Get returns the stored expiry for the digest.
func (s *PostgresStore) Get(ctx context.Context, digest string) (time.Time, bool, error) {
	if s == nil || s.pool == nil {
		return time.Time{}, false, errors.New("revocation: nil store")
	}

	var exp time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT expires_at FROM `+s.table()+` WHERE digest = $1`,
		digest,
	).Scan(&exp)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return exp, true, nil
}

// Delete removes a single entry.
func (s *PostgresStore) Delete(ctx context.Context, digest string) error {
	if s == nil || s.pool == nil {
		return errors.New("revocation: nil store")
	}

	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE digest = $1`, digest)
	return err
}

// DeleteExpired removes every entry with expiry at or before now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("revocation: nil store")
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
