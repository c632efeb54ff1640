package allowlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
	"chatguard/pkg/requestcontext"
)

const schema = `
CREATE TABLE IF NOT EXISTS rate_limit_allowlist (
	id          UUID PRIMARY KEY,
	ip          TEXT NOT NULL UNIQUE,
	reason      TEXT NOT NULL,
	expires_at  TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL,
	created_by  TEXT NOT NULL
)`

// PostgresStore persists allowlist entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed allowlist store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the allowlist table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create allowlist table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, entry *models.AllowlistEntry) error {
	if entry == nil {
		return fmt.Errorf("allowlist entry is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limit_allowlist (id, ip, reason, expires_at, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ip) DO UPDATE
		SET reason = EXCLUDED.reason,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at,
			created_by = EXCLUDED.created_by`,
		entry.ID, entry.IP, entry.Reason, nullTime(entry.ExpiresAt), entry.CreatedAt, entry.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("add allowlist entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, ip string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_allowlist WHERE ip = $1`, ip)
	if err != nil {
		return fmt.Errorf("remove allowlist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove allowlist entry: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IsAllowlisted(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	now := requestcontext.Now(ctx)
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rate_limit_allowlist
			WHERE ip = $1 AND (expires_at IS NULL OR expires_at > $2)
		)`, ip, now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check allowlist: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.AllowlistEntry, error) {
	now := requestcontext.Now(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ip, reason, expires_at, created_at, created_by
		FROM rate_limit_allowlist
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY created_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list allowlist entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AllowlistEntry
	for rows.Next() {
		var (
			entry     models.AllowlistEntry
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&entry.ID, &entry.IP, &entry.Reason, &expiresAt, &entry.CreatedAt, &entry.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan allowlist entry: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			entry.ExpiresAt = &t
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allowlist entries: %w", err)
	}
	return entries, nil
}

// StartCleanup runs periodic cleanup of expired entries until ctx is cancelled.
func (s *PostgresStore) StartCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RemoveExpiredAt(ctx, time.Now()); err != nil {
				return err
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

// RemoveExpiredAt removes all entries that have expired as of the given time.
// Exported for testability; background cleanup passes wall-clock time.
func (s *PostgresStore) RemoveExpiredAt(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_allowlist WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup allowlist entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
