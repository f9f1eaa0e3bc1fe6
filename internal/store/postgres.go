package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/keyserver/pkg/models"
)

const licenseColumns = `license_key, active, created_at, expires_at, last_used_at, usage_count, notes`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateLicense(ctx context.Context, l *models.License) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO licenses (`+licenseColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.Key, l.Active, l.CreatedAt, l.ExpiresAt, l.LastUsedAt, l.UsageCount, l.Notes)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLicense(ctx context.Context, key string) (*models.License, error) {
	l, err := scanLicense(s.pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) ListLicenses(ctx context.Context) ([]*models.License, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+licenseColumns+` FROM licenses ORDER BY created_at DESC, license_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	licenses := []*models.License{}
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

func (s *PostgresStore) RecordUsage(ctx context.Context, key string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE licenses SET usage_count = usage_count + 1, last_used_at = $2
		 WHERE license_key = $1 AND active AND (expires_at IS NULL OR expires_at >= $2)`,
		key, at)
	if err != nil {
		return fmt.Errorf("record license usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetActive(ctx context.Context, key string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE licenses SET active = $2 WHERE license_key = $1`, key, active)
	if err != nil {
		return fmt.Errorf("set license active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteLicense(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM licenses WHERE license_key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLicense(row pgx.Row) (*models.License, error) {
	var l models.License
	if err := row.Scan(&l.Key, &l.Active, &l.CreatedAt, &l.ExpiresAt, &l.LastUsedAt,
		&l.UsageCount, &l.Notes); err != nil {
		return nil, err
	}
	return &l, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
