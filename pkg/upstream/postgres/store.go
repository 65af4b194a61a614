// Package postgres provides PostgreSQL storage for thread state.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/threadsync/pkg/upstream"
)

// psq builds queries with PostgreSQL placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements upstream.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL thread-state store. The caller owns the
// database handle's lifecycle up to Close.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the serialized state for threadID, or upstream.ErrNotFound.
func (s *Store) Get(ctx context.Context, threadID string) (string, error) {
	query, args, err := psq.Select("user_data").
		From("thread_state").
		Where(sq.Eq{"thread_id": threadID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building get query: %w", err)
	}

	var userData string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&userData)
	if errors.Is(err, sql.ErrNoRows) {
		return "", upstream.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying thread state: %w", err)
	}
	return userData, nil
}

// Save upserts the serialized state for threadID.
func (s *Store) Save(ctx context.Context, threadID, userData string) error {
	query, args, err := psq.Insert("thread_state").
		Columns("thread_id", "user_data", "updated_at").
		Values(threadID, userData, sq.Expr("NOW()")).
		Suffix("ON CONFLICT (thread_id) DO UPDATE SET user_data = EXCLUDED.user_data, updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("building save query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving thread state: %w", err)
	}
	return nil
}

// Delete removes the state for threadID.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	query, args, err := psq.Delete("thread_state").
		Where(sq.Eq{"thread_id": threadID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting thread state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading delete result: %w", err)
	}
	if affected == 0 {
		return upstream.ErrNotFound
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ upstream.Store = (*Store)(nil)
