package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jbweber/homelab/loft/internal/datastore"
	"github.com/jbweber/homelab/loft/internal/domain"
)

// SessionRepository stores the nonces of issued session tokens.
// Every authenticated request performs an Exists lookup.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Exists(ctx context.Context, nonce string, userID int32) (bool, error)
	Delete(ctx context.Context, nonce string, userID int32) error
	DeleteAllForUser(ctx context.Context, userID int32) (int64, error)

	// Close releases the prepared lookup statement
	Close() error
}

type sessionRepositoryImpl struct {
	ds          *datastore.Datastore
	stmts       *PreparedStatementCache
	existsQuery string
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(ds *datastore.Datastore) (SessionRepository, error) {
	existsQuery, _, err := ds.Builder.Select("1").
		From("session_tokens").
		Where(sq.Eq{"token": "", "user_id": 0}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build session lookup: %w", err)
	}

	return &sessionRepositoryImpl{
		ds:          ds,
		stmts:       NewPreparedStatementCache(ds.DB),
		existsQuery: existsQuery,
	}, nil
}

// Create persists a session. Re-creating an existing session is an ErrDuplicate.
func (r *sessionRepositoryImpl) Create(ctx context.Context, session domain.Session) error {
	query, args, err := r.ds.Builder.Insert("session_tokens").
		Columns("token", "user_id").
		Values(session.Nonce, session.UserID).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build session insert: %w", err)
	}

	if _, err := r.ds.DB.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create session: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Exists reports whether a session row matches both nonce and user
func (r *sessionRepositoryImpl) Exists(ctx context.Context, nonce string, userID int32) (bool, error) {
	stmt, err := r.stmts.Get(ctx, r.existsQuery)
	if err != nil {
		return false, fmt.Errorf("failed to prepare session lookup: %w", err)
	}

	var one int
	err = stmt.QueryRowContext(ctx, nonce, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return true, nil
}

// Delete removes one session; ErrNotFound if it does not exist
func (r *sessionRepositoryImpl) Delete(ctx context.Context, nonce string, userID int32) error {
	query, args, err := r.ds.Builder.Delete("session_tokens").
		Where(sq.Eq{"token": nonce, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build session delete: %w", err)
	}

	result, err := r.ds.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every session of a user and returns how many were removed
func (r *sessionRepositoryImpl) DeleteAllForUser(ctx context.Context, userID int32) (int64, error) {
	query, args, err := r.ds.Builder.Delete("session_tokens").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build session delete: %w", err)
	}

	result, err := r.ds.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return result.RowsAffected()
}

func (r *sessionRepositoryImpl) Close() error {
	return r.stmts.Close()
}
