package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jbweber/homelab/loft/internal/datastore"
	"github.com/jbweber/homelab/loft/internal/domain"
)

// UserRepository stores panel accounts
type UserRepository interface {
	Repository[domain.User, int64]
	FindByUsername(ctx context.Context, username string) (domain.User, error)
}

type userRepositoryImpl struct {
	ds *datastore.Datastore
}

// NewUserRepository creates a new user repository
func NewUserRepository(ds *datastore.Datastore) UserRepository {
	return &userRepositoryImpl{ds: ds}
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash)
	return u, err
}

// Save creates a user when ID is zero and updates it otherwise.
// A collision on username or email yields a *DuplicateError naming the field.
func (r *userRepositoryImpl) Save(ctx context.Context, user domain.User) (domain.User, error) {
	if user.Username == "" || user.Email == "" || user.PasswordHash == "" {
		return domain.User{}, fmt.Errorf("user requires username, email and password hash: %w", ErrInvalidEntity)
	}

	if user.ID == 0 {
		query, args, err := r.ds.Builder.Insert("users").
			Columns("username", "email", "password_hash").
			Values(user.Username, user.Email, user.PasswordHash).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return domain.User{}, fmt.Errorf("failed to build user insert: %w", err)
		}
		if err := r.ds.DB.QueryRowContext(ctx, query, args...).Scan(&user.ID); err != nil {
			return domain.User{}, fmt.Errorf("failed to create user: %w", r.classify(err))
		}
		return user, nil
	}

	query, args, err := r.ds.Builder.Update("users").
		Set("username", user.Username).
		Set("email", user.Email).
		Set("password_hash", user.PasswordHash).
		Where(sq.Eq{"id": user.ID}).
		ToSql()
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to build user update: %w", err)
	}
	result, err := r.ds.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to update user %d: %w", user.ID, r.classify(err))
	}
	if err := affectedOrNotFound(result); err != nil {
		return domain.User{}, fmt.Errorf("failed to update user %d: %w", user.ID, err)
	}
	return user, nil
}

func (r *userRepositoryImpl) classify(err error) error {
	if isUniqueViolation(err) {
		return &DuplicateError{Field: violatedColumn(err, "username", "email")}
	}
	return err
}

// FindByID retrieves a user by its ID
func (r *userRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.User, error) {
	return r.findOne(ctx, sq.Eq{"id": id})
}

// FindByUsername retrieves a user by its unique username
func (r *userRepositoryImpl) FindByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.findOne(ctx, sq.Eq{"username": username})
}

func (r *userRepositoryImpl) findOne(ctx context.Context, where sq.Eq) (domain.User, error) {
	query, args, err := r.ds.Builder.Select("id", "username", "email", "password_hash").
		From("users").
		Where(where).
		ToSql()
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to build user query: %w", err)
	}

	user, err := scanUser(r.ds.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to find user: %w", notFound(err))
	}
	return user, nil
}

// FindAll retrieves all users
func (r *userRepositoryImpl) FindAll(ctx context.Context) ([]domain.User, error) {
	query, args, err := r.ds.Builder.Select("id", "username", "email", "password_hash").
		From("users").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}

	rows, err := r.ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// DeleteByID removes a user; sessions, servers and scripts cascade
func (r *userRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	query, args, err := r.ds.Builder.Delete("users").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build user delete: %w", err)
	}

	result, err := r.ds.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	return nil
}

// ExistsByID checks if a user exists by its ID
func (r *userRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	_, err := r.FindByID(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
