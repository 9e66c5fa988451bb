package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation_Postgres(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})
	assert.True(t, isUniqueViolation(err))
	assert.Equal(t, "email", violatedColumn(err, "username", "email"))

	fk := &pgconn.PgError{Code: "23503", ConstraintName: "servers_owner_id_fkey"}
	assert.False(t, isUniqueViolation(fk))
}

func TestIsUniqueViolation_Other(t *testing.T) {
	assert.False(t, isUniqueViolation(errors.New("UNIQUE constraint failed: users.email")))
	assert.False(t, isUniqueViolation(nil))
}
