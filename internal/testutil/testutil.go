package testutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/jbweber/homelab/loft/internal/datastore"
)

// NewTestDSN generates a DSN for an in-memory SQLite database for testing purposes.
func NewTestDSN(testName string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", testName)
}

// CleanupTestDB removes the test database file, if one was created
func CleanupTestDB(dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return fmt.Errorf("invalid DSN format")
	}

	path := dsn[5:]
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SetupTestDatastore opens a migrated in-memory datastore unique to testName
func SetupTestDatastore(t *testing.T, testName string) (*datastore.Datastore, func()) {
	t.Helper()
	dsn := NewTestDSN(testName)

	ds, err := datastore.New(dsn)
	if err != nil {
		t.Fatalf("Failed to open test datastore: %v", err)
	}

	cleanup := func() {
		if err := ds.Close(); err != nil {
			t.Logf("Warning: failed to close test datastore: %v", err)
		}
		_ = CleanupTestDB(dsn)
	}

	return ds, cleanup
}

// CreateUser inserts a user row directly and returns its id
func CreateUser(t *testing.T, ds *datastore.Datastore, username string) int32 {
	t.Helper()

	query, args, err := ds.Builder.Insert("users").
		Columns("username", "email", "password_hash").
		Values(username, username+"@example.com", "not-a-hash").
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		t.Fatalf("Failed to build user insert: %v", err)
	}

	var id int64
	if err := ds.DB.QueryRow(query, args...).Scan(&id); err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return int32(id)
}
