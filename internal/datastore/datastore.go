package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	retry "github.com/avast/retry-go/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/loft/internal/migrations"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Datastore wraps the database handle together with the SQL dialect it speaks
type Datastore struct {
	DB      *sql.DB
	Driver  string
	Builder squirrel.StatementBuilderType
}

// New opens a SQLite datastore and runs migrations.
func New(dsn string) (*Datastore, error) {
	return Open(context.Background(), DriverSQLite, dsn, 1)
}

// Open connects to the database, retrying the initial ping up to attempts
// times, and brings the schema up to date.
func Open(ctx context.Context, driver, dsn string, attempts uint) (*Datastore, error) {
	var (
		db          *sql.DB
		err         error
		placeholder squirrel.PlaceholderFormat
	)
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		placeholder = squirrel.Question
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		placeholder = squirrel.Dollar
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// single connection keeps shared-cache in-memory databases alive and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	if attempts == 0 {
		attempts = 1
	}
	err = retry.Do(
		func() error {
			return db.PingContext(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.Warn().Err(err).Str("driver", driver).Msgf("database not reachable, attempt: %d", attempt+1)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Datastore{
		DB:      db,
		Driver:  driver,
		Builder: squirrel.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

// Close releases the underlying database handle.
func (ds *Datastore) Close() error {
	return ds.DB.Close()
}

// migrate applies every registered migration that has not run yet.
func migrate(db *sql.DB, driver string) error {
	migrator := migrations.NewMigrator(db, driver)
	for _, migration := range migrations.All() {
		migrator.AddMigration(migration)
	}
	return migrator.RunMigrations()
}

// sqliteDSN turns on foreign keys and a busy timeout for every pooled connection.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
