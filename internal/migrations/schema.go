package migrations

import (
	"database/sql"
	"fmt"
)

// All returns every migration the application ships, in version order.
func All() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_initial_tables",
			Up:      createInitialTables,
			Down:    dropTables("setup_scripts", "servers", "session_tokens", "users"),
		},
		{
			Version: 2,
			Name:    "add_lookup_indexes",
			Up: execAll(
				`CREATE INDEX IF NOT EXISTS idx_servers_owner_id ON servers(owner_id)`,
				`CREATE INDEX IF NOT EXISTS idx_session_tokens_user_id ON session_tokens(user_id)`,
				`CREATE INDEX IF NOT EXISTS idx_setup_scripts_author_id ON setup_scripts(author_id)`,
			),
			Down: execAll(
				`DROP INDEX IF EXISTS idx_setup_scripts_author_id`,
				`DROP INDEX IF EXISTS idx_session_tokens_user_id`,
				`DROP INDEX IF EXISTS idx_servers_owner_id`,
			),
		},
	}
}

func createInitialTables(tx *sql.Tx, d Dialect) error {
	return execAll(
		fmt.Sprintf(`
			CREATE TABLE users (
				id %s,
				username TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`, d.autoID()),
		`
			CREATE TABLE session_tokens (
				token TEXT NOT NULL,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (token, user_id)
			)`,
		// an address belongs to at most one server
		`
			CREATE TABLE servers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				ip_address TEXT NOT NULL UNIQUE,
				plan INTEGER NOT NULL,
				owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
		fmt.Sprintf(`
			CREATE TABLE setup_scripts (
				id %s,
				title TEXT NOT NULL,
				description TEXT,
				script TEXT NOT NULL,
				author_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`, d.autoID()),
	)(tx, d)
}

func execAll(statements ...string) func(*sql.Tx, Dialect) error {
	return func(tx *sql.Tx, _ Dialect) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

func dropTables(tables ...string) func(*sql.Tx, Dialect) error {
	statements := make([]string, 0, len(tables))
	for _, table := range tables {
		statements = append(statements, "DROP TABLE IF EXISTS "+table)
	}
	return execAll(statements...)
}
