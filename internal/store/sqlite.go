package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emberfall/cinder/internal/faults"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial engine_state key/value schema.
const currentSchemaVersion = 1

// SQLite is a durable Adapter backed by a single SQLite file.
// WAL mode allows concurrent reads while the engine writes.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies pragmas
// and schema. Idempotent: safe to call on an existing database.
//
// The connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (durability/performance balance)
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, faults.Wrap(faults.CodeUnavailable, err, "open database %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, faults.Wrap(faults.CodeUnavailable, err, "connect to database %s", path)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under the engine's serialised write pattern.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save implements Adapter via a single-key upsert.
func (s *SQLite) Save(ctx context.Context, key string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		key, state, time.Now().UnixMilli())
	if err != nil {
		return faults.Wrap(faults.CodeUnavailable, err, "save state %q", key)
	}
	return nil
}

// Load implements Adapter.
func (s *SQLite) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM engine_state WHERE key = ?`, key).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, faults.Wrap(faults.CodeUnavailable, err, "load state %q", key)
	}
	return state, true, nil
}

// Delete implements Adapter.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM engine_state WHERE key = ?`, key); err != nil {
		return faults.Wrap(faults.CodeUnavailable, err, "delete state %q", key)
	}
	return nil
}

// ListKeys implements Adapter.
func (s *SQLite) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM engine_state WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, faults.Wrap(faults.CodeUnavailable, err, "list keys %q", prefix)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, faults.Wrap(faults.CodeUnavailable, err, "scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.CodeUnavailable, err, "iterate keys %q", prefix)
	}
	return keys, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return faults.Wrap(faults.CodeUnavailable, err, "execute %q", pragma)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return faults.Wrap(faults.CodeUnavailable, err, "apply schema")
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`,
			currentSchemaVersion); err != nil {
			return faults.Wrap(faults.CodeUnavailable, err, "record schema version")
		}
	case err != nil:
		return faults.Wrap(faults.CodeUnavailable, err, "read schema version")
	case version > currentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d",
			version, currentSchemaVersion)
	}
	return nil
}
