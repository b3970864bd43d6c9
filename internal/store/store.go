package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragma is a connection setting applied on every Open. Want is the value
// SQLite reports back once it is in effect.
type pragma struct {
	name  string
	value string
	want  string
}

var pragmas = []pragma{
	{name: "journal_mode", value: "WAL", want: "wal"},
	{name: "synchronous", value: "NORMAL", want: "1"},
	{name: "busy_timeout", value: "5000", want: "5000"},
	{name: "foreign_keys", value: "ON", want: "1"},
}

// migration upgrades a database created by an older schema. Migrations run
// in order and each one bumps PRAGMA user_version to its version.
type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		name:    "index records by chain digest",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_records_chain_digest ON records(chain_digest)`,
	},
}

// SchemaVersion is the user_version of a fully migrated database.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Store keeps declarations, entities and ledger records in SQLite. Records
// are append-only; Save is the only operation that deletes.
//
// Implements snapshot.Backend.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, applies the connection
// pragmas and brings the schema up to date. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	// Immediate transactions take the write lock at BEGIN, so a
	// read-then-insert cannot interleave with another handle's write.
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and an in-memory database
	// exists only inside the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return s.migrate()
}

func (s *Store) migrate() error {
	version, err := s.userVersion()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set user_version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) userVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying connection for inspection and repair tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// checkPragmas reports every pragma whose effective value differs from the
// one Open asked for. An in-memory database always reports journal_mode
// "memory", so callers testing one should expect that mismatch.
func (s *Store) checkPragmas() error {
	var mismatched []string
	for _, p := range pragmas {
		var got string
		if err := s.db.QueryRow("PRAGMA " + p.name).Scan(&got); err != nil {
			return fmt.Errorf("read pragma %s: %w", p.name, err)
		}
		if !strings.EqualFold(got, p.want) {
			mismatched = append(mismatched, fmt.Sprintf("%s=%s (want %s)", p.name, got, p.want))
		}
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("pragmas not in effect: %s", strings.Join(mismatched, ", "))
	}
	return nil
}
