package db

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Open connects to the SQLite database at path (":memory:" works) with
// foreign keys enforced. SQLite allows a single writer, so the pool is
// limited to one connection and conflicting writes queue instead of failing.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

// Migrate applies every pending embedded migration.
func Migrate(conn *sql.DB, log goose.Logger) error {
	if err := prepareGoose(log); err != nil {
		return err
	}
	if err := goose.Up(conn, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrationStatus prints the applied/pending state of each migration to log.
func MigrationStatus(conn *sql.DB, log goose.Logger) error {
	if err := prepareGoose(log); err != nil {
		return err
	}
	return goose.Status(conn, migrationsDir)
}

// Version reports the current schema version.
func Version(conn *sql.DB) (int64, error) {
	if err := prepareGoose(nil); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(conn)
}

func prepareGoose(log goose.Logger) error {
	if log == nil {
		log = goose.NopLogger()
	}
	goose.SetLogger(log)
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}
