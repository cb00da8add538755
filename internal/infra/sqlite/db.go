// Package sqlite is the SQLite persistence layer of the ingestion pipeline.
// All timestamps are stored as fixed-width UTC text so that they compare
// correctly as strings.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/statement-ingest/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite connection.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path with WAL, a busy timeout and
// foreign keys enabled. SQLite allows one writer, so the pool is limited to
// a single connection.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: open database at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Open: ping database: %w", err)
	}
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL exposes the underlying handle.
func (d *DB) SQL() *sql.DB { return d.db }

func (d *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(d.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("create sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	return m, nil
}

// Migrate applies all pending migrations.
func (d *DB) Migrate(ctx context.Context) error {
	log := logger.FromContext(ctx)

	m, err := d.migrator()
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Msg("no new database migrations to apply")
			return nil
		}
		return fmt.Errorf("Migrate: apply migrations: %w", err)
	}
	log.Info().Msg("database migrations applied")
	return nil
}

// MigrateDown rolls back steps migrations.
func (d *DB) MigrateDown(ctx context.Context, steps int) error {
	m, err := d.migrator()
	if err != nil {
		return fmt.Errorf("MigrateDown: %w", err)
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("MigrateDown: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Int("steps", steps).Msg("database migrations rolled back")
	return nil
}

// MigrationVersion returns the applied schema version.
func (d *DB) MigrationVersion() (version uint, dirty bool, err error) {
	m, err := d.migrator()
	if err != nil {
		return 0, false, fmt.Errorf("MigrationVersion: %w", err)
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDate(d *civil.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func scanNullDate(ns sql.NullString) (*civil.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
