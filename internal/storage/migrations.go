package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ErrNoMigration indicates no migration has been applied yet.
var ErrNoMigration = errors.New("no migration")

// MigrationManager applies numbered SQL migrations (NNN_name.up.sql) from a
// file system, usually an embed.FS, tracking the applied version in a
// schema_migrations table. It works for both SQLite and PostgreSQL; only the
// bind-parameter syntax differs.
type MigrationManager struct {
	db          *sql.DB
	files       fs.FS
	dir         string
	placeholder string // "?" or "$1"
}

type migration struct {
	version uint
	name    string
	upFile  string
}

// NewMigrationManager creates a manager reading migrations from dir within
// files. placeholder is the driver's first bind parameter ("?" or "$1").
func NewMigrationManager(db *sql.DB, files fs.FS, dir, placeholder string) (*MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database connection is required")
	}
	if placeholder == "" {
		placeholder = "?"
	}

	mgr := &MigrationManager{db: db, files: files, dir: dir, placeholder: placeholder}
	if err := mgr.ensureSchemaTable(); err != nil {
		return nil, goerr.Wrap(err, "migrations: failed to create schema table")
	}
	return mgr, nil
}

// ensureSchemaTable creates the schema_migrations table if it doesn't exist.
func (mgr *MigrationManager) ensureSchemaTable() error {
	_, err := mgr.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Up applies all pending migrations in ascending version order.
// Returns nil if already up-to-date.
func (mgr *MigrationManager) Up(ctx context.Context) error {
	migrations, err := mgr.loadMigrations()
	if err != nil {
		return err
	}

	currentVersion, err := mgr.Version(ctx)
	if err != nil && !errors.Is(err, ErrNoMigration) {
		return err
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		stmt, err := fs.ReadFile(mgr.files, m.upFile)
		if err != nil {
			return goerr.Wrap(err, "migrations: failed to read file", goerr.V("file", m.upFile))
		}

		tx, err := mgr.db.BeginTx(ctx, nil)
		if err != nil {
			return goerr.Wrap(err, "migrations: failed to begin transaction")
		}
		if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
			_ = tx.Rollback()
			return goerr.Wrap(err, "migrations: failed to apply",
				goerr.V("version", m.version), goerr.V("name", m.name))
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ("+mgr.placeholder+")", m.version); err != nil {
			_ = tx.Rollback()
			return goerr.Wrap(err, "migrations: failed to record version", goerr.V("version", m.version))
		}
		if err := tx.Commit(); err != nil {
			return goerr.Wrap(err, "migrations: failed to commit", goerr.V("version", m.version))
		}
	}

	return nil
}

// Version returns the highest applied migration version, or ErrNoMigration
// when none has been applied.
func (mgr *MigrationManager) Version(ctx context.Context) (uint, error) {
	var version uint
	err := mgr.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, goerr.Wrap(err, "migrations: failed to query version")
	}
	if version == 0 {
		return 0, ErrNoMigration
	}
	return version, nil
}

// loadMigrations lists NNN_name.up.sql files sorted by version ascending.
// Files without a numeric prefix are ignored.
func (mgr *MigrationManager) loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(mgr.files, mgr.dir)
	if err != nil {
		return nil, goerr.Wrap(err, "migrations: failed to read directory", goerr.V("dir", mgr.dir))
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		idx := strings.Index(name, "_")
		if idx < 0 {
			continue
		}
		v, err := strconv.ParseUint(name[:idx], 10, 64)
		if err != nil {
			continue
		}

		migrations = append(migrations, migration{
			version: uint(v),
			name:    strings.TrimSuffix(name[idx+1:], ".up.sql"),
			upFile:  path.Join(mgr.dir, name),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}
