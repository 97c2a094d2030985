package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/marketsync/backend/migrations"
)

var (
	// ErrDirty means a previous run failed halfway; fix the schema and Force the version
	ErrDirty = errors.New("migration: database is dirty")
)

// Migrator applies the marketsync schema with golang-migrate
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
	source  string
}

// Status is the schema state reported by the CLI
type Status struct {
	Version uint
	Dirty   bool
	Latest  uint
	Pending int
}

// New builds a Migrator over db. An empty dir selects the migrations embedded in the binary.
func New(db *sql.DB, dir string, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsys, label := fs.FS(migrations.FS), "embedded"
	if dir != "" {
		fsys, label = os.DirFS(dir), dir
	}
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source %s: %w", label, err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return &Migrator{migrate: m, logger: logger.With(zap.String("source", label)), source: label}, nil
}

// run executes op and logs the resulting version. ErrNoChange is not an error.
func (m *Migrator) run(op string, fn func() error) error {
	m.logger.Info("Running migration", zap.String("op", op))

	if err := fn(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("Schema already up to date", zap.String("op", op))
			return nil
		}
		return fmt.Errorf("migration %s: %w", op, err)
	}

	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("Migration finished", zap.String("op", op), zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}

// guard refuses to move a dirty schema
func (m *Migrator) guard() error {
	_, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		return ErrDirty
	}
	return nil
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.run("up", m.migrate.Up)
}

// Down rolls back every migration
func (m *Migrator) Down() error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.run("down", m.migrate.Down)
}

// Steps applies n migrations, rolling back when n is negative
func (m *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	if err := m.guard(); err != nil {
		return err
	}
	return m.run(fmt.Sprintf("steps(%d)", n), func() error { return m.migrate.Steps(n) })
}

// GoTo migrates up or down to version
func (m *Migrator) GoTo(version uint) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.run(fmt.Sprintf("goto(%d)", version), func() error { return m.migrate.Migrate(version) })
}

// Version returns the applied version, 0 when the schema is empty
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return v, dirty, nil
}

// Status compares the applied version with the source
func (m *Migrator) Status() (*Status, error) {
	v, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	fsys := fs.FS(migrations.FS)
	if m.source != "embedded" {
		fsys = os.DirFS(m.source)
	}
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, err
	}
	defer src.Close()

	latest, pending, err := countAfter(src, v)
	if err != nil {
		return nil, err
	}
	return &Status{Version: v, Dirty: dirty, Latest: latest, Pending: pending}, nil
}

// countAfter walks the source and counts versions greater than applied
func countAfter(src source.Driver, applied uint) (uint, int, error) {
	v, err := src.First()
	if errors.Is(err, fs.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	var pending int
	latest := v
	for {
		if v > applied {
			pending++
		}
		latest = v
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return latest, pending, nil
		}
		if err != nil {
			return 0, 0, err
		}
		v = next
	}
}

// Force records version as applied and clears the dirty flag without running SQL
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing migration version", zap.Int("version", version))
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Drop removes every table, including connections and stored credentials
func (m *Migrator) Drop() error {
	m.logger.Warn("Dropping all marketsync tables")
	if err := m.migrate.Drop(); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}

// Close releases the source and database handles
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}
