// Package migrations applies the SQL files under migrations/ with
// golang-migrate.
package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"ms-boxoffice/internal/logger"
)

type Options struct {
	// Dir holds NNNNNN_name.up.sql / .down.sql pairs.
	Dir string
	// FixDirty forces a dirty schema back to its recorded version before
	// migrating up. Only safe when the failed migration left no partial state.
	FixDirty bool
}

// Runner handles database migrations over its own connection.
type Runner struct {
	dsn      string
	options  Options
	log      *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(dsn string, opts Options, log *logger.Logger) *Runner {
	if opts.Dir == "" {
		opts.Dir = "./migrations"
	}
	return &Runner{dsn: dsn, options: opts, log: log}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}
	if _, err := os.Stat(r.options.Dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.Dir)
	}

	m, err := migrate.New("file://"+r.options.Dir, r.dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	r.migrator = m
	return nil
}

// Up applies every pending migration.
func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}
	if r.options.FixDirty {
		version, dirty, err := r.migrator.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		if dirty {
			r.log.Warn("DATABASE", fmt.Sprintf("schema is dirty at version %d, forcing it clean", version))
			if err := r.migrator.Force(int(version)); err != nil {
				return fmt.Errorf("failed to fix dirty migration: %w", err)
			}
		}
	}

	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	if version, _, err := r.Version(); err == nil {
		r.log.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("schema at version %d", version))
	}
	return nil
}

// Down rolls back steps migrations; steps <= 0 rolls back everything.
func (r *Runner) Down(steps int) error {
	if err := r.init(); err != nil {
		return err
	}
	var err error
	if steps > 0 {
		err = r.migrator.Steps(-steps)
	} else {
		err = r.migrator.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version returns the applied version; 0 when nothing has run yet.
func (r *Runner) Version() (uint, bool, error) {
	if err := r.init(); err != nil {
		return 0, false, err
	}
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the recorded version without running anything.
func (r *Runner) Force(version int) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Force(version); err != nil {
		return fmt.Errorf("force version %d failed: %w", version, err)
	}
	return nil
}

// Close frees resources associated with the migrator
func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
