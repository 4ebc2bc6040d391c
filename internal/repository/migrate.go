package repository

import (
	"context"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrator applies the embedded schema of one dialect
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator opens a dedicated connection for schema changes. Close it when done.
func NewMigrator(ctx context.Context, dialect Dialect, dsn string) (*Migrator, error) {
	db, err := OpenDB(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}

	var driver database.Driver
	switch dialect {
	case DialectMySQL:
		driver, err = migratemysql.WithInstance(db.DB, &migratemysql.Config{})
	case DialectPostgres:
		driver, err = migratepostgres.WithInstance(db.DB, &migratepostgres.Config{})
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	}
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migration driver")
	}

	src, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migration source")
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrator")
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrate up")
	}
	return nil
}

// Down reverts the last steps migrations
func (mg *Migrator) Down(steps int) error {
	if err := mg.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrate down")
	}
	return nil
}

// Version reports the applied schema version
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the migration connection
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// MigrateUp brings the schema behind dsn to the latest version
func MigrateUp(ctx context.Context, dialect Dialect, dsn string) error {
	mg, err := NewMigrator(ctx, dialect, dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := mg.Close(); err != nil {
			log.WithError(err).Warn("close migrator")
		}
	}()
	if err := mg.Up(); err != nil {
		return err
	}
	v, _, _ := mg.Version()
	log.WithFields(log.Fields{"storage": dialect, "version": v}).Info("schema migrated")
	return nil
}
