package repository

import (
	"context"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Dialect selects the storage backend
type Dialect string

const (
	DialectMemory   Dialect = "memory"
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect validates a storage name from configuration
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(s))); d {
	case DialectMemory, DialectSQLite, DialectMySQL, DialectPostgres:
		return d, nil
	}
	return "", errors.Errorf("unknown storage %q", s)
}

// OpenDB connects to a SQL database and checks it is reachable
func OpenDB(ctx context.Context, dialect Dialect, dsn string) (*sqlx.DB, error) {
	driver := string(dialect)
	switch dialect {
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "parse mysql dsn")
		}
		cfg.ParseTime = true
		// RowsAffected must count matched rows, not changed ones
		cfg.ClientFoundRows = true
		dsn = cfg.FormatDSN()
	case DialectSQLite:
		if !strings.Contains(dsn, "_pragma=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DialectPostgres:
	default:
		return nil, errors.Errorf("%s is not a sql storage", dialect)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dialect)
	}
	if dialect == DialectSQLite {
		// one writer; transactions take the only connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s", dialect)
	}
	return db, nil
}

// Repositories bundles the stores of one backend
type Repositories struct {
	Catalog Catalog
	Orders  OrderRepository
	Users   UserRepository
	Tx      TxManager

	// SerializesOrders is true when the backend always runs one order transaction at a time
	SerializesOrders bool

	close func() error
}

// Close releases the underlying connection pool, if any
func (r *Repositories) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// NewMemoryRepositories wires the in-memory backend
func NewMemoryRepositories() *Repositories {
	store := NewMemoryStore()
	return &Repositories{
		Catalog:          store,
		Orders:           NewMemoryOrders(store),
		Users:            NewMemoryUsers(store),
		Tx:               NewMemoryTx(store),
		SerializesOrders: true,
	}
}

// NewSQLRepositories wires the stores on top of an open database
func NewSQLRepositories(db *sqlx.DB, dialect Dialect) *Repositories {
	store := NewSQLStore(db, dialect)
	return &Repositories{
		Catalog: store,
		Orders:  NewSQLOrders(store),
		Users:   NewSQLUsers(store),
		Tx:      NewSQLTx(store),
		close:   db.Close,
	}
}

// Open builds the repositories for the configured backend.
// SQL backends are migrated to the latest schema when migrate is set.
func Open(ctx context.Context, dialect Dialect, dsn string, migrate bool) (*Repositories, error) {
	if dialect == DialectMemory {
		log.Warn("using in-memory storage, data is lost on exit")
		return NewMemoryRepositories(), nil
	}
	if migrate {
		if err := MigrateUp(ctx, dialect, dsn); err != nil {
			return nil, err
		}
	}
	db, err := OpenDB(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	log.WithField("storage", dialect).Info("database ready")
	return NewSQLRepositories(db, dialect), nil
}
