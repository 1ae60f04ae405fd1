// Package database opens the event store connection for the configured driver
// and applies the embedded migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/watzon/hookd/internal/config"
	"github.com/watzon/hookd/internal/database/migrations"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = config.DriverSQLite
	DialectPostgres Dialect = config.DriverPostgres
)

type DB struct {
	*sql.DB
	dialect Dialect
	walMode bool
	mu      sync.RWMutex
	closed  bool
}

// Open connects using cfg and, when cfg.AutoMigrate is set, applies pending
// migrations.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	var (
		driverName string
		dsn        string
	)

	switch Dialect(cfg.Driver) {
	case DialectSQLite, "":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		driverName, dsn = "sqlite", buildSQLiteDSN(cfg)
	case DialectPostgres:
		driverName, dsn = "postgres", cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	dialect := Dialect(driverName)
	db := New(sqlDB, dialect)
	db.walMode = dialect == DialectSQLite && cfg.WALMode

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}

	return db, nil
}

// New wraps an existing connection pool. Open is the usual entry point; New
// exists for callers that build the *sql.DB themselves.
func New(sqlDB *sql.DB, dialect Dialect) *DB {
	return &DB{DB: sqlDB, dialect: dialect}
}

// Migrate applies pending migrations.
func (db *DB) Migrate(ctx context.Context) error {
	if err := migrations.Run(ctx, db.DB, string(db.dialect)); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// MigrationStatus lists every known migration and whether it has been applied.
func (db *DB) MigrationStatus(ctx context.Context) ([]migrations.Status, error) {
	return migrations.List(ctx, db.DB, string(db.dialect))
}

// Dialect returns the SQL flavour of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Rebind rewrites "?" placeholders into the connection's native style.
func (db *DB) Rebind(query string) string {
	return Rebind(db.dialect, query)
}

// Rebind rewrites "?" placeholders into "$1, $2, ..." for postgres. Queries for
// other dialects are returned unchanged. Placeholders inside quoted literals
// are left alone.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)

	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inString = !inString
			sb.WriteByte(ch)
		case ch == '?' && !inString:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

func buildSQLiteDSN(cfg *config.DatabaseConfig) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	if cfg.WALMode {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}
	if cfg.CacheSize != 0 {
		params.Add("_pragma", fmt.Sprintf("cache_size(%d)", cfg.CacheSize))
	}
	params.Add("_pragma", "temp_store(MEMORY)")

	return cfg.Path + "?" + params.Encode()
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if db.walMode {
		_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}

	return db.DB.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	tx := &Tx{Tx: sqlTx, dialect: db.dialect}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

type Tx struct {
	*sql.Tx
	dialect Dialect
}

// Rebind rewrites "?" placeholders for the transaction's dialect.
func (tx *Tx) Rebind(query string) string {
	return Rebind(tx.dialect, query)
}
