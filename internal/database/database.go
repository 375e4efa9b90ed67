// Package database opens the SQL stores rows can be read from and classifies
// their errors.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultConnectTimeout bounds opening and pinging a database.
const DefaultConnectTimeout = 15 * time.Second

// OpenSQLite opens an existing SQLite file for reading.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, NewConnectionError(fmt.Sprintf("sqlite file %s is not accessible", path), err)
	}

	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, NewConnectionError("opening sqlite database", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	for _, pragma := range []string{"PRAGMA busy_timeout = 10000", "PRAGMA query_only = ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, ClassifyDatabaseError(err, DriverSQLite, "pragma", pragma)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, ClassifyDatabaseError(err, DriverSQLite, "ping", "")
	}
	return db, nil
}

// OpenPostgres connects a small pgx pool.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, NewConnectionError("postgres connection string is empty", nil)
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, NewConnectionError("invalid postgres connection string", err)
	}
	poolConfig.MaxConns = 2

	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, ClassifyDatabaseError(err, DriverPostgres, "connect", "")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, ClassifyDatabaseError(err, DriverPostgres, "ping", "")
	}
	return pool, nil
}

// QuoteIdentifier quotes a table name, accepting "schema.table" for postgres.
func QuoteIdentifier(driver, name string) string {
	if driver == DriverPostgres {
		return pgx.Identifier(strings.Split(name, ".")).Sanitize()
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
