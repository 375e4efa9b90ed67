package input

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/canectors/viewexport/internal/database"
	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/pkg/export"
)

// SQLiteSource reads one table of a SQLite file. The sheet names the table.
type SQLiteSource struct {
	path  string
	table string
	db    *sql.DB
}

// NewSQLiteSource validates the settings; the file is opened on first use.
func NewSQLiteSource(cfg export.SourceConfig) (*SQLiteSource, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: sqlite source requires a path", ErrInvalidSource)
	}
	if strings.TrimSpace(cfg.Sheet) == "" {
		return nil, fmt.Errorf("%w: sqlite source requires a table (sheet)", ErrInvalidSource)
	}
	return &SQLiteSource{path: cfg.Path, table: cfg.Sheet}, nil
}

func (s *SQLiteSource) conn(ctx context.Context) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := database.OpenSQLite(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceNotFound, err)
	}
	s.db = db
	return db, nil
}

func (s *SQLiteSource) query(ctx context.Context, limit string) (*sql.Rows, string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, "", err
	}
	q := "SELECT * FROM " + database.QuoteIdentifier(database.DriverSQLite, s.table) + limit
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, q, tableError(database.ClassifyDatabaseError(err, database.DriverSQLite, "select", q), s.table)
	}
	return rows, q, nil
}

// Columns returns the table's column names.
func (s *SQLiteSource) Columns(ctx context.Context) ([]string, error) {
	rows, _, err := s.query(ctx, " LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return normalizeHeader(cols), nil
}

// Read loads the whole table in rowid order.
func (s *SQLiteSource) Read(ctx context.Context) (*export.Dataset, error) {
	rows, q, err := s.query(ctx, "")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	raw, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	columns := normalizeHeader(raw)
	ds := &export.Dataset{Columns: columns}

	dest := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, database.ClassifyDatabaseError(err, database.DriverSQLite, "scan", q)
		}
		ds.Rows = append(ds.Rows, export.NewRow(len(ds.Rows), columns, cells(dest)))
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyDatabaseError(err, database.DriverSQLite, "select", q)
	}

	logger.Debug("sqlite source read", "path", s.path, "table", s.table, "rows", len(ds.Rows))
	return ds, nil
}

// Close closes the database if it was opened.
func (s *SQLiteSource) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// PostgresSource reads one table through a pgx pool. The sheet names the
// table and may be schema-qualified.
type PostgresSource struct {
	dsn   string
	table string
	pool  *pgxpool.Pool
}

// NewPostgresSource validates the settings; the pool is created on first use.
func NewPostgresSource(cfg export.SourceConfig) (*PostgresSource, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%w: postgres source requires a dsn", ErrInvalidSource)
	}
	if strings.TrimSpace(cfg.Sheet) == "" {
		return nil, fmt.Errorf("%w: postgres source requires a table (sheet)", ErrInvalidSource)
	}
	return &PostgresSource{dsn: cfg.DSN, table: cfg.Sheet}, nil
}

func (s *PostgresSource) conn(ctx context.Context) (*pgxpool.Pool, error) {
	if s.pool != nil {
		return s.pool, nil
	}
	pool, err := database.OpenPostgres(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceNotFound, err)
	}
	s.pool = pool
	return pool, nil
}

func (s *PostgresSource) statement(limit string) string {
	return "SELECT * FROM " + database.QuoteIdentifier(database.DriverPostgres, s.table) + limit
}

// Columns returns the table's column names.
func (s *PostgresSource) Columns(ctx context.Context) ([]string, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := s.statement(" LIMIT 0")
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, tableError(database.ClassifyDatabaseError(err, database.DriverPostgres, "select", q), s.table)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	// the error of a missing relation surfaces on Close/Err
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, tableError(database.ClassifyDatabaseError(err, database.DriverPostgres, "select", q), s.table)
	}
	return normalizeHeader(names), nil
}

// Read loads the whole table.
func (s *PostgresSource) Read(ctx context.Context) (*export.Dataset, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := s.statement("")
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, tableError(database.ClassifyDatabaseError(err, database.DriverPostgres, "select", q), s.table)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	columns := normalizeHeader(names)
	ds := &export.Dataset{Columns: columns}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, database.ClassifyDatabaseError(err, database.DriverPostgres, "scan", q)
		}
		ds.Rows = append(ds.Rows, export.NewRow(len(ds.Rows), columns, cells(values)))
	}
	if err := rows.Err(); err != nil {
		return nil, tableError(database.ClassifyDatabaseError(err, database.DriverPostgres, "select", q), s.table)
	}

	logger.Debug("postgres source read", "table", s.table, "rows", len(ds.Rows))
	return ds, nil
}

// Close closes the pool if it was created.
func (s *PostgresSource) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func cells(values []interface{}) []export.Value {
	out := make([]export.Value, len(values))
	for i, v := range values {
		// pgtype values such as Numeric implement driver.Valuer
		if valuer, ok := v.(driver.Valuer); ok {
			if dv, err := valuer.Value(); err == nil {
				v = dv
			}
		}
		out[i] = cellValue(v)
	}
	return out
}

func tableError(err *database.DatabaseError, table string) error {
	if database.IsNotFound(err) {
		return fmt.Errorf("%w: table %q: %w", ErrSheetNotFound, table, err)
	}
	return err
}
