package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register SQLite driver
	"github.com/sirupsen/logrus"
)

// MemoryPath opens a private in-memory store.
const MemoryPath = ":memory:"

// Key selects rows by primary key: a WHERE clause with positional
// placeholders and one argument per placeholder.
type Key struct {
	Where string
	Args  []any
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Where) == "" {
		return fmt.Errorf("empty key clause: %w", ErrKeyArity)
	}
	if n := strings.Count(k.Where, "?"); n != len(k.Args) {
		return fmt.Errorf("%q has %d placeholders, got %d arguments: %w", k.Where, n, len(k.Args), ErrKeyArity)
	}
	return nil
}

// Store is the single shared SQLite handle. Mutations are serialised by a
// write lock; reads share a read lock and never overlap a migration.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open opens or creates the store at dbPath and ensures the version table.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	dsn := dbPath
	memory := dbPath == MemoryPath
	if !memory {
		dsn = dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, ioErr("open", err)
	}

	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, ioErr("ping", err)
	}

	if _, err := db.ExecContext(ctx, versionTableSQL); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database connection after init error")
		}
		return nil, ioErr("create version table", err)
	}

	logrus.WithField("db_path", dbPath).Info("Opened local store")
	return &Store{db: db, dbPath: dbPath}, nil
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// Version returns the current store version, 0 for a fresh store.
func (s *Store) Version(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int
	if err := s.db.QueryRowContext(ctx, currentVersionSQL).Scan(&version); err != nil {
		return 0, ioErr("read version", err)
	}
	return version, nil
}

// UpsertRow updates the row matching key or inserts row when none matches.
// The existence check and the write share one transaction under the write
// lock, so concurrent upserts of one key leave a single row. It reports
// whether a new row was inserted.
func (s *Store) UpsertRow(ctx context.Context, table string, key Key, row Row) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	if len(row) == 0 {
		return false, fmt.Errorf("upsert %s: row has no columns", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, ioErr("begin upsert "+table, err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM "+quoteIdent(table)+" WHERE "+key.Where+" LIMIT 1", key.Args...,
	).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, ioErr("check "+table, err)
	}
	found := err == nil

	cols := row.columns()
	values := make([]any, 0, len(cols)+len(key.Args))
	for _, c := range cols {
		values = append(values, row[c])
	}

	if found {
		assignments := make([]string, len(cols))
		for i, c := range cols {
			assignments[i] = quoteIdent(c) + " = ?"
		}
		query := "UPDATE " + quoteIdent(table) + " SET " + strings.Join(assignments, ", ") + " WHERE " + key.Where
		if _, err := tx.ExecContext(ctx, query, append(values, key.Args...)...); err != nil {
			return false, ioErr("update "+table, err)
		}
	} else {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdent(c)
		}
		query := "INSERT INTO " + quoteIdent(table) + " (" + strings.Join(quoted, ", ") +
			") VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
		if _, err := tx.ExecContext(ctx, query, values...); err != nil {
			return false, ioErr("insert "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, ioErr("commit upsert "+table, err)
	}
	committed = true

	return !found, nil
}

// DeleteRows removes the rows matching key. Matching nothing is not an error.
func (s *Store) DeleteRows(ctx context.Context, table string, key Key) (int64, error) {
	if err := key.validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)+" WHERE "+key.Where, key.Args...)
	if err != nil {
		return 0, ioErr("delete from "+table, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, ioErr("delete from "+table, err)
	}
	return deleted, nil
}

// Truncate removes every row of table.
func (s *Store) Truncate(ctx context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(table))
	if err != nil {
		return 0, ioErr("truncate "+table, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, ioErr("truncate "+table, err)
	}

	if deleted > 0 {
		logrus.WithFields(logrus.Fields{
			"table":         table,
			"deleted_count": deleted,
		}).Debug("Truncated table")
	}
	return deleted, nil
}

// FindRow returns the first row matching key.
func (s *Store) FindRow(ctx context.Context, table string, key Key) (Row, bool, error) {
	if err := key.validate(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table)+" WHERE "+key.Where+" LIMIT 1", key.Args...)
	if err != nil {
		return nil, false, ioErr("query "+table, err)
	}
	defer closeRows(rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, ioErr("query "+table, err)
		}
		return nil, false, nil
	}
	row, err := scanRow(rows)
	if err != nil {
		return nil, false, ioErr("scan "+table, err)
	}
	return row, true, nil
}

// scanBatchSize bounds how many rows ScanRows reads per query.
var scanBatchSize = 128

// scanRowIDColumn carries the rowid alongside each scanned row.
const scanRowIDColumn = "__scan_rowid"

// ScanRows lazily yields every row of table in storage order. Rows are read
// in batches; the read lock and the cursor are released before each batch is
// yielded, so the loop body may read from or write to this store. Rows
// changed behind the scan position are not revisited. A query or scan
// failure is yielded once as the error and ends the sequence.
func (s *Store) ScanRows(ctx context.Context, table string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		var after int64
		for {
			batch, last, err := s.scanBatch(ctx, table, after, scanBatchSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, row := range batch {
				if !yield(row, nil) {
					return
				}
			}
			if len(batch) < scanBatchSize {
				return
			}
			after = last
		}
	}
}

// scanBatch reads up to limit rows with a rowid above after and returns them
// with the last rowid read.
func (s *Store) scanBatch(ctx context.Context, table string, after int64, limit int) ([]Row, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT rowid AS " + quoteIdent(scanRowIDColumn) + ", * FROM " + quoteIdent(table) +
		" WHERE rowid > ? ORDER BY rowid LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, after, ioErr("scan "+table, err)
	}
	defer closeRows(rows)

	batch := make([]Row, 0, limit)
	last := after
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, after, ioErr("scan "+table, err)
		}
		last = row.Int64(scanRowIDColumn)
		delete(row, scanRowIDColumn)
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, after, ioErr("scan "+table, err)
	}
	return batch, last, nil
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&count); err != nil {
		return 0, ioErr("count "+table, err)
	}
	return count, nil
}

// Columns returns the column names of table in declaration order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, ioErr("table info "+table, err)
	}
	defer closeRows(rows)

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ioErr("table info "+table, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("table info "+table, err)
	}
	return cols, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}
	return nil
}

// Helper functions

func scanRow(rows *sql.Rows) (Row, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(Row, len(names))
	for i, name := range names {
		if b, ok := values[i].([]byte); ok {
			values[i] = append([]byte(nil), b...)
		}
		row[name] = values[i]
	}
	return row, nil
}

func closeRows(rows *sql.Rows) {
	if closeErr := rows.Close(); closeErr != nil {
		logrus.WithError(closeErr).Warn("Failed to close database rows")
	}
}
