package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rossigee/pagekeeper/internal/schema"
	"github.com/sirupsen/logrus"
)

// Migrate brings every catalog's table up to the latest catalog version and
// returns the new store version.
//
// Only additive changes are made. A missing table is created from its first
// version and then receives every later version; an existing table receives
// the versions newer than the current store version. Adding a column that is
// already present is a no-op, so re-running a migration is safe. The whole
// run holds the write lock and one transaction, so no reader ever sees a
// half-migrated schema.
func (s *Store) Migrate(ctx context.Context, catalogs ...schema.Catalog) (int, error) {
	for _, c := range catalogs {
		if err := c.Validate(); err != nil {
			return 0, fmt.Errorf("invalid catalog: %w", err)
		}
	}
	target := schema.Latest(catalogs...)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ioErr("begin migration", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback migration")
			}
		}
	}()

	var current int
	if err := tx.QueryRowContext(ctx, currentVersionSQL).Scan(&current); err != nil {
		return 0, ioErr("read version", err)
	}
	if current > target {
		return current, &SchemaTooNewError{StoreVersion: current, CatalogVersion: target}
	}

	for _, c := range catalogs {
		if err := applyCatalog(ctx, tx, c, current); err != nil {
			return current, err
		}
	}

	if target > current {
		if _, err := tx.ExecContext(ctx, recordVersionSQL, target, time.Now().Unix()); err != nil {
			return current, ioErr(fmt.Sprintf("record version %d", target), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return current, ioErr("commit migration", err)
	}
	committed = true

	if target > current {
		logrus.WithFields(logrus.Fields{
			"from_version": current,
			"to_version":   target,
			"tables":       len(catalogs),
		}).Info("Migrated local store")
	}
	return target, nil
}

func applyCatalog(ctx context.Context, tx *sql.Tx, c schema.Catalog, current int) error {
	exists, err := tableExists(ctx, tx, c.Table)
	if err != nil {
		return err
	}

	pending := c.Pending(current)
	if !exists {
		first := c.Versions[0]
		if err := createTable(ctx, tx, c.Table, first.Columns); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"table":   c.Table,
			"version": first.Version,
		}).Info("Created table")
		pending = c.Versions[1:]
	}

	for _, v := range pending {
		for _, col := range v.Columns {
			if err := addColumn(ctx, tx, c.Table, col); err != nil {
				return fmt.Errorf("apply %s v%d: %w", c.Table, v.Version, err)
			}
		}
	}
	return nil
}

func tableExists(ctx context.Context, tx *sql.Tx, table string) (bool, error) {
	var found int
	err := tx.QueryRowContext(ctx, tableExistsSQL, table).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ioErr("inspect "+table, err)
	}
	return true, nil
}

func createTable(ctx context.Context, tx *sql.Tx, table string, cols []schema.Column) error {
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = quoteIdent(col.Name) + " " + col.Decl
	}
	query := "CREATE TABLE IF NOT EXISTS " + quoteIdent(table) + " (" + strings.Join(defs, ", ") + ")"
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return ioErr("create "+table, err)
	}
	return nil
}

// addColumn adds col unless the table already has it.
func addColumn(ctx context.Context, tx *sql.Tx, table string, col schema.Column) error {
	var found int
	err := tx.QueryRowContext(ctx, columnExistsSQL, table, col.Name).Scan(&found)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ioErr("inspect "+table, err)
	}

	query := "ALTER TABLE " + quoteIdent(table) + " ADD COLUMN " + quoteIdent(col.Name) + " " + col.Decl
	if _, err := tx.ExecContext(ctx, query); err != nil {
		if isDuplicateColumn(err) {
			return nil
		}
		return ioErr("add column "+table+"."+col.Name, err)
	}

	logrus.WithFields(logrus.Fields{
		"table":  table,
		"column": col.Name,
	}).Debug("Added column")
	return nil
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
