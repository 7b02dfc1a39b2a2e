// Package storage provides the shared SQLite store, the additive schema
// migration engine and the statement-level row operations used by entity
// persisters.
package storage

// Bookkeeping schema owned by the store itself. Entity tables are declared
// through schema.Catalog values and created by Migrate.
const (
	// versionTableSQL records every store version reached; the current
	// version is MAX(version).
	versionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`

	currentVersionSQL = "SELECT COALESCE(MAX(version), 0) FROM schema_version"

	recordVersionSQL = "INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)"

	tableExistsSQL = "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?"

	columnExistsSQL = "SELECT 1 FROM pragma_table_info(?) WHERE name = ? COLLATE NOCASE"
)
