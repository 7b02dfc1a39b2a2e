// Package schema declares, per entity table, the columns introduced at each
// store version.
package schema

import (
	"fmt"
	"strings"
)

// Column is a single column declaration. Decl is the SQL type declaration
// including any constraint or default, e.g. "integer primary key".
type Column struct {
	Name string
	Decl string
}

// Version lists the columns added at one store version.
type Version struct {
	Version int
	Columns []Column
}

// Catalog is the ordered list of versions for one table.
type Catalog struct {
	Table    string
	Versions []Version
}

// Validate checks the catalog is well formed
func (c Catalog) Validate() error {
	if strings.TrimSpace(c.Table) == "" {
		return fmt.Errorf("catalog has no table name")
	}
	if len(c.Versions) == 0 {
		return fmt.Errorf("catalog %s declares no versions", c.Table)
	}
	if len(c.Versions[0].Columns) == 0 {
		return fmt.Errorf("catalog %s: first version %d declares no columns", c.Table, c.Versions[0].Version)
	}

	seen := make(map[string]int)
	prev := 0
	for _, v := range c.Versions {
		if v.Version < 1 {
			return fmt.Errorf("catalog %s: version %d must be >= 1", c.Table, v.Version)
		}
		if v.Version <= prev {
			return fmt.Errorf("catalog %s: version %d is not greater than %d", c.Table, v.Version, prev)
		}
		prev = v.Version

		for _, col := range v.Columns {
			if strings.TrimSpace(col.Name) == "" || strings.TrimSpace(col.Decl) == "" {
				return fmt.Errorf("catalog %s: version %d has a column without name or declaration", c.Table, v.Version)
			}
			key := strings.ToLower(col.Name)
			if at, dup := seen[key]; dup {
				return fmt.Errorf("catalog %s: column %q declared at version %d and again at %d", c.Table, col.Name, at, v.Version)
			}
			seen[key] = v.Version
		}
	}
	return nil
}

// Latest returns the highest declared version, or 0 for an empty catalog.
func (c Catalog) Latest() int {
	if len(c.Versions) == 0 {
		return 0
	}
	return c.Versions[len(c.Versions)-1].Version
}

// Introduced returns the store version at which the table first appears.
func (c Catalog) Introduced() int {
	if len(c.Versions) == 0 {
		return 0
	}
	return c.Versions[0].Version
}

// Pending returns the versions strictly newer than current, ascending.
func (c Catalog) Pending(current int) []Version {
	var pending []Version
	for _, v := range c.Versions {
		if v.Version > current {
			pending = append(pending, v)
		}
	}
	return pending
}

// ColumnsAt returns the union of all columns declared up to and including
// version, in declaration order.
func (c Catalog) ColumnsAt(version int) []Column {
	var cols []Column
	for _, v := range c.Versions {
		if v.Version > version {
			break
		}
		cols = append(cols, v.Columns...)
	}
	return cols
}

// Latest returns the highest version across all catalogs.
func Latest(catalogs ...Catalog) int {
	latest := 0
	for _, c := range catalogs {
		if v := c.Latest(); v > latest {
			latest = v
		}
	}
	return latest
}
