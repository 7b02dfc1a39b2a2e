package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noteCatalog() Catalog {
	return Catalog{
		Table: "notes",
		Versions: []Version{
			{Version: 1, Columns: []Column{{"id", "integer primary key"}, {"text", "text"}}},
			{Version: 2, Columns: []Column{{"createdAt", "integer not null default 0"}}},
			{Version: 4},
			{Version: 5, Columns: []Column{{"pinned", "integer default 0"}}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		catalog  Catalog
		errorMsg string
	}{
		{name: "valid", catalog: noteCatalog()},
		{name: "missing table", catalog: Catalog{Versions: noteCatalog().Versions}, errorMsg: "no table name"},
		{name: "no versions", catalog: Catalog{Table: "t"}, errorMsg: "declares no versions"},
		{
			name:     "empty first version",
			catalog:  Catalog{Table: "t", Versions: []Version{{Version: 1}}},
			errorMsg: "declares no columns",
		},
		{
			name: "zero version",
			catalog: Catalog{Table: "t", Versions: []Version{
				{Version: 0, Columns: []Column{{"a", "text"}}},
			}},
			errorMsg: "must be >= 1",
		},
		{
			name: "descending versions",
			catalog: Catalog{Table: "t", Versions: []Version{
				{Version: 3, Columns: []Column{{"a", "text"}}},
				{Version: 2, Columns: []Column{{"b", "text"}}},
			}},
			errorMsg: "is not greater than",
		},
		{
			name: "duplicate column",
			catalog: Catalog{Table: "t", Versions: []Version{
				{Version: 1, Columns: []Column{{"a", "text"}}},
				{Version: 2, Columns: []Column{{"A", "text"}}},
			}},
			errorMsg: "declared at version 1 and again at 2",
		},
		{
			name: "blank declaration",
			catalog: Catalog{Table: "t", Versions: []Version{
				{Version: 1, Columns: []Column{{"a", " "}}},
			}},
			errorMsg: "without name or declaration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestCatalogVersions(t *testing.T) {
	c := noteCatalog()

	assert.Equal(t, 5, c.Latest())
	assert.Equal(t, 1, c.Introduced())

	pending := c.Pending(2)
	require.Len(t, pending, 2)
	assert.Equal(t, 4, pending[0].Version)
	assert.Equal(t, 5, pending[1].Version)
	assert.Empty(t, c.Pending(5))

	names := func(cols []Column) []string {
		out := make([]string, 0, len(cols))
		for _, col := range cols {
			out = append(out, col.Name)
		}
		return out
	}
	assert.Equal(t, []string{"id", "text"}, names(c.ColumnsAt(1)))
	assert.Equal(t, []string{"id", "text", "createdAt"}, names(c.ColumnsAt(4)))
	assert.Equal(t, []string{"id", "text", "createdAt", "pinned"}, names(c.ColumnsAt(99)))
}

func TestLatestAcrossCatalogs(t *testing.T) {
	other := Catalog{Table: "other", Versions: []Version{{Version: 7, Columns: []Column{{"a", "text"}}}}}
	assert.Equal(t, 7, Latest(noteCatalog(), other))
	assert.Equal(t, 0, Latest())
}
