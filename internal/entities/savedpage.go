package entities

import (
	"time"

	"github.com/rossigee/pagekeeper/internal/persist"
	"github.com/rossigee/pagekeeper/internal/schema"
	"github.com/rossigee/pagekeeper/internal/storage"
)

// SavedPage is a page kept for offline reading.
type SavedPage struct {
	Title     PageTitle `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

// SavedPagesCatalog declares the savedpages table.
var SavedPagesCatalog = schema.Catalog{
	Table: "savedpages",
	Versions: []schema.Version{
		{Version: 4, Columns: []schema.Column{
			{Name: "_id", Decl: "integer primary key"},
			{Name: "site", Decl: "text"},
			{Name: "title", Decl: "text"},
			{Name: "timestamp", Decl: "integer"},
		}},
		{Version: 6, Columns: []schema.Column{
			{Name: "namespace", Decl: "text"},
		}},
	},
}

// SavedPageMapper maps SavedPage rows.
type SavedPageMapper struct{}

// Table implements persist.Mapper.
func (SavedPageMapper) Table() string { return SavedPagesCatalog.Table }

// FromRow implements persist.Mapper.
func (SavedPageMapper) FromRow(row storage.Row) (SavedPage, error) {
	return SavedPage{
		Title:     ParseTitle(row.String("site"), row.String("namespace"), row.String("title")),
		Timestamp: row.Time("timestamp"),
	}, nil
}

// ToRow implements persist.Mapper.
func (SavedPageMapper) ToRow(p SavedPage) storage.Row {
	return storage.Row{
		"site":      p.Title.Site,
		"title":     p.Title.PrefixedText(),
		"namespace": p.Title.Namespace,
		"timestamp": p.Timestamp.UnixMilli(),
	}
}

// PrimaryKey implements persist.Mapper.
func (SavedPageMapper) PrimaryKey() persist.KeySelector[SavedPage] {
	return persist.KeySelector[SavedPage]{
		Where: "site = ? AND title = ?",
		Args: func(p SavedPage) []string {
			return []string{p.Title.Site, p.Title.PrefixedText()}
		},
	}
}
