package entities

import (
	"time"

	"github.com/rossigee/pagekeeper/internal/persist"
	"github.com/rossigee/pagekeeper/internal/schema"
	"github.com/rossigee/pagekeeper/internal/storage"
)

// RecentSearch is a search term the reader entered.
type RecentSearch struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentSearchesCatalog declares the recentsearches table.
var RecentSearchesCatalog = schema.Catalog{
	Table: "recentsearches",
	Versions: []schema.Version{
		{Version: 5, Columns: []schema.Column{
			{Name: "_id", Decl: "integer primary key"},
			{Name: "text", Decl: "text"},
			{Name: "timestamp", Decl: "integer"},
		}},
	},
}

// RecentSearchMapper maps RecentSearch rows.
type RecentSearchMapper struct{}

func (RecentSearchMapper) Table() string { return RecentSearchesCatalog.Table }

func (RecentSearchMapper) FromRow(row storage.Row) (RecentSearch, error) {
	return RecentSearch{Text: row.String("text"), Timestamp: row.Time("timestamp")}, nil
}

func (RecentSearchMapper) ToRow(s RecentSearch) storage.Row {
	return storage.Row{"text": s.Text, "timestamp": s.Timestamp.UnixMilli()}
}

func (RecentSearchMapper) PrimaryKey() persist.KeySelector[RecentSearch] {
	return persist.KeySelector[RecentSearch]{
		Where: "text = ?",
		Args:  func(s RecentSearch) []string { return []string{s.Text} },
	}
}
