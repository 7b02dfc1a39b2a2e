package entities

import (
	"strconv"
	"time"

	"github.com/rossigee/pagekeeper/internal/persist"
	"github.com/rossigee/pagekeeper/internal/schema"
	"github.com/rossigee/pagekeeper/internal/storage"
)

// Source records how a page was reached.
type Source int

const (
	SourceSearch Source = iota + 1
	SourceInternalLink
	SourceExternalLink
	SourceHistory
	SourceSavedPage
	SourceMainPage
	SourceRandom
)

// HistoryEntry is one visit to a page.
type HistoryEntry struct {
	Title     PageTitle `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
}

// HistoryCatalog declares the history table.
var HistoryCatalog = schema.Catalog{
	Table: "history",
	Versions: []schema.Version{
		{Version: 1, Columns: []schema.Column{
			{Name: "_id", Decl: "integer primary key"},
			{Name: "site", Decl: "text"},
			{Name: "title", Decl: "text"},
			{Name: "timestamp", Decl: "integer"},
			{Name: "source", Decl: "integer"},
		}},
		{Version: 6, Columns: []schema.Column{
			{Name: "namespace", Decl: "text"},
		}},
	},
}

// HistoryMapper maps HistoryEntry rows.
type HistoryMapper struct{}

func (HistoryMapper) Table() string { return HistoryCatalog.Table }

func (HistoryMapper) FromRow(row storage.Row) (HistoryEntry, error) {
	return HistoryEntry{
		Title:     ParseTitle(row.String("site"), row.String("namespace"), row.String("title")),
		Timestamp: row.Time("timestamp"),
		Source:    Source(row.Int64("source")),
	}, nil
}

func (HistoryMapper) ToRow(h HistoryEntry) storage.Row {
	return storage.Row{
		"site":      h.Title.Site,
		"title":     h.Title.PrefixedText(),
		"namespace": h.Title.Namespace,
		"timestamp": h.Timestamp.UnixMilli(),
		"source":    int64(h.Source),
	}
}

func (HistoryMapper) PrimaryKey() persist.KeySelector[HistoryEntry] {
	return persist.KeySelector[HistoryEntry]{
		Where: "site = ? AND title = ? AND timestamp = ?",
		Args: func(h HistoryEntry) []string {
			return []string{h.Title.Site, h.Title.PrefixedText(), strconv.FormatInt(h.Timestamp.UnixMilli(), 10)}
		},
	}
}
