package entities

import "github.com/rossigee/pagekeeper/internal/persist"

// All registers every reader entity type on r.
func All(r *persist.Registry) error {
	if err := persist.Register(r, HistoryCatalog, func() persist.Mapper[HistoryEntry] { return HistoryMapper{} }); err != nil {
		return err
	}
	if err := persist.Register(r, RecentSearchesCatalog, func() persist.Mapper[RecentSearch] { return RecentSearchMapper{} }); err != nil {
		return err
	}
	return persist.Register(r, SavedPagesCatalog, func() persist.Mapper[SavedPage] { return SavedPageMapper{} })
}
