package main

import (
	"github.com/metakv/metakv/internal/importer"
	"github.com/metakv/metakv/internal/snapshotstore"
	"github.com/metakv/metakv/internal/store"
)

// loadNewest folds the newest committed snapshot file (if any) into a
// fresh LevelData. An empty data directory yields an empty level rather
// than an error, matching a brand new deployment's first export.
func loadNewest(snapStore *snapshotstore.Store) (*store.LevelData, error) {
	reader, found, err := snapStore.Newest()
	if err != nil {
		return nil, err
	}
	if !found {
		return store.NewLevelData(), nil
	}
	defer reader.Close()

	imp := importer.New()
	for reader.Next() {
		if err := imp.Apply(reader.Record()); err != nil {
			return nil, err
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return imp.Commit()
}
