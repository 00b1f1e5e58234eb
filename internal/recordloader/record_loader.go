// Package recordloader batches latest-record lookups. The duplicate scanner
// resolves groups concurrently, one identifier each; the loader coalesces
// those into a single store query per batch window.
package recordloader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/engsnap/internal/domain"
	"github.com/rpattn/engsnap/internal/duplicates"
)

// Store is the batch lookup the loader fans requests into.
type Store interface {
	ListLatestByTrackIDs(ctx context.Context, projectID uuid.UUID, trackIDs []string) ([]domain.SnapshotRecord, error)
}

// RecordLoader resolves the latest record per identifier, batched. It
// implements duplicates.RecordSource.
type RecordLoader struct {
	loader *dataloader.Loader
}

// New creates a loader over the store.
func New(store Store) *RecordLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		// Keys carry project and identifier; group by project so one store
		// round-trip covers each project in the batch.
		byProject := map[uuid.UUID][]int{}
		parsed := make([]recordKey, len(keys))
		for i, key := range keys {
			rk, err := parseKey(key.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			parsed[i] = rk
			byProject[rk.projectID] = append(byProject[rk.projectID], i)
		}

		for projectID, indexes := range byProject {
			trackIDs := make([]string, 0, len(indexes))
			for _, i := range indexes {
				trackIDs = append(trackIDs, parsed[i].trackID)
			}
			records, err := store.ListLatestByTrackIDs(ctx, projectID, trackIDs)
			if err != nil {
				for _, i := range indexes {
					results[i] = &dataloader.Result{Error: err}
				}
				continue
			}
			index := domain.IndexRecordsByTrackID(records)
			for _, i := range indexes {
				if record, ok := index[domain.NormalizeTrackID(parsed[i].trackID)]; ok {
					results[i] = &dataloader.Result{Data: record}
				} else {
					results[i] = &dataloader.Result{Error: duplicates.ErrNoRecord}
				}
			}
		}
		return results
	}

	return &RecordLoader{
		loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond)),
	}
}

// LatestByTrackID returns the most recent record for the identifier, or
// duplicates.ErrNoRecord when none exists.
func (l *RecordLoader) LatestByTrackID(ctx context.Context, projectID uuid.UUID, trackID string) (domain.SnapshotRecord, error) {
	thunk := l.loader.Load(ctx, dataloader.StringKey(formatKey(projectID, trackID)))
	data, err := thunk()
	if err != nil {
		return domain.SnapshotRecord{}, err
	}
	record, ok := data.(domain.SnapshotRecord)
	if !ok {
		return domain.SnapshotRecord{}, fmt.Errorf("unexpected loader payload %T", data)
	}
	return record, nil
}

type recordKey struct {
	projectID uuid.UUID
	trackID   string
}

func formatKey(projectID uuid.UUID, trackID string) string {
	return projectID.String() + "/" + trackID
}

func parseKey(key string) (recordKey, error) {
	slash := strings.IndexByte(key, '/')
	if slash < 0 {
		return recordKey{}, fmt.Errorf("malformed loader key %q", key)
	}
	projectID, err := uuid.Parse(key[:slash])
	if err != nil {
		return recordKey{}, fmt.Errorf("malformed loader key %q: %w", key, err)
	}
	return recordKey{projectID: projectID, trackID: key[slash+1:]}, nil
}
