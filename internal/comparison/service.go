// Package comparison classifies live model state against snapshot records.
// The engine is pure: it mutates nothing it is given and produces the same
// output for the same input, so runs can fan out across entities safely.
package comparison

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/engsnap/internal/domain"
)

// Service runs comparisons. Construct with NewService; the zero value uses
// the default tolerance and worker count.
type Service struct {
	tolerance float64
	workers   int
}

// Option configures a Service.
type Option func(*Service)

// WithTolerance overrides the absolute tolerance used for DOUBLE payloads.
func WithTolerance(tolerance float64) Option {
	return func(s *Service) {
		if tolerance > 0 {
			s.tolerance = tolerance
		}
	}
}

// WithWorkers bounds how many entities are diffed concurrently.
func WithWorkers(workers int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// NewService creates a comparison service.
func NewService(opts ...Option) *Service {
	s := &Service{
		tolerance: domain.DefaultDoubleTolerance,
		workers:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request compares live entities against the records of one version.
type Request struct {
	Current []domain.TrackedEntity
	Records []domain.SnapshotRecord
	// IncludeUnchanged keeps items with no differences in the result.
	IncludeUnchanged bool
}

// VersionRequest compares two versions; Target stands in for live state, so
// an identifier present only in Target classifies as New and one present
// only in Base classifies as Deleted.
type VersionRequest struct {
	Base             []domain.SnapshotRecord
	Target           []domain.SnapshotRecord
	IncludeUnchanged bool
}

// Compare classifies every tracked identifier on either side. Output is
// ordered by identifier; each item's changes are ordered by parameter name.
// Live entities without an identifier are not tracked and are ignored.
func (s *Service) Compare(ctx context.Context, req Request) ([]domain.ComparisonItem, error) {
	liveIndex := domain.IndexByTrackID(req.Current)
	recordIndex := domain.IndexRecordsByTrackID(req.Records)

	type task struct {
		entity    domain.TrackedEntity
		record    domain.SnapshotRecord
		hasEntity bool
		hasRecord bool
	}

	tasks := make([]task, 0, len(liveIndex)+len(recordIndex))
	for key, entity := range liveIndex {
		record, matched := recordIndex[key]
		tasks = append(tasks, task{entity: entity, record: record, hasEntity: true, hasRecord: matched})
	}
	for key, record := range recordIndex {
		if _, matched := liveIndex[key]; !matched {
			tasks = append(tasks, task{record: record, hasRecord: true})
		}
	}

	results := make([]domain.ComparisonItem, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, tk := range tasks {
		i, tk := i, tk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			switch {
			case tk.hasEntity && tk.hasRecord:
				results[i] = s.diffPair(tk.entity, tk.record)
			case tk.hasEntity:
				results[i] = domain.ComparisonItem{
					TrackID:   tk.entity.TrackID,
					ElementID: tk.entity.ElementID,
					Category:  tk.entity.Category,
					Status:    domain.StatusNew,
				}
			default:
				results[i] = domain.ComparisonItem{
					TrackID:  tk.record.TrackID,
					Category: tk.record.Category,
					Status:   domain.StatusDeleted,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]domain.ComparisonItem, 0, len(results))
	for _, item := range results {
		if item.Status == domain.StatusUnchanged && !req.IncludeUnchanged {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return domain.NormalizeTrackID(items[i].TrackID) < domain.NormalizeTrackID(items[j].TrackID)
	})
	return items, nil
}

// CompareVersions classifies Target against Base using the same rules as a
// live comparison.
func (s *Service) CompareVersions(ctx context.Context, req VersionRequest) ([]domain.ComparisonItem, error) {
	current := make([]domain.TrackedEntity, 0, len(req.Target))
	for _, record := range req.Target {
		current = append(current, entityFromRecord(record))
	}
	return s.Compare(ctx, Request{
		Current:          current,
		Records:          req.Base,
		IncludeUnchanged: req.IncludeUnchanged,
	})
}

// diffPair diffs one matched identifier. The record drives the loop: every
// recorded parameter is checked against the live element, and recorded
// parameters the element no longer exposes are collected as missing rather
// than reported as changes.
func (s *Service) diffPair(entity domain.TrackedEntity, record domain.SnapshotRecord) domain.ComparisonItem {
	item := domain.ComparisonItem{
		TrackID:   entity.TrackID,
		ElementID: entity.ElementID,
		Category:  entity.Category,
	}

	merged := record.MergedParameters()
	for _, name := range sortedNames(merged) {
		recorded := merged[name]
		live, readOnly, ok := liveValue(entity, name)
		if !ok {
			item.MissingParameters = append(item.MissingParameters, name)
			continue
		}
		if !domain.ValuesEqualTolerance(live, recorded, s.tolerance) {
			item.Changes = append(item.Changes, domain.ParameterChange{
				Name:     name,
				Current:  live,
				Snapshot: recorded,
				ReadOnly: readOnly,
			})
		}
	}

	for _, name := range sortedNames(record.TypeParameters) {
		if _, shadowed := merged[name]; shadowed {
			continue
		}
		recorded := record.TypeParameters[name]
		live, ok := entity.LookupValue(name)
		if !ok {
			item.MissingParameters = append(item.MissingParameters, name)
			continue
		}
		if !domain.ValuesEqualTolerance(live, recorded, s.tolerance) {
			item.Changes = append(item.Changes, domain.ParameterChange{
				Name:     name,
				Current:  live,
				Snapshot: recorded,
				ReadOnly: true,
			})
		}
	}
	sort.Strings(item.MissingParameters)
	sort.Slice(item.Changes, func(i, j int) bool { return item.Changes[i].Name < item.Changes[j].Name })

	switch {
	case entity.Category.IsSpatial() && record.Placed && !entity.Placed:
		item.Status = domain.StatusUnplaced
	case len(item.Changes) > 0:
		item.Status = domain.StatusModified
	default:
		item.Status = domain.StatusUnchanged
	}
	return item
}

// liveValue resolves the live side of a diff: instance parameters first,
// then type-level values, which are never writable.
func liveValue(entity domain.TrackedEntity, name string) (domain.ParameterValue, bool, bool) {
	if param, ok := entity.Parameters[name]; ok {
		return param.Value, param.ReadOnly, true
	}
	if value, ok := entity.TypeParameters[name]; ok {
		return value, true, true
	}
	return domain.ParameterValue{}, false, false
}

// entityFromRecord lifts a record into the live-entity shape so version
// pairs reuse the live diff path.
func entityFromRecord(record domain.SnapshotRecord) domain.TrackedEntity {
	merged := record.MergedParameters()
	params := make(map[string]domain.Parameter, len(merged))
	for name, value := range merged {
		params[name] = domain.Parameter{Value: value}
	}
	return domain.TrackedEntity{
		TrackID:        record.TrackID,
		Category:       record.Category,
		Placed:         record.Placed,
		Position:       record.Position,
		Facing:         record.Facing,
		Hand:           record.Hand,
		Parameters:     params,
		TypeParameters: record.TypeParameters,
	}
}

func sortedNames(values map[string]domain.ParameterValue) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
