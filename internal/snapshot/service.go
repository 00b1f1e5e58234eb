// Package snapshot captures live entities into versioned records. The same
// capture path serves user-initiated versions and the restore orchestrator's
// backup step.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/engsnap/internal/domain"
)

var (
	ErrProjectRequired = errors.New("a project id is required")
	ErrVersionRequired = errors.New("a version name is required")
	ErrNoEntities      = errors.New("no entities to capture")
)

// Store receives the captured records.
type Store interface {
	BulkUpsert(ctx context.Context, records []domain.SnapshotRecord) (int, error)
}

// Service builds and writes snapshot records.
type Service struct {
	store  Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a logger for capture summaries.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a capture service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one capture run.
type Request struct {
	ProjectID   uuid.UUID
	VersionName string
	FileSource  string
	CapturedBy  string
	Entities    []domain.TrackedEntity
}

// Summary reports what a capture wrote. Entities without an identifier
// cannot be joined across time and are counted rather than captured.
type Summary struct {
	VersionName         string `json:"version_name"`
	RecordCount         int    `json:"record_count"`
	SkippedNoIdentifier int    `json:"skipped_no_identifier,omitempty"`
}

// Capture writes one record per identified entity into the named version.
// Duplicate identifiers collapse to their first occurrence, the same rule
// the comparison applies; untangling them is the duplicate scanner's job.
func (s *Service) Capture(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{VersionName: req.VersionName}

	if req.ProjectID == uuid.Nil {
		return summary, ErrProjectRequired
	}
	if req.VersionName == "" {
		return summary, ErrVersionRequired
	}
	if len(req.Entities) == 0 {
		return summary, ErrNoEntities
	}

	capturedAt := s.now().UTC()
	seen := map[string]struct{}{}
	records := make([]domain.SnapshotRecord, 0, len(req.Entities))
	for _, entity := range req.Entities {
		key := domain.NormalizeTrackID(entity.TrackID)
		if key == "" {
			summary.SkippedNoIdentifier++
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		record := RecordFromEntity(entity, req.ProjectID, req.VersionName)
		record.FileSource = req.FileSource
		record.CapturedBy = req.CapturedBy
		record.CapturedAt = capturedAt
		records = append(records, record)
	}
	if len(records) == 0 {
		return summary, ErrNoEntities
	}

	written, err := s.store.BulkUpsert(ctx, records)
	if err != nil {
		return summary, fmt.Errorf("failed to write version %q: %w", req.VersionName, err)
	}
	summary.RecordCount = written

	s.logger.Infow("version captured",
		"version", req.VersionName,
		"records", written,
		"skipped_no_identifier", summary.SkippedNoIdentifier,
	)
	return summary, nil
}

// Backup captures entities into a draft version ahead of a restore. It is
// the restore orchestrator's Backupper.
func (s *Service) Backup(ctx context.Context, projectID uuid.UUID, versionName string, entities []domain.TrackedEntity) error {
	_, err := s.Capture(ctx, Request{
		ProjectID:   projectID,
		VersionName: versionName,
		FileSource:  "restore-backup",
		Entities:    entities,
	})
	return err
}

// RecordFromEntity builds the persisted form of one live entity: the full
// parameter map plus the indexed fields pulled out of it. Raw payloads and
// display text are captured as-is; nothing is reformatted.
func RecordFromEntity(entity domain.TrackedEntity, projectID uuid.UUID, versionName string) domain.SnapshotRecord {
	record := domain.SnapshotRecord{
		ID:          uuid.New(),
		ProjectID:   projectID,
		TrackID:     entity.TrackID,
		VersionName: versionName,
		Category:    entity.Category,
		Placed:      entity.Placed,
	}

	if entity.Position != nil {
		position := *entity.Position
		record.Position = &position
	}
	if entity.Facing != nil {
		facing := *entity.Facing
		record.Facing = &facing
	}
	if entity.Hand != nil {
		hand := *entity.Hand
		record.Hand = &hand
	}

	record.Parameters = make(map[string]domain.ParameterValue, len(entity.Parameters))
	for name, param := range entity.Parameters {
		record.Parameters[name] = param.Value
	}
	if len(entity.TypeParameters) > 0 {
		record.TypeParameters = make(map[string]domain.ParameterValue, len(entity.TypeParameters))
		for name, value := range entity.TypeParameters {
			record.TypeParameters[name] = value.WithTypeLevel()
		}
	}

	if value, ok := entity.LookupValue(domain.ParamNumber); ok {
		record.Number = value.Text
	}
	if value, ok := entity.LookupValue(domain.ParamName); ok {
		record.Name = value.Text
	}
	if value, ok := entity.LookupValue(domain.ParamLevel); ok {
		record.Level = value.Display
	}
	if value, ok := entity.LookupValue(domain.ParamArea); ok && value.Double != nil {
		area := *value.Double
		record.Area = &area
	}
	if value, ok := entity.TypeParameters["TypeID"]; ok && value.Reference != nil && *value.Reference > 0 {
		typeID := *value.Reference
		record.TypeID = &typeID
	}
	return record
}
