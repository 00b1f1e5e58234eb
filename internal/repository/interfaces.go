package repository

import (
	"context"
	"errors"

	"github.com/rpattn/engsnap/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound is returned when no record matches an identifier.
	ErrRecordNotFound = errors.New("snapshot record not found")
	// ErrVersionNotFound is returned when a version has no records.
	ErrVersionNotFound = errors.New("version not found")
	// ErrVersionOfficial is returned when a write targets an official
	// version; official versions are immutable.
	ErrVersionOfficial = errors.New("version is official and immutable")
	// ErrVersionExists is returned when a rename would collide.
	ErrVersionExists = errors.New("version name already in use")
)

// SnapshotRepository defines the store operations for snapshot records and
// version lifecycle. All operations are scoped to a project.
type SnapshotRepository interface {
	// BulkUpsert writes records keyed by (project, version, identifier),
	// replacing earlier captures of the same identifier in the same
	// version. It refuses to touch official versions.
	BulkUpsert(ctx context.Context, records []domain.SnapshotRecord) (int, error)

	// ListByVersion pages through a version's records in a stable order
	// (identifier, then record id). limit <= 0 applies a default.
	ListByVersion(ctx context.Context, projectID uuid.UUID, versionName string, limit, offset int) ([]domain.SnapshotRecord, error)

	// GetAllByVersion returns every record of a version.
	GetAllByVersion(ctx context.Context, projectID uuid.UUID, versionName string) ([]domain.SnapshotRecord, error)

	// GetLatestByTrackID returns the most recent record carrying the
	// identifier across all versions.
	GetLatestByTrackID(ctx context.Context, projectID uuid.UUID, trackID string) (domain.SnapshotRecord, error)

	// ListLatestByTrackIDs is the batch form of GetLatestByTrackID;
	// identifiers without records are simply absent from the result.
	ListLatestByTrackIDs(ctx context.Context, projectID uuid.UUID, trackIDs []string) ([]domain.SnapshotRecord, error)

	// ListVersions returns aggregate metadata for every version.
	ListVersions(ctx context.Context, projectID uuid.UUID) ([]domain.VersionInfo, error)

	// DeleteDraftVersion removes a draft version and its records.
	DeleteDraftVersion(ctx context.Context, projectID uuid.UUID, versionName string) error

	// RenameDraftVersion renames a draft version.
	RenameDraftVersion(ctx context.Context, projectID uuid.UUID, oldName, newName string) error

	// MarkOfficial freezes a version.
	MarkOfficial(ctx context.Context, projectID uuid.UUID, versionName string) error
}
