// Package hostdoc defines the narrow surface the engine needs from a live
// host document. The real implementation lives in the host add-in; the
// in-memory implementation here backs unit tests and local tooling.
package hostdoc

import (
	"context"
	"errors"

	"github.com/rpattn/engsnap/internal/domain"
)

var (
	ErrEntityNotFound      = errors.New("entity not found")
	ErrParameterNotFound   = errors.New("parameter not found")
	ErrParameterReadOnly   = errors.New("parameter is read-only")
	ErrStorageTypeMismatch = errors.New("parameter storage type mismatch")
	ErrNameNotFound        = errors.New("no element with that name")
	ErrNotSpatial          = errors.New("category cannot be placed")
	ErrNoOrientation       = errors.New("element has no orientation")
)

// Document is a read view over a live host document plus a transaction
// boundary. All engine reads happen through it; all mutations happen inside
// WithTransaction.
type Document interface {
	// ListEntities returns every tracked entity of the category.
	ListEntities(ctx context.Context, category domain.Category) ([]domain.TrackedEntity, error)
	// GetEntity returns one entity by its host element id.
	GetEntity(ctx context.Context, elementID int64) (domain.TrackedEntity, error)
	// ResolveByName resolves a named target (level, phase) to its element id.
	ResolveByName(ctx context.Context, name string) (int64, error)
	// WithTransaction runs fn inside a named document transaction. A nil
	// return commits; any error rolls back every mutation fn performed.
	// Once fn starts it runs to completion; cancellation is only honored
	// before the transaction opens.
	WithTransaction(ctx context.Context, name string, fn func(Transaction) error) error
}

// Transaction is the mutating view handed to WithTransaction callbacks.
// Reads through it observe uncommitted writes, so callers can rebuild
// identifier indexes after creating elements.
type Transaction interface {
	ListEntities(category domain.Category) ([]domain.TrackedEntity, error)
	GetEntity(elementID int64) (domain.TrackedEntity, error)
	ResolveByName(name string) (int64, error)

	SetParameter(elementID int64, name string, value domain.ParameterValue) error
	SetTrackID(elementID int64, trackID string) error
	CreateEntity(spec CreateSpec) (domain.TrackedEntity, error)
	DeleteEntity(elementID int64) error
	FlipFacing(elementID int64) error
	FlipHand(elementID int64) error
}

// CreateSpec describes an element to recreate. A nil Position, or a Level
// that does not resolve for a room, produces an unplaced element rather
// than an error.
type CreateSpec struct {
	Category domain.Category
	TypeID   *int64
	Position *domain.Point3D
	Level    string
}
