package domain

import (
	"math"
	"strings"
)

// Category classifies the tracked element kinds the engine understands.
type Category string

const (
	CategoryRoom    Category = "ROOM"
	CategoryOpening Category = "OPENING"
	CategoryGeneric Category = "GENERIC"
)

// IsSpatial reports whether elements of this category occupy a placement in
// the model. Only spatial elements can become Unplaced or be recreated.
func (c Category) IsSpatial() bool {
	return c == CategoryRoom || c == CategoryOpening
}

// Point3D is a position in model coordinates (internal units).
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector3D is a direction in model coordinates.
type Vector3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Dot returns the dot product with another vector. A negative product means
// the two directions disagree, which is how orientation flips are detected.
func (v Vector3D) Dot(other Vector3D) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// IsZero reports whether the vector carries no direction.
func (v Vector3D) IsZero() bool {
	return math.Abs(v.X) < 1e-9 && math.Abs(v.Y) < 1e-9 && math.Abs(v.Z) < 1e-9
}

// Parameter is one live parameter slot on a tracked entity.
type Parameter struct {
	Value    ParameterValue `json:"value"`
	ReadOnly bool           `json:"readOnly"`
}

// TrackedEntity is the engine's view of one live model element. ElementID is
// the host's internal id and is only stable within a single document;
// TrackID is the persistent identifier that joins live elements to records.
type TrackedEntity struct {
	ElementID      int64                     `json:"element_id"`
	TrackID        string                    `json:"track_id"`
	Category       Category                  `json:"category"`
	Placed         bool                      `json:"placed"`
	Position       *Point3D                  `json:"position,omitempty"`
	Facing         *Vector3D                 `json:"facing,omitempty"`
	Hand           *Vector3D                 `json:"hand,omitempty"`
	Parameters     map[string]Parameter      `json:"parameters"`
	TypeParameters map[string]ParameterValue `json:"type_parameters,omitempty"`
}

// Parameter returns the named live parameter if the entity exposes it.
func (e TrackedEntity) Parameter(name string) (Parameter, bool) {
	p, ok := e.Parameters[name]
	return p, ok
}

// LookupValue returns the named parameter's value, consulting instance
// parameters first and falling back to the type-level map.
func (e TrackedEntity) LookupValue(name string) (ParameterValue, bool) {
	if p, ok := e.Parameters[name]; ok {
		return p.Value, true
	}
	if v, ok := e.TypeParameters[name]; ok {
		return v, true
	}
	return ParameterValue{}, false
}

// NormalizeTrackID canonicalizes an identifier for joining: surrounding
// whitespace is ignored and matching is case-insensitive.
func NormalizeTrackID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// IndexByTrackID builds a normalized-id lookup over live entities. When two
// entities carry the same identifier the first occurrence wins; resolving
// such collisions is the duplicate scanner's job, not the comparison's.
func IndexByTrackID(entities []TrackedEntity) map[string]TrackedEntity {
	index := make(map[string]TrackedEntity, len(entities))
	for _, entity := range entities {
		key := NormalizeTrackID(entity.TrackID)
		if key == "" {
			continue
		}
		if _, exists := index[key]; !exists {
			index[key] = entity
		}
	}
	return index
}
