package domain

import (
	"time"

	"github.com/google/uuid"
)

// Well-known parameter names that are duplicated into indexed columns on the
// record. They participate in comparison and restore like any other
// parameter; the dedicated fields exist for querying and duplicate detection.
const (
	ParamNumber = "Number"
	ParamName   = "Name"
	ParamLevel  = "Level"
	ParamArea   = "Area"
)

// SnapshotRecord is one captured entity inside one version. Records are keyed
// by (TrackID, VersionName) within a project; ElementID is deliberately not
// part of the key because it does not survive document round-trips.
type SnapshotRecord struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	TrackID     string    `json:"track_id"`
	VersionName string    `json:"version_name"`
	FileSource  string    `json:"file_source,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	CapturedBy  string    `json:"captured_by,omitempty"`
	Official    bool      `json:"official"`
	Category    Category  `json:"category"`

	// Indexed copies of well-known parameters.
	Number   string   `json:"number"`
	Name     string   `json:"name"`
	Level    string   `json:"level"`
	TypeID   *int64   `json:"type_id,omitempty"`
	Placed   bool     `json:"placed"`
	Position *Point3D `json:"position,omitempty"`
	Facing   *Vector3D `json:"facing,omitempty"`
	Hand     *Vector3D `json:"hand,omitempty"`
	Area     *float64 `json:"area,omitempty"`

	Parameters     map[string]ParameterValue `json:"parameters"`
	TypeParameters map[string]ParameterValue `json:"type_parameters,omitempty"`
}

// MergedParameters returns the record's full restorable view: every captured
// parameter plus the indexed fields. Indexed fields are present even when
// empty so a restore can clear a live value back to blank; when the capture
// already stored a typed parameter under the same name that richer value
// wins.
func (r SnapshotRecord) MergedParameters() map[string]ParameterValue {
	merged := make(map[string]ParameterValue, len(r.Parameters)+4)

	merged[ParamNumber] = NewStringValue(r.Number, r.Number)
	merged[ParamName] = NewStringValue(r.Name, r.Name)
	if r.Level == "" {
		merged[ParamLevel] = NewUnsetReferenceValue()
	} else {
		merged[ParamLevel] = NewNamedReferenceValue(r.Level)
	}
	if r.Area != nil {
		merged[ParamArea] = NewDoubleValue(*r.Area, "")
	}

	for name, value := range r.Parameters {
		merged[name] = value
	}
	return merged
}

// IndexRecordsByTrackID builds a normalized-id lookup over records. As with
// live entities, the first occurrence of a duplicated identifier wins.
func IndexRecordsByTrackID(records []SnapshotRecord) map[string]SnapshotRecord {
	index := make(map[string]SnapshotRecord, len(records))
	for _, record := range records {
		key := NormalizeTrackID(record.TrackID)
		if key == "" {
			continue
		}
		if _, exists := index[key]; !exists {
			index[key] = record
		}
	}
	return index
}

// VersionInfo is the aggregate metadata for one named version in a project.
type VersionInfo struct {
	Name        string    `json:"name"`
	Official    bool      `json:"official"`
	CapturedBy  string    `json:"captured_by,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	RecordCount int       `json:"record_count"`
}
