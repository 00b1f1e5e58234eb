package domain

// ComparisonStatus classifies one tracked identifier after a comparison run.
type ComparisonStatus string

const (
	StatusNew       ComparisonStatus = "NEW"
	StatusModified  ComparisonStatus = "MODIFIED"
	StatusUnchanged ComparisonStatus = "UNCHANGED"
	StatusDeleted   ComparisonStatus = "DELETED"
	StatusUnplaced  ComparisonStatus = "UNPLACED"
)

// ParameterChange records one differing parameter between the live side and
// the snapshot side. Both values are carried whole so consumers can show the
// display text while downstream logic keeps working from raw payloads.
type ParameterChange struct {
	Name     string         `json:"name"`
	Current  ParameterValue `json:"current"`
	Snapshot ParameterValue `json:"snapshot"`
	ReadOnly bool           `json:"read_only,omitempty"`
}

// ComparisonItem is the comparison result for one tracked identifier.
// MissingParameters lists snapshot parameters the live element no longer
// exposes; they are informational and never influence Status.
type ComparisonItem struct {
	TrackID           string           `json:"track_id"`
	ElementID         int64            `json:"element_id,omitempty"`
	Category          Category         `json:"category,omitempty"`
	Status            ComparisonStatus `json:"status"`
	Changes           []ParameterChange `json:"changes,omitempty"`
	MissingParameters []string         `json:"missing_parameters,omitempty"`
}

// HasChanges reports whether any parameter actually differs.
func (i ComparisonItem) HasChanges() bool {
	return len(i.Changes) > 0
}
