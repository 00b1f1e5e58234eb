package domain

// DuplicateAction is the suggested handling for one member of a duplicate
// identifier group.
type DuplicateAction string

const (
	// ActionKeep marks the canonical member; its identifier is untouched.
	ActionKeep DuplicateAction = "KEEP"
	// ActionRegenerate marks a member that should receive a fresh identifier.
	ActionRegenerate DuplicateAction = "REGENERATE"
)

// Rationales explaining how a group's canonical member was chosen.
const (
	RationaleNumberMatch     = "number-match"
	RationaleNameMatch       = "name-match"
	RationaleOrdinalFallback = "ordinal-fallback"
)

// DuplicateMember is one live element inside a duplicate identifier group.
type DuplicateMember struct {
	ElementID  int64           `json:"element_id"`
	Name       string          `json:"name,omitempty"`
	Number     string          `json:"number,omitempty"`
	Action     DuplicateAction `json:"action"`
	NewTrackID string          `json:"new_track_id,omitempty"`
}

// DuplicateGroup is a set of live elements sharing one tracked identifier.
// Exactly one member is canonical and keeps the identifier; the rest carry
// regeneration suggestions. Rationale names the rule that picked the winner.
type DuplicateGroup struct {
	TrackID            string            `json:"track_id"`
	CanonicalElementID int64             `json:"canonical_element_id"`
	Rationale          string            `json:"rationale"`
	Members            []DuplicateMember `json:"members"`
}
