package domain

// RestoreScope selects which side of the comparison a restore may touch.
type RestoreScope string

const (
	// ScopeExisting restores parameters onto live elements only.
	ScopeExisting RestoreScope = "EXISTING"
	// ScopeDeleted recreates recorded elements that no longer exist.
	ScopeDeleted RestoreScope = "DELETED"
	// ScopeAll does both.
	ScopeAll RestoreScope = "ALL"
)

// BackupPolicy decides what happens when the pre-restore backup cannot be
// written to the store.
type BackupPolicy string

const (
	// BackupRequire aborts the restore when the backup fails.
	BackupRequire BackupPolicy = "REQUIRE"
	// BackupWarn proceeds without a backup and surfaces a warning.
	BackupWarn BackupPolicy = "WARN"
)

// SkippedEntity names a target that was left untouched and why.
type SkippedEntity struct {
	TrackID string `json:"track_id"`
	Reason  string `json:"reason"`
}

// ParameterError is a soft per-parameter failure. It never aborts the
// restore; the remaining parameters and entities are still applied.
type ParameterError struct {
	TrackID   string `json:"track_id"`
	Parameter string `json:"parameter"`
	Reason    string `json:"reason"`
}

// RestoreOutcome summarizes one restore call. The counts cover entities, not
// parameters; RecreatedUnplaced lists recreated elements whose recorded
// position could not be re-established so callers can surface them instead
// of discovering the unplacement later.
type RestoreOutcome struct {
	UpdatedCount      int              `json:"updated_count"`
	CreatedCount      int              `json:"created_count"`
	Skipped           []SkippedEntity  `json:"skipped,omitempty"`
	Errors            []ParameterError `json:"errors,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	RecreatedUnplaced []string         `json:"recreated_unplaced,omitempty"`
	BackupVersion     string           `json:"backup_version,omitempty"`
}

// Succeeded reports whether the restore touched at least one entity without
// accumulating any soft errors.
func (o RestoreOutcome) Succeeded() bool {
	return len(o.Errors) == 0 && (o.UpdatedCount > 0 || o.CreatedCount > 0)
}
