// Package restore applies parameter values from a captured version back onto
// a live host document. The whole restore runs inside a single document
// transaction: structural failures roll back every write, while individual
// parameter problems are collected and never abort the run.
package restore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/engsnap/internal/domain"
	"github.com/rpattn/engsnap/internal/hostdoc"
)

var (
	ErrDocumentRequired = errors.New("a host document is required")
	ErrVersionRequired  = errors.New("a version name is required")
)

// Store provides the records of one version. The fetch happens before the
// document transaction opens so no network I/O runs while the document is
// locked.
type Store interface {
	RecordsByVersion(ctx context.Context, projectID uuid.UUID, versionName string) ([]domain.SnapshotRecord, error)
}

// Backupper captures the targeted entities into a named draft version
// before anything is mutated.
type Backupper interface {
	Backup(ctx context.Context, projectID uuid.UUID, versionName string, entities []domain.TrackedEntity) error
}

// Service orchestrates restores.
type Service struct {
	store  Store
	backup Backupper
	policy domain.BackupPolicy
	logger *zap.SugaredLogger
}

// Option configures a Service.
type Option func(*Service)

// WithBackupPolicy sets how a failed pre-restore backup is handled.
func WithBackupPolicy(policy domain.BackupPolicy) Option {
	return func(s *Service) {
		if policy == domain.BackupRequire || policy == domain.BackupWarn {
			s.policy = policy
		}
	}
}

// WithLogger attaches a logger for outcome summaries.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a restore service. The default backup policy aborts the
// restore when the backup cannot be written.
func NewService(store Store, backup Backupper, opts ...Option) *Service {
	s := &Service{
		store:  store,
		backup: backup,
		policy: domain.BackupRequire,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one restore run.
type Request struct {
	ProjectID   uuid.UUID
	VersionName string
	// ParameterNames selects which parameters to write back. Empty means
	// every parameter in the record's merged view.
	ParameterNames []string
	// Scope selects live updates, recreation of missing elements, or both.
	// Empty defaults to live updates only.
	Scope domain.RestoreScope
	// Targets are the live entities eligible for updates. Recreation works
	// from the full document, not from Targets, so an unselected live
	// element is never mistaken for a deleted one.
	Targets []domain.TrackedEntity
	// TrackIDs optionally narrows both updates and recreations to a set of
	// identifiers. Empty means no narrowing.
	TrackIDs     []string
	CreateBackup bool
}

// Restore runs one restore against doc. The returned outcome is only
// meaningful when err is nil; any error means the document is untouched.
func (s *Service) Restore(ctx context.Context, doc hostdoc.Document, req Request) (domain.RestoreOutcome, error) {
	var outcome domain.RestoreOutcome

	if doc == nil {
		return outcome, ErrDocumentRequired
	}
	if strings.TrimSpace(req.VersionName) == "" {
		return outcome, ErrVersionRequired
	}
	scope := req.Scope
	if scope == "" {
		scope = domain.ScopeExisting
	}

	// All store I/O completes before the document transaction opens.
	records, err := s.store.RecordsByVersion(ctx, req.ProjectID, req.VersionName)
	if err != nil {
		return outcome, fmt.Errorf("failed to fetch version %q: %w", req.VersionName, err)
	}
	recordIndex := domain.IndexRecordsByTrackID(records)

	selection := map[string]struct{}{}
	for _, id := range req.TrackIDs {
		if key := domain.NormalizeTrackID(id); key != "" {
			selection[key] = struct{}{}
		}
	}
	selected := func(key string) bool {
		if len(selection) == 0 {
			return true
		}
		_, ok := selection[key]
		return ok
	}

	if req.CreateBackup && len(req.Targets) > 0 {
		backupName := fmt.Sprintf("backup_%s_%s", req.VersionName, time.Now().Format("20060102_150405"))
		if err := s.backup.Backup(ctx, req.ProjectID, backupName, req.Targets); err != nil {
			if s.policy == domain.BackupRequire {
				return domain.RestoreOutcome{}, fmt.Errorf("backup before restore failed: %w", err)
			}
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("backup %q failed, restoring without one: %v", backupName, err))
		} else {
			outcome.BackupVersion = backupName
		}
	}

	run := &restoreRun{
		request:  req,
		scope:    scope,
		records:  recordIndex,
		selected: selected,
		outcome:  &outcome,
		progress: map[string]entityState{},
	}

	txName := fmt.Sprintf("Restore from %s", req.VersionName)
	if err := doc.WithTransaction(ctx, txName, run.apply); err != nil {
		return domain.RestoreOutcome{}, err
	}

	s.logger.Infow("restore completed",
		"version", req.VersionName,
		"updated", outcome.UpdatedCount,
		"created", outcome.CreatedCount,
		"skipped", len(outcome.Skipped),
		"soft_errors", len(outcome.Errors),
	)
	return outcome, nil
}

// entityState is the per-entity progress. Every entity makes exactly one
// transition out of pending; a second transition is a bug in the run logic
// and surfaces as a structural error.
type entityState string

const (
	stateSkipped   entityState = "skipped"
	stateUpdated   entityState = "updated"
	stateRecreated entityState = "recreated"
)

type restoreRun struct {
	request  Request
	scope    domain.RestoreScope
	records  map[string]domain.SnapshotRecord
	selected func(string) bool
	outcome  *domain.RestoreOutcome
	progress map[string]entityState
}

func (r *restoreRun) transition(key string, to entityState) error {
	if prior, done := r.progress[key]; done {
		return fmt.Errorf("entity %q already finished as %s", key, prior)
	}
	r.progress[key] = to
	return nil
}

func (r *restoreRun) apply(tx hostdoc.Transaction) error {
	if r.scope == domain.ScopeExisting || r.scope == domain.ScopeAll {
		if err := r.applyUpdates(tx); err != nil {
			return err
		}
	}
	if r.scope == domain.ScopeDeleted || r.scope == domain.ScopeAll {
		if err := r.applyRecreations(tx); err != nil {
			return err
		}
	}
	sort.Slice(r.outcome.Skipped, func(i, j int) bool {
		return r.outcome.Skipped[i].TrackID < r.outcome.Skipped[j].TrackID
	})
	sort.Slice(r.outcome.Errors, func(i, j int) bool {
		a, b := r.outcome.Errors[i], r.outcome.Errors[j]
		if a.TrackID != b.TrackID {
			return a.TrackID < b.TrackID
		}
		return a.Parameter < b.Parameter
	})
	return nil
}

func (r *restoreRun) applyUpdates(tx hostdoc.Transaction) error {
	// Deduplicate targets by identifier; the first occurrence wins, the
	// same rule the comparison applies.
	seen := map[string]struct{}{}
	targets := make([]domain.TrackedEntity, 0, len(r.request.Targets))
	for _, target := range r.request.Targets {
		key := domain.NormalizeTrackID(target.TrackID)
		if key == "" || !r.selected(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool {
		return domain.NormalizeTrackID(targets[i].TrackID) < domain.NormalizeTrackID(targets[j].TrackID)
	})

	for _, target := range targets {
		key := domain.NormalizeTrackID(target.TrackID)
		record, ok := r.records[key]
		if !ok {
			r.outcome.Skipped = append(r.outcome.Skipped, domain.SkippedEntity{
				TrackID: target.TrackID, Reason: "no matching snapshot record",
			})
			if err := r.transition(key, stateSkipped); err != nil {
				return err
			}
			continue
		}

		entity, err := tx.GetEntity(target.ElementID)
		if err != nil {
			if errors.Is(err, hostdoc.ErrEntityNotFound) {
				r.outcome.Skipped = append(r.outcome.Skipped, domain.SkippedEntity{
					TrackID: target.TrackID, Reason: "element no longer exists",
				})
				if err := r.transition(key, stateSkipped); err != nil {
					return err
				}
				continue
			}
			return err
		}

		applied, err := r.applyParameters(tx, entity, record)
		if err != nil {
			return err
		}
		flipped, err := r.alignOrientation(tx, entity, record)
		if err != nil {
			return err
		}

		if applied || flipped {
			r.outcome.UpdatedCount++
			if err := r.transition(key, stateUpdated); err != nil {
				return err
			}
		} else {
			r.outcome.Skipped = append(r.outcome.Skipped, domain.SkippedEntity{
				TrackID: target.TrackID, Reason: "no parameters applied",
			})
			if err := r.transition(key, stateSkipped); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *restoreRun) applyRecreations(tx hostdoc.Transaction) error {
	keys := make([]string, 0, len(r.records))
	for key := range r.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	live, err := tx.ListEntities("")
	if err != nil {
		return err
	}
	liveIndex := domain.IndexByTrackID(live)

	for _, key := range keys {
		if !r.selected(key) {
			continue
		}
		if _, exists := liveIndex[key]; exists {
			continue
		}
		if _, done := r.progress[key]; done {
			continue
		}
		record := r.records[key]
		if !record.Category.IsSpatial() {
			r.outcome.Skipped = append(r.outcome.Skipped, domain.SkippedEntity{
				TrackID: record.TrackID, Reason: "only spatial elements can be recreated",
			})
			if err := r.transition(key, stateSkipped); err != nil {
				return err
			}
			continue
		}

		created, err := tx.CreateEntity(hostdoc.CreateSpec{
			Category: record.Category,
			TypeID:   record.TypeID,
			Position: record.Position,
			Level:    record.Level,
		})
		if err != nil {
			return fmt.Errorf("failed to recreate %q: %w", record.TrackID, err)
		}
		// The identifier goes on first so every later write and every
		// index rebuild sees the element under its restored identity.
		if err := tx.SetTrackID(created.ElementID, record.TrackID); err != nil {
			return fmt.Errorf("failed to stamp identifier on recreated %q: %w", record.TrackID, err)
		}

		fresh, err := tx.GetEntity(created.ElementID)
		if err != nil {
			return fmt.Errorf("failed to read back recreated %q: %w", record.TrackID, err)
		}
		if _, err := r.applyParameters(tx, fresh, record); err != nil {
			return err
		}
		if !created.Placed {
			r.outcome.RecreatedUnplaced = append(r.outcome.RecreatedUnplaced, record.TrackID)
		}
		r.outcome.CreatedCount++
		if err := r.transition(key, stateRecreated); err != nil {
			return err
		}

		// Rebuild the identifier index from the document rather than
		// patching it, so the next iteration sees exactly what a fresh
		// scan would see.
		live, err = tx.ListEntities("")
		if err != nil {
			return err
		}
		liveIndex = domain.IndexByTrackID(live)
	}
	return nil
}

// applyParameters writes the selected parameters of record onto entity.
// It reports whether at least one value was written. Problems with a single
// parameter are collected on the outcome and never abort the run; only
// document-level failures propagate.
func (r *restoreRun) applyParameters(tx hostdoc.Transaction, entity domain.TrackedEntity, record domain.SnapshotRecord) (bool, error) {
	merged := record.MergedParameters()

	names := r.request.ParameterNames
	if len(names) == 0 {
		names = make([]string, 0, len(merged))
		for name := range merged {
			names = append(names, name)
		}
	}
	names = append([]string(nil), names...)
	sort.Strings(names)

	softErr := func(name, reason string) {
		r.outcome.Errors = append(r.outcome.Errors, domain.ParameterError{
			TrackID: record.TrackID, Parameter: name, Reason: reason,
		})
	}

	applied := false
	for _, name := range names {
		value, ok := merged[name]
		if !ok {
			softErr(name, "parameter missing from snapshot record")
			continue
		}
		if value.TypeLevel {
			softErr(name, "type-level values are not restorable")
			continue
		}

		live, ok := entity.Parameters[name]
		if !ok {
			softErr(name, "parameter not present on element")
			continue
		}
		if live.ReadOnly {
			softErr(name, "parameter is read-only")
			continue
		}
		if live.Value.Type != value.Type {
			softErr(name, fmt.Sprintf("storage type mismatch: element has %s, record has %s",
				live.Value.Type, value.Type))
			continue
		}

		toWrite := value
		if value.Type == domain.StorageReference {
			resolved, reason, ok := resolveReference(tx, value)
			if !ok {
				softErr(name, reason)
				continue
			}
			toWrite = resolved
		}

		if err := tx.SetParameter(entity.ElementID, name, toWrite); err != nil {
			if isSoftSetError(err) {
				softErr(name, err.Error())
				continue
			}
			return applied, err
		}
		applied = true
	}
	return applied, nil
}

// resolveReference turns a recorded reference into one valid for this
// document. Numeric ids from the record are never reused: they belong to
// the document the snapshot was taken from. The target is looked up by its
// recorded display name instead; an empty name clears the reference.
func resolveReference(tx hostdoc.Transaction, value domain.ParameterValue) (domain.ParameterValue, string, bool) {
	name := strings.TrimSpace(value.Display)
	if name == "" {
		if value.IsUnset() {
			return domain.NewUnsetReferenceValue(), "", true
		}
		return domain.ParameterValue{}, "reference has no name to resolve", false
	}
	id, err := tx.ResolveByName(name)
	if err != nil {
		return domain.ParameterValue{}, fmt.Sprintf("reference target %q not found", name), false
	}
	return domain.NewReferenceValue(id, name), "", true
}

// alignOrientation flips facing and hand independently whenever the live
// direction opposes the recorded one.
func (r *restoreRun) alignOrientation(tx hostdoc.Transaction, entity domain.TrackedEntity, record domain.SnapshotRecord) (bool, error) {
	flipped := false
	if record.Facing != nil && entity.Facing != nil && !record.Facing.IsZero() && !entity.Facing.IsZero() {
		if entity.Facing.Dot(*record.Facing) < 0 {
			if err := tx.FlipFacing(entity.ElementID); err != nil {
				if errors.Is(err, hostdoc.ErrNoOrientation) {
					r.outcome.Errors = append(r.outcome.Errors, domain.ParameterError{
						TrackID: record.TrackID, Parameter: "Facing", Reason: err.Error(),
					})
				} else {
					return flipped, err
				}
			} else {
				flipped = true
			}
		}
	}
	if record.Hand != nil && entity.Hand != nil && !record.Hand.IsZero() && !entity.Hand.IsZero() {
		if entity.Hand.Dot(*record.Hand) < 0 {
			if err := tx.FlipHand(entity.ElementID); err != nil {
				if errors.Is(err, hostdoc.ErrNoOrientation) {
					r.outcome.Errors = append(r.outcome.Errors, domain.ParameterError{
						TrackID: record.TrackID, Parameter: "Hand", Reason: err.Error(),
					})
				} else {
					return flipped, err
				}
			} else {
				flipped = true
			}
		}
	}
	return flipped, nil
}

func isSoftSetError(err error) bool {
	return errors.Is(err, hostdoc.ErrParameterNotFound) ||
		errors.Is(err, hostdoc.ErrParameterReadOnly) ||
		errors.Is(err, hostdoc.ErrStorageTypeMismatch)
}
