package restore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/engsnap/internal/domain"
	"github.com/rpattn/engsnap/internal/hostdoc"
)

type fakeStore struct {
	records map[string][]domain.SnapshotRecord
	err     error
}

func (f *fakeStore) RecordsByVersion(ctx context.Context, projectID uuid.UUID, versionName string) ([]domain.SnapshotRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[versionName], nil
}

type fakeBackup struct {
	err      error
	name     string
	entities []domain.TrackedEntity
	calls    int
}

func (f *fakeBackup) Backup(ctx context.Context, projectID uuid.UUID, versionName string, entities []domain.TrackedEntity) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.name = versionName
	f.entities = entities
	return nil
}

func seedRoom(t *testing.T, doc *hostdoc.MemDocument, trackID, comments string) domain.TrackedEntity {
	t.Helper()
	levelID := doc.RegisterNamedElement("Level 1")
	return doc.AddEntity(domain.TrackedEntity{
		TrackID:  trackID,
		Category: domain.CategoryRoom,
		Placed:   true,
		Position: &domain.Point3D{X: 1, Y: 2},
		Parameters: map[string]domain.Parameter{
			domain.ParamName:   {Value: domain.NewStringValue("Office", "Office")},
			domain.ParamNumber: {Value: domain.NewStringValue("101", "101")},
			domain.ParamLevel:  {Value: domain.NewReferenceValue(levelID, "Level 1")},
			"Comments":         {Value: domain.NewStringValue(comments, comments)},
			domain.ParamArea:   {Value: domain.NewDoubleValue(25, "25 m²"), ReadOnly: true},
		},
	})
}

func roomRecord(trackID, version, comments string) domain.SnapshotRecord {
	return domain.SnapshotRecord{
		ID:          uuid.New(),
		TrackID:     trackID,
		VersionName: version,
		Category:    domain.CategoryRoom,
		Placed:      true,
		Position:    &domain.Point3D{X: 1, Y: 2},
		Number:      "101",
		Name:        "Office",
		Level:       "Level 1",
		Parameters: map[string]domain.ParameterValue{
			"Comments": domain.NewStringValue(comments, comments),
		},
	}
}

func TestRestoreWritesSnapshotValueBack(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "new")
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{
		"baseline": {roomRecord("ROOM-0001", "baseline", "old")},
	}}
	backup := &fakeBackup{}
	svc := NewService(store, backup)

	outcome, err := svc.Restore(context.Background(), doc, Request{
		ProjectID:      uuid.New(),
		VersionName:    "baseline",
		ParameterNames: []string{"Comments"},
		Scope:          domain.ScopeExisting,
		Targets:        []domain.TrackedEntity{room},
		CreateBackup:   true,
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if outcome.UpdatedCount != 1 || len(outcome.Errors) != 0 {
		t.Fatalf("expected one clean update, got %+v", outcome)
	}
	if !strings.HasPrefix(outcome.BackupVersion, "backup_baseline_") {
		t.Fatalf("expected an auto-named backup version, got %q", outcome.BackupVersion)
	}

	got, err := doc.GetEntity(context.Background(), room.ElementID)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if got.Parameters["Comments"].Value.Text != "old" {
		t.Fatalf("expected snapshot value written back, got %q", got.Parameters["Comments"].Value.Text)
	}

	// The backup captured the pre-restore state.
	if backup.calls != 1 || len(backup.entities) != 1 {
		t.Fatalf("expected one backup call with one entity, got %+v", backup)
	}
	if backup.entities[0].Parameters["Comments"].Value.Text != "new" {
		t.Fatal("backup should carry the value as it was before the restore")
	}
	if backup.name != outcome.BackupVersion {
		t.Fatalf("backup name mismatch: %q vs %q", backup.name, outcome.BackupVersion)
	}
}

func TestRestoreRecreatesDeletedEntity(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	doc.RegisterNamedElement("Level 1")
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{
		"baseline": {roomRecord("ROOM-0002", "baseline", "")},
	}}
	svc := NewService(store, &fakeBackup{})

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{domain.ParamName, domain.ParamNumber, domain.ParamLevel},
		Scope:          domain.ScopeDeleted,
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if outcome.CreatedCount != 1 || outcome.UpdatedCount != 0 {
		t.Fatalf("expected exactly one recreation, got %+v", outcome)
	}
	if len(outcome.RecreatedUnplaced) != 0 {
		t.Fatalf("position and level were valid, nothing should be unplaced: %+v", outcome)
	}

	entities, err := doc.ListEntities(context.Background(), domain.CategoryRoom)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected the room recreated, got %d entities", len(entities))
	}
	got := entities[0]
	if got.TrackID != "ROOM-0002" {
		t.Fatalf("identifier should be stamped on the recreated element, got %q", got.TrackID)
	}
	if !got.Placed || got.Position == nil || got.Position.X != 1 {
		t.Fatalf("expected placement at the recorded position, got %+v", got)
	}
	if got.Parameters[domain.ParamName].Value.Text != "Office" {
		t.Fatalf("expected recorded name applied, got %+v", got.Parameters[domain.ParamName].Value)
	}
	if got.Parameters[domain.ParamLevel].Value.Reference == nil {
		t.Fatal("level reference should be resolved against this document")
	}
}

func TestRestoreRecreationWithoutPositionIsReportedUnplaced(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	record := roomRecord("ROOM-0003", "baseline", "")
	record.Position = nil
	record.Placed = false
	record.Level = ""
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{"baseline": {record}}}
	svc := NewService(store, &fakeBackup{})

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{domain.ParamName},
		Scope:          domain.ScopeDeleted,
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if outcome.CreatedCount != 1 {
		t.Fatalf("expected the entity recreated, got %+v", outcome)
	}
	if len(outcome.RecreatedUnplaced) != 1 || outcome.RecreatedUnplaced[0] != "ROOM-0003" {
		t.Fatalf("missing position must be surfaced, got %+v", outcome.RecreatedUnplaced)
	}
}

func TestRestoreSoftErrorsDoNotAbort(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "new")
	record := roomRecord("ROOM-0001", "baseline", "old")
	record.Parameters["Ghost"] = domain.NewStringValue("boo", "boo")
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{
		"baseline": {record},
	}}
	svc := NewService(store, &fakeBackup{})

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{domain.ParamArea, "Comments", "Ghost"},
		Scope:          domain.ScopeExisting,
		Targets:        []domain.TrackedEntity{room},
	})
	if err != nil {
		t.Fatalf("soft failures must not abort the restore: %v", err)
	}
	if outcome.UpdatedCount != 1 {
		t.Fatalf("the writable parameter should still be applied, got %+v", outcome)
	}
	if len(outcome.Errors) != 2 {
		t.Fatalf("expected two collected parameter errors, got %+v", outcome.Errors)
	}
	if outcome.Errors[0].Parameter != domain.ParamArea || !strings.Contains(outcome.Errors[0].Reason, "read-only") {
		t.Fatalf("expected a read-only error for Area, got %+v", outcome.Errors[0])
	}
	if outcome.Errors[1].Parameter != "Ghost" {
		t.Fatalf("expected an error for the vanished parameter, got %+v", outcome.Errors[1])
	}

	got, _ := doc.GetEntity(context.Background(), room.ElementID)
	if got.Parameters["Comments"].Value.Text != "old" {
		t.Fatal("the healthy parameter should be written despite sibling failures")
	}
}

type faultyTx struct {
	hostdoc.Transaction
	failOn string
}

func (f faultyTx) SetParameter(elementID int64, name string, value domain.ParameterValue) error {
	if name == f.failOn {
		return errors.New("document fault")
	}
	return f.Transaction.SetParameter(elementID, name, value)
}

type faultyDoc struct {
	*hostdoc.MemDocument
	failOn string
}

func (f faultyDoc) WithTransaction(ctx context.Context, name string, fn func(hostdoc.Transaction) error) error {
	return f.MemDocument.WithTransaction(ctx, name, func(tx hostdoc.Transaction) error {
		return fn(faultyTx{Transaction: tx, failOn: f.failOn})
	})
}

func TestRestoreStructuralErrorRollsBackEverything(t *testing.T) {
	mem := hostdoc.NewMemDocument()
	first := seedRoom(t, mem, "ROOM-0001", "new")
	second := seedRoom(t, mem, "ROOM-0002", "new")
	recordA := roomRecord("ROOM-0001", "baseline", "old")
	recordB := roomRecord("ROOM-0002", "baseline", "old")
	recordB.Name = "Changed"
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{
		"baseline": {recordA, recordB},
	}}
	svc := NewService(store, &fakeBackup{})

	// Every Name write hits a document fault, which is not a per-parameter
	// problem: the whole restore must roll back, including the Comments
	// write that already succeeded.
	doc := faultyDoc{MemDocument: mem, failOn: domain.ParamName}

	_, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{"Comments", domain.ParamName},
		Scope:          domain.ScopeExisting,
		Targets:        []domain.TrackedEntity{first, second},
	})
	if err == nil {
		t.Fatal("a document fault must fail the restore")
	}

	got, _ := mem.GetEntity(context.Background(), first.ElementID)
	if got.Parameters["Comments"].Value.Text != "new" {
		t.Fatal("writes before the fault must be rolled back")
	}
	got, _ = mem.GetEntity(context.Background(), second.ElementID)
	if got.Parameters["Comments"].Value.Text != "new" {
		t.Fatal("no partial state may survive a structural failure")
	}
}

func TestRestoreBackupPolicyRequireAborts(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "new")
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{
		"baseline": {roomRecord("ROOM-0001", "baseline", "old")},
	}}
	svc := NewService(store, &fakeBackup{err: errors.New("store offline")})

	_, err := svc.Restore(context.Background(), doc, Request{
		VersionName:  "baseline",
		Scope:        domain.ScopeExisting,
		Targets:      []domain.TrackedEntity{room},
		CreateBackup: true,
	})
	if err == nil || !strings.Contains(err.Error(), "backup before restore failed") {
		t.Fatalf("expected the restore aborted by the failed backup, got %v", err)
	}

	got, _ := doc.GetEntity(context.Background(), room.ElementID)
	if got.Parameters["Comments"].Value.Text != "new" {
		t.Fatal("nothing may be written when the backup aborts the restore")
	}
}

func TestRestoreBackupPolicyWarnProceeds(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "new")
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{
		"baseline": {roomRecord("ROOM-0001", "baseline", "old")},
	}}
	svc := NewService(store, &fakeBackup{err: errors.New("store offline")},
		WithBackupPolicy(domain.BackupWarn))

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{"Comments"},
		Scope:          domain.ScopeExisting,
		Targets:        []domain.TrackedEntity{room},
		CreateBackup:   true,
	})
	if err != nil {
		t.Fatalf("warn policy should proceed: %v", err)
	}
	if len(outcome.Warnings) != 1 || outcome.BackupVersion != "" {
		t.Fatalf("expected a warning and no backup version, got %+v", outcome)
	}
	if outcome.UpdatedCount != 1 {
		t.Fatalf("restore should still run under the warn policy, got %+v", outcome)
	}
}

func TestRestoreResolvesReferencesByName(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "x")
	levelTwo := doc.RegisterNamedElement("Level 2")

	record := roomRecord("ROOM-0001", "baseline", "x")
	record.Level = "Level 2"
	// A stale numeric id from the source document must never be written.
	record.Parameters[domain.ParamLevel] = domain.NewReferenceValue(99999, "Level 2")
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{"baseline": {record}}}
	svc := NewService(store, &fakeBackup{})

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{domain.ParamLevel},
		Scope:          domain.ScopeExisting,
		Targets:        []domain.TrackedEntity{room},
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if outcome.UpdatedCount != 1 || len(outcome.Errors) != 0 {
		t.Fatalf("expected a clean reference restore, got %+v", outcome)
	}

	got, _ := doc.GetEntity(context.Background(), room.ElementID)
	ref := got.Parameters[domain.ParamLevel].Value.Reference
	if ref == nil || *ref != levelTwo {
		t.Fatalf("reference must be re-resolved in this document, got %v (want %d)", ref, levelTwo)
	}
}

func TestRestoreUnresolvableReferenceIsSoftError(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "x")
	record := roomRecord("ROOM-0001", "baseline", "x")
	record.Level = "Level 99"
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{"baseline": {record}}}
	svc := NewService(store, &fakeBackup{})

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{domain.ParamLevel},
		Scope:          domain.ScopeExisting,
		Targets:        []domain.TrackedEntity{room},
	})
	if err != nil {
		t.Fatalf("an unresolvable reference is a soft error: %v", err)
	}
	if len(outcome.Errors) != 1 || !strings.Contains(outcome.Errors[0].Reason, "Level 99") {
		t.Fatalf("expected a collected reference error, got %+v", outcome.Errors)
	}

	got, _ := doc.GetEntity(context.Background(), room.ElementID)
	if got.Parameters[domain.ParamLevel].Value.Display != "Level 1" {
		t.Fatal("the live reference must be left untouched")
	}
}

func TestRestoreClearsValueFromEmptyIndexedField(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "x")
	record := roomRecord("ROOM-0001", "baseline", "x")
	record.Number = ""
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{"baseline": {record}}}
	svc := NewService(store, &fakeBackup{})

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{domain.ParamNumber},
		Scope:          domain.ScopeExisting,
		Targets:        []domain.TrackedEntity{room},
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if outcome.UpdatedCount != 1 {
		t.Fatalf("clearing counts as an update, got %+v", outcome)
	}

	got, _ := doc.GetEntity(context.Background(), room.ElementID)
	if got.Parameters[domain.ParamNumber].Value.Text != "" {
		t.Fatalf("an empty recorded field must clear the live value, got %q",
			got.Parameters[domain.ParamNumber].Value.Text)
	}
}

func TestRestoreFlipsOrientationIndependently(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	opening := doc.AddEntity(domain.TrackedEntity{
		TrackID:  "DOOR-0001",
		Category: domain.CategoryOpening,
		Placed:   true,
		Facing:   &domain.Vector3D{X: 1},
		Hand:     &domain.Vector3D{Y: 1},
		Parameters: map[string]domain.Parameter{
			domain.ParamName:   {Value: domain.NewStringValue("Door", "Door")},
			domain.ParamNumber: {Value: domain.NewStringValue("D1", "D1")},
			domain.ParamLevel:  {Value: domain.NewUnsetReferenceValue()},
		},
	})
	record := domain.SnapshotRecord{
		TrackID:     "DOOR-0001",
		VersionName: "baseline",
		Category:    domain.CategoryOpening,
		Placed:      true,
		Name:        "Door",
		Number:      "D1",
		Facing:      &domain.Vector3D{X: -1},
		Hand:        &domain.Vector3D{Y: 1},
	}
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{"baseline": {record}}}
	svc := NewService(store, &fakeBackup{})

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName:    "baseline",
		ParameterNames: []string{domain.ParamName},
		Scope:          domain.ScopeExisting,
		Targets:        []domain.TrackedEntity{opening},
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if outcome.UpdatedCount != 1 {
		t.Fatalf("expected the opening updated, got %+v", outcome)
	}

	got, _ := doc.GetEntity(context.Background(), opening.ElementID)
	if got.Facing.X != -1 {
		t.Fatalf("facing should be flipped to match the record, got %+v", got.Facing)
	}
	if got.Hand.Y != 1 {
		t.Fatalf("hand agrees with the record and must not flip, got %+v", got.Hand)
	}
}

func TestRestoreSkipsTargetWithoutRecord(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0009", "x")
	store := &fakeStore{records: map[string][]domain.SnapshotRecord{
		"baseline": {roomRecord("ROOM-0001", "baseline", "x")},
	}}
	svc := NewService(store, &fakeBackup{})

	outcome, err := svc.Restore(context.Background(), doc, Request{
		VersionName: "baseline",
		Scope:       domain.ScopeExisting,
		Targets:     []domain.TrackedEntity{room},
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if outcome.UpdatedCount != 0 || len(outcome.Skipped) != 1 {
		t.Fatalf("expected the target skipped, got %+v", outcome)
	}
	if outcome.Skipped[0].Reason != "no matching snapshot record" {
		t.Fatalf("unexpected skip reason %q", outcome.Skipped[0].Reason)
	}
}

func TestRestoreValidatesRequest(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeBackup{})

	if _, err := svc.Restore(context.Background(), nil, Request{VersionName: "v"}); !errors.Is(err, ErrDocumentRequired) {
		t.Fatalf("expected ErrDocumentRequired, got %v", err)
	}
	if _, err := svc.Restore(context.Background(), hostdoc.NewMemDocument(), Request{}); !errors.Is(err, ErrVersionRequired) {
		t.Fatalf("expected ErrVersionRequired, got %v", err)
	}
}

func TestRestoreStoreFailureHappensBeforeAnyMutation(t *testing.T) {
	doc := hostdoc.NewMemDocument()
	room := seedRoom(t, doc, "ROOM-0001", "new")
	backup := &fakeBackup{}
	svc := NewService(&fakeStore{err: errors.New("store unreachable")}, backup)

	_, err := svc.Restore(context.Background(), doc, Request{
		VersionName:  "baseline",
		Scope:        domain.ScopeExisting,
		Targets:      []domain.TrackedEntity{room},
		CreateBackup: true,
	})
	if err == nil {
		t.Fatal("a store failure must fail the restore")
	}
	if backup.calls != 0 {
		t.Fatal("no backup should be attempted when the version cannot be fetched")
	}

	got, _ := doc.GetEntity(context.Background(), room.ElementID)
	if got.Parameters["Comments"].Value.Text != "new" {
		t.Fatal("the document must be untouched")
	}
}
