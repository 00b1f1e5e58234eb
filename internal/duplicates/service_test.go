package duplicates

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/engsnap/internal/domain"
)

type fakeRecordSource struct {
	mu      sync.Mutex
	records map[string]domain.SnapshotRecord
	failFor map[string]error
}

func (f *fakeRecordSource) LatestByTrackID(ctx context.Context, projectID uuid.UUID, trackID string) (domain.SnapshotRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.NormalizeTrackID(trackID)
	if err, ok := f.failFor[key]; ok {
		return domain.SnapshotRecord{}, err
	}
	if record, ok := f.records[key]; ok {
		return record, nil
	}
	return domain.SnapshotRecord{}, ErrNoRecord
}

func member(elementID int64, trackID, number, name string) domain.TrackedEntity {
	return domain.TrackedEntity{
		ElementID: elementID,
		TrackID:   trackID,
		Category:  domain.CategoryRoom,
		Placed:    true,
		Parameters: map[string]domain.Parameter{
			domain.ParamNumber: {Value: domain.NewStringValue(number, number)},
			domain.ParamName:   {Value: domain.NewStringValue(name, name)},
		},
	}
}

func TestDetectPicksCanonicalByNumberMatch(t *testing.T) {
	source := &fakeRecordSource{records: map[string]domain.SnapshotRecord{
		"room-0001": {TrackID: "ROOM-0001", Number: "102", Name: "Office"},
	}}
	svc := NewService(source)

	groups, err := svc.Detect(context.Background(), uuid.New(), []domain.TrackedEntity{
		member(11, "ROOM-0001", "101", "Office"),
		member(12, "ROOM-0001", "102", "Copy of Office"),
	})
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %+v", groups)
	}
	group := groups[0]
	if group.CanonicalElementID != 12 || group.Rationale != domain.RationaleNumberMatch {
		t.Fatalf("expected element 12 canonical by number, got %+v", group)
	}
	for _, m := range group.Members {
		if m.ElementID == 12 && m.Action != domain.ActionKeep {
			t.Fatalf("canonical member should keep its identifier: %+v", m)
		}
		if m.ElementID != 12 && (m.Action != domain.ActionRegenerate || m.NewTrackID == "") {
			t.Fatalf("non-canonical member should get a fresh identifier: %+v", m)
		}
	}
}

func TestDetectFallsBackToLocalizedNameField(t *testing.T) {
	record := domain.SnapshotRecord{
		TrackID: "ROOM-0001",
		Parameters: map[string]domain.ParameterValue{
			"Raumname": domain.NewStringValue("Büro", "Büro"),
		},
	}
	source := &fakeRecordSource{records: map[string]domain.SnapshotRecord{"room-0001": record}}
	svc := NewService(source)

	a := member(21, "ROOM-0001", "", "")
	a.Parameters["Raumname"] = domain.Parameter{Value: domain.NewStringValue("Büro", "Büro")}
	b := member(22, "ROOM-0001", "", "")
	b.Parameters["Raumname"] = domain.Parameter{Value: domain.NewStringValue("Lager", "Lager")}

	groups, err := svc.Detect(context.Background(), uuid.New(), []domain.TrackedEntity{a, b})
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if groups[0].CanonicalElementID != 21 || groups[0].Rationale != domain.RationaleNameMatch {
		t.Fatalf("expected element 21 canonical by localized name, got %+v", groups[0])
	}
}

func TestDetectOrdinalFallbackWithoutRecord(t *testing.T) {
	svc := NewService(&fakeRecordSource{})

	groups, err := svc.Detect(context.Background(), uuid.New(), []domain.TrackedEntity{
		member(35, "ROOM-0001", "101", "Office"),
		member(31, "ROOM-0001", "102", "Office"),
	})
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	group := groups[0]
	if group.CanonicalElementID != 31 || group.Rationale != domain.RationaleOrdinalFallback {
		t.Fatalf("expected lowest element id canonical, got %+v", group)
	}
	if group.Members[0].ElementID != 31 {
		t.Fatalf("members should be ordered by element id, got %+v", group.Members)
	}
}

func TestDetectIsolatesLookupFailuresPerGroup(t *testing.T) {
	source := &fakeRecordSource{
		records: map[string]domain.SnapshotRecord{
			"room-0002": {TrackID: "ROOM-0002", Number: "202"},
		},
		failFor: map[string]error{
			"room-0001": errors.New("store unreachable"),
		},
	}
	svc := NewService(source)

	groups, err := svc.Detect(context.Background(), uuid.New(), []domain.TrackedEntity{
		member(41, "ROOM-0001", "101", "A"),
		member(42, "ROOM-0001", "102", "B"),
		member(43, "ROOM-0002", "201", "C"),
		member(44, "ROOM-0002", "202", "D"),
	})
	if err != nil {
		t.Fatalf("one failed lookup must not fail the scan: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected both groups resolved, got %+v", groups)
	}
	if groups[0].Rationale != domain.RationaleOrdinalFallback {
		t.Fatalf("failed lookup should downgrade to ordinal pick, got %+v", groups[0])
	}
	if groups[1].CanonicalElementID != 44 || groups[1].Rationale != domain.RationaleNumberMatch {
		t.Fatalf("healthy group should still resolve by number, got %+v", groups[1])
	}
}

func TestDetectAmbiguousMatchFallsThrough(t *testing.T) {
	// Both members carry the recorded number, so the number rule cannot
	// decide and the name rule takes over.
	source := &fakeRecordSource{records: map[string]domain.SnapshotRecord{
		"room-0001": {TrackID: "ROOM-0001", Number: "101", Name: "Office"},
	}}
	svc := NewService(source)

	groups, err := svc.Detect(context.Background(), uuid.New(), []domain.TrackedEntity{
		member(51, "ROOM-0001", "101", "Storage"),
		member(52, "ROOM-0001", "101", "Office"),
	})
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if groups[0].CanonicalElementID != 52 || groups[0].Rationale != domain.RationaleNameMatch {
		t.Fatalf("expected name rule to break the tie, got %+v", groups[0])
	}
}

func TestDetectRegeneratedIdentifiersAreUniqueAndContinue(t *testing.T) {
	svc := NewService(&fakeRecordSource{})

	entities := []domain.TrackedEntity{
		member(61, "ROOM-0001", "101", "A"),
		member(62, "ROOM-0001", "102", "B"),
		member(63, "ROOM-0001", "103", "C"),
		member(64, "ROOM-0007", "107", "D"),
	}
	groups, err := svc.Detect(context.Background(), uuid.New(), entities)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	group := groups[0]

	var fresh []string
	for _, m := range group.Members {
		if m.Action == domain.ActionRegenerate {
			fresh = append(fresh, m.NewTrackID)
		}
	}
	want := []string{"ROOM-0008", "ROOM-0009"}
	if !reflect.DeepEqual(fresh, want) {
		t.Fatalf("expected identifiers to continue past the highest in use, got %v", fresh)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	svc := NewService(&fakeRecordSource{})
	entities := []domain.TrackedEntity{
		member(71, "ROOM-0002", "", ""),
		member(72, "ROOM-0002", "", ""),
		member(73, "ROOM-0001", "", ""),
		member(74, "ROOM-0001", "", ""),
	}

	first, err := svc.Detect(context.Background(), uuid.New(), entities)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	second, err := svc.Detect(context.Background(), uuid.New(), entities)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same input should resolve identically:\n%+v\n%+v", first, second)
	}
	if first[0].TrackID != "ROOM-0001" {
		t.Fatalf("groups should be ordered by identifier, got %+v", first)
	}
}

func TestDetectNoDuplicates(t *testing.T) {
	svc := NewService(&fakeRecordSource{})
	groups, err := svc.Detect(context.Background(), uuid.New(), []domain.TrackedEntity{
		member(81, "ROOM-0001", "101", "A"),
		member(82, "ROOM-0002", "102", "B"),
		{ElementID: 83, TrackID: "", Category: domain.CategoryRoom},
	})
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %+v", groups)
	}
}

func TestNextTrackIDSkipsHolesAndCollisions(t *testing.T) {
	existing := map[string]struct{}{
		"room-0001": {},
		"room-0005": {},
	}
	if got := NextTrackID(existing, "ROOM"); got != "ROOM-0006" {
		t.Fatalf("holes must not be reused, got %s", got)
	}

	existing["room-0006"] = struct{}{}
	existing["room-0007"] = struct{}{}
	if got := NextTrackID(existing, "ROOM"); got != "ROOM-0008" {
		t.Fatalf("collisions should be stepped over, got %s", got)
	}
}

func TestNextTrackIDZeroPadsAndGrows(t *testing.T) {
	if got := NextTrackID(map[string]struct{}{"open-0002": {}}, "OPEN"); got != "OPEN-0003" {
		t.Fatalf("expected four-digit padding, got %s", got)
	}
	if got := NextTrackID(map[string]struct{}{"open-10000": {}}, "OPEN"); got != "OPEN-10001" {
		t.Fatalf("suffixes beyond four digits should keep growing, got %s", got)
	}
}
