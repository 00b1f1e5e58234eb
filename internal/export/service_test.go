package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/engsnap/internal/domain"
)

func sampleItems() []domain.ComparisonItem {
	return []domain.ComparisonItem{
		{
			TrackID:  "ROOM-0001",
			Category: domain.CategoryRoom,
			Status:   domain.StatusModified,
			Changes: []domain.ParameterChange{
				{
					Name:     "Comments",
					Current:  domain.NewStringValue("new", "new"),
					Snapshot: domain.NewStringValue("old", "old"),
				},
			},
			MissingParameters: []string{"Occupancy"},
		},
		{TrackID: "ROOM-0002", Category: domain.CategoryRoom, Status: domain.StatusDeleted},
	}
}

func TestWriteComparisonCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := NewService().WriteComparison(&buf, FormatCSV, sampleItems()); err != nil {
		t.Fatalf("WriteComparison: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "Track ID" || rows[0][3] != "Parameter" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	change := rows[1]
	if change[0] != "ROOM-0001" || change[2] != "MODIFIED" || change[3] != "Comments" {
		t.Fatalf("unexpected change row: %v", change)
	}
	if change[4] != "new" || change[5] != "old" {
		t.Fatalf("values wrong: current=%q snapshot=%q", change[4], change[5])
	}
	if change[7] != "Occupancy" {
		t.Fatalf("missing parameters column = %q", change[7])
	}
	deleted := rows[2]
	if deleted[0] != "ROOM-0002" || deleted[2] != "DELETED" || deleted[3] != "" {
		t.Fatalf("unexpected deleted row: %v", deleted)
	}
}

func TestWriteComparisonXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := NewService().WriteComparison(&buf, FormatXLSX, sampleItems()); err != nil {
		t.Fatalf("WriteComparison: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Comparison")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[1][0] != "ROOM-0001" || rows[1][3] != "Comments" {
		t.Fatalf("unexpected row: %v", rows[1])
	}
}

func TestWriteOutcomeCSV(t *testing.T) {
	outcome := domain.RestoreOutcome{
		UpdatedCount:  3,
		CreatedCount:  1,
		BackupVersion: "backup_v1_20240301_120000",
		Skipped: []domain.SkippedEntity{
			{TrackID: "ROOM-0009", Reason: "no matching snapshot record"},
		},
		Errors: []domain.ParameterError{
			{TrackID: "ROOM-0001", Parameter: "Area", Reason: "parameter is read-only"},
		},
		RecreatedUnplaced: []string{"ROOM-0002"},
		Warnings:          []string{"backup was slow"},
	}

	var buf bytes.Buffer
	if err := NewService().WriteOutcome(&buf, FormatCSV, outcome); err != nil {
		t.Fatalf("WriteOutcome: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	// header + skipped + error + recreated + warning + summary
	if len(rows) != 6 {
		t.Fatalf("rows = %d, want 6", len(rows))
	}
	last := rows[len(rows)-1]
	if last[1] != "SUMMARY" || !strings.Contains(last[3], "updated=3 created=1") {
		t.Fatalf("unexpected summary: %v", last)
	}
	if !strings.Contains(last[3], "backup_v1_20240301_120000") {
		t.Fatalf("backup version missing from summary: %v", last)
	}
}

func TestWriteDuplicatesCSV(t *testing.T) {
	groups := []domain.DuplicateGroup{
		{
			TrackID:            "ROOM-0001",
			CanonicalElementID: 11,
			Rationale:          domain.RationaleNumberMatch,
			Members: []domain.DuplicateMember{
				{ElementID: 11, Name: "Office", Number: "101", Action: domain.ActionKeep},
				{ElementID: 12, Name: "Office copy", Number: "", Action: domain.ActionRegenerate, NewTrackID: "ROOM-0002"},
			},
		},
	}

	var buf bytes.Buffer
	if err := NewService().WriteDuplicates(&buf, FormatCSV, groups); err != nil {
		t.Fatalf("WriteDuplicates: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[1][4] != "KEEP" || rows[2][4] != "REGENERATE" || rows[2][5] != "ROOM-0002" {
		t.Fatalf("unexpected member rows: %v / %v", rows[1], rows[2])
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{
		"":      FormatCSV,
		"csv":   FormatCSV,
		"XLSX":  FormatXLSX,
		"excel": FormatXLSX,
	} {
		got, err := ParseFormat(input)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFileNameSanitizes(t *testing.T) {
	name := FileName("comparison", "v1 / draft", FormatXLSX)
	if !strings.HasPrefix(name, "comparison-v1---draft-") {
		t.Fatalf("unexpected file name %q", name)
	}
	if !strings.HasSuffix(name, ".xlsx") {
		t.Fatalf("unexpected extension on %q", name)
	}
}
