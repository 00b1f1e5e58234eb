// Package export renders comparison results, restore outcomes, and
// duplicate scans as downloadable CSV or XLSX reports.
package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rpattn/engsnap/internal/domain"
)

// Format selects the output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat normalizes a requested format; empty defaults to CSV.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported format %q", value)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Service writes reports. Reports are bounded by live model size, so they
// stream synchronously rather than going through a job queue.
type Service struct {
	logger *zap.SugaredLogger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates an export service.
func NewService(opts ...Option) *Service {
	s := &Service{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// report is one flat table ready for either writer.
type report struct {
	sheet  string
	header []string
	rows   [][]string
}

// WriteComparison renders comparison items, one row per parameter change.
// Items without changes (New, Deleted, Unplaced without diffs) still get a
// summary row so every classified identifier appears in the file.
func (s *Service) WriteComparison(w io.Writer, format Format, items []domain.ComparisonItem) error {
	rep := report{
		sheet:  "Comparison",
		header: []string{"Track ID", "Category", "Status", "Parameter", "Current", "Snapshot", "Read Only", "Missing Parameters"},
	}
	for _, item := range items {
		missing := strings.Join(item.MissingParameters, "; ")
		if len(item.Changes) == 0 {
			rep.rows = append(rep.rows, []string{
				item.TrackID, string(item.Category), string(item.Status),
				"", "", "", "", missing,
			})
			continue
		}
		for i, change := range item.Changes {
			// Missing parameters render once per item.
			rowMissing := ""
			if i == 0 {
				rowMissing = missing
			}
			rep.rows = append(rep.rows, []string{
				item.TrackID, string(item.Category), string(item.Status),
				change.Name,
				valueText(change.Current),
				valueText(change.Snapshot),
				strconv.FormatBool(change.ReadOnly),
				rowMissing,
			})
		}
	}
	return s.write(w, format, rep)
}

// WriteOutcome renders one restore outcome: per-entity results first, then
// warnings and the aggregate summary.
func (s *Service) WriteOutcome(w io.Writer, format Format, outcome domain.RestoreOutcome) error {
	rep := report{
		sheet:  "Restore Outcome",
		header: []string{"Track ID", "Result", "Parameter", "Detail"},
	}
	for _, skipped := range outcome.Skipped {
		rep.rows = append(rep.rows, []string{skipped.TrackID, "SKIPPED", "", skipped.Reason})
	}
	for _, perr := range outcome.Errors {
		rep.rows = append(rep.rows, []string{perr.TrackID, "PARAMETER ERROR", perr.Parameter, perr.Reason})
	}
	for _, trackID := range outcome.RecreatedUnplaced {
		rep.rows = append(rep.rows, []string{trackID, "RECREATED UNPLACED", "", "recorded position could not be re-established"})
	}
	for _, warning := range outcome.Warnings {
		rep.rows = append(rep.rows, []string{"", "WARNING", "", warning})
	}
	summary := fmt.Sprintf("updated=%d created=%d", outcome.UpdatedCount, outcome.CreatedCount)
	if outcome.BackupVersion != "" {
		summary += " backup=" + outcome.BackupVersion
	}
	rep.rows = append(rep.rows, []string{"", "SUMMARY", "", summary})
	return s.write(w, format, rep)
}

// WriteDuplicates renders duplicate groups, one row per member.
func (s *Service) WriteDuplicates(w io.Writer, format Format, groups []domain.DuplicateGroup) error {
	rep := report{
		sheet:  "Duplicates",
		header: []string{"Track ID", "Element ID", "Name", "Number", "Action", "New Track ID", "Rationale"},
	}
	for _, group := range groups {
		for _, member := range group.Members {
			rep.rows = append(rep.rows, []string{
				group.TrackID,
				strconv.FormatInt(member.ElementID, 10),
				member.Name,
				member.Number,
				string(member.Action),
				member.NewTrackID,
				group.Rationale,
			})
		}
	}
	return s.write(w, format, rep)
}

func (s *Service) write(w io.Writer, format Format, rep report) error {
	var err error
	switch format {
	case FormatXLSX:
		err = writeXLSX(w, rep)
	default:
		err = writeCSV(w, rep)
	}
	if err != nil {
		return err
	}
	s.logger.Debugw("report written", "sheet", rep.sheet, "format", format, "rows", len(rep.rows))
	return nil
}

func writeCSV(w io.Writer, rep report) error {
	buffered := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(buffered)

	if err := csvWriter.Write(rep.header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rep.rows {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("flush buffered rows: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, rep report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const defaultSheet = "Sheet1"
	if rep.sheet != defaultSheet {
		f.SetSheetName(defaultSheet, rep.sheet)
	}

	if err := setRow(f, rep.sheet, 1, rep.header); err != nil {
		return err
	}
	for i, row := range rep.rows {
		if err := setRow(f, rep.sheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	cells := make([]any, len(values))
	for i, value := range values {
		cells[i] = value
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

// valueText renders a parameter value for a report cell: the display text
// when the capture recorded one, otherwise the locale-independent raw form.
func valueText(value domain.ParameterValue) string {
	if value.Display != "" {
		return value.Display
	}
	return value.RawString()
}

// FileName builds a download name like comparison-v1-20240131-154500.csv.
func FileName(kind, qualifier string, format Format) string {
	parts := []string{sanitizeFileComponent(kind)}
	if q := sanitizeFileComponent(qualifier); q != "" && q != "export" {
		parts = append(parts, q)
	}
	parts = append(parts, time.Now().UTC().Format("20060102-150405"))
	return strings.Join(parts, "-") + "." + string(format)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}
