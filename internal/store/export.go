package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// ExportFilters narrows which saved projects the CSV export includes. Nil
// fields mean no filtering on that dimension. Records whose field is missing
// or unparseable always pass; filters only exclude on a definite comparison.
type ExportFilters struct {
	MinEstimatedAmount *float64
	ReceivedAfter      *time.Time
	ApprovedAfter      *time.Time
}

// preferredColumns is the export column order; columns not listed here follow
// alphabetically.
var preferredColumns = []string{
	tracker.KeyProjectName, tracker.KeyDistrictName, tracker.KeyCountyID,
	tracker.KeyDistrictCode, tracker.KeyDSAAppID, tracker.KeyPTN,
	tracker.KeyOriginID, tracker.KeyAppID,

	tracker.KeyProjectType, tracker.KeyProjectScope, "Project Class",
	"Special Type", "Address", "City", "zip",

	tracker.KeyEstimatedAmt, "Contracted Amt", "Construction Change Document Amt",

	tracker.KeyReceivedDate, tracker.KeyApprovedDate, "Closed Date",

	"Office ID", "Application #", "File #", "PTN #", "OPSC #", "# of incr",
	tracker.KeyScrapedAt, tracker.KeyURL,
}

// sentinelValues carry no information and never keep a column alive. The
// comparison is case-insensitive.
var sentinelValues = map[string]bool{
	"":          true,
	"0":         true,
	"0.0":       true,
	"0.00":      true,
	"$0":        true,
	"$0.0":      true,
	"$0.00":     true,
	"n/a":       true,
	"na":        true,
	"none":      true,
	"null":      true,
	"undefined": true,
	"-":         true,
	"--":        true,
	"---":       true,
}

// ExportCSV renders all saved projects matching the filters as CSV. Columns
// that are empty or sentinel-valued across every matching record are dropped.
// An empty result set yields an empty byte slice, not a lone header row.
func (s *Store) ExportCSV(filters ExportFilters) ([]byte, error) {
	projects, err := s.AllProjects()
	if err != nil {
		return nil, err
	}

	var records []tracker.Record
	for _, p := range projects {
		if filters.matches(p.Record) {
			records = append(records, p.Record)
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	columns := exportColumns(records)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i] = rec[col]
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (f ExportFilters) matches(rec tracker.Record) bool {
	if f.MinEstimatedAmount != nil {
		if amount, ok := rec.EstimatedAmount(); ok && amount < *f.MinEstimatedAmount {
			return false
		}
	}
	if f.ReceivedAfter != nil {
		if received, ok := rec.ReceivedDate(); ok && !received.After(*f.ReceivedAfter) {
			return false
		}
	}
	if f.ApprovedAfter != nil {
		if approved, ok := rec.ApprovedDate(); ok && !approved.After(*f.ApprovedAfter) {
			return false
		}
	}
	return true
}

// exportColumns returns the columns with at least one meaningful value,
// preferred order first, the rest alphabetical.
func exportColumns(records []tracker.Record) []string {
	meaningful := make(map[string]bool)
	for _, rec := range records {
		for key, value := range rec {
			if meaningful[key] {
				continue
			}
			if !sentinelValues[strings.ToLower(strings.TrimSpace(value))] {
				meaningful[key] = true
			}
		}
	}

	var columns []string
	seen := make(map[string]bool)
	for _, col := range preferredColumns {
		if meaningful[col] {
			columns = append(columns, col)
			seen[col] = true
		}
	}
	var rest []string
	for col := range meaningful {
		if !seen[col] {
			rest = append(rest, col)
		}
	}
	sort.Strings(rest)
	return append(columns, rest...)
}
