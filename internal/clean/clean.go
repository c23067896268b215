// Package clean implements the cleaning stage that sits between a raw
// generation run and BenchmarkBuilder (§6's runs/{id}/cleaned/ artifact
// set), grounded on original_source/bench/tools/clean.py's DataCleaner:
// load stage3 samples plus test results, apply the same five ordered
// filter rules with a per-reason breakdown, and write cleaned.jsonl
// alongside metadata.json, stats.json, and filter_report.json.
package clean

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/text2mem/benchctl/internal/t2m"
)

// allowedInstructionTypes/allowedStructures mirror DataCleaner's
// class-level ALLOWED_* sets (clean.py lines 42-47); the operation check
// uses t2m.IsKnownOp instead of a third set.
var allowedInstructionTypes = map[t2m.InstructionType]bool{
	t2m.InstructionDirect:   true,
	t2m.InstructionIndirect: true,
}

var allowedStructures = map[t2m.Structure]bool{
	t2m.StructureSingle:   true,
	t2m.StructureWorkflow: true,
}

// FilterReasons is the per-reason rejection breakdown clean.py accumulates
// into stats['filter_reasons'], in the order its filter_samples checks them.
type FilterReasons struct {
	FailedTest             int `json:"failed_test"`
	UnknownFields          int `json:"unknown_fields"`
	InvalidInstructionType int `json:"invalid_instruction_type"`
	InvalidStructure       int `json:"invalid_structure"`
	InvalidOperation       int `json:"invalid_operation"`
}

// Stats is the running total clean.py keeps on self.stats, shared between
// metadata.json's "stats" field and filter_report.json.
type Stats struct {
	TotalLoaded      int           `json:"total_loaded"`
	TotalPassedTests int           `json:"total_passed_tests"`
	TotalFiltered    int           `json:"total_filtered"`
	TotalFinal       int           `json:"total_final"`
	FilterReasons    FilterReasons `json:"filter_reasons"`
}

// Metadata is written to cleaned/metadata.json.
type Metadata struct {
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	SourceStage3  string    `json:"source_stage3,omitempty"`
	TotalSamples  int       `json:"total_samples"`
	FilterUnknown bool      `json:"filter_unknown"`
	FilterFailed  bool      `json:"filter_failed"`
	Stats         Stats     `json:"stats"`
}

// FilterReport is written to cleaned/filter_report.json.
type FilterReport struct {
	CreatedAt        time.Time     `json:"created_at"`
	TotalLoaded      int           `json:"total_loaded"`
	TotalPassedTests int           `json:"total_passed_tests"`
	TotalFiltered    int           `json:"total_filtered"`
	TotalFinal       int           `json:"total_final"`
	RetentionRate    float64       `json:"retention_rate"`
	FilterReasons    FilterReasons `json:"filter_reasons"`
}

// distribution is _generate_stats's "distribution" sub-object.
type distribution struct {
	Languages        map[string]int `json:"languages"`
	Operations       map[string]int `json:"operations"`
	InstructionTypes map[string]int `json:"instruction_types"`
	Structures       map[string]int `json:"structures"`
}

// StatsFile is written to cleaned/stats.json.
type StatsFile struct {
	Total        int          `json:"total"`
	Distribution distribution `json:"distribution"`
}

// Cleaner filters a run's stage3 samples the way DataCleaner does,
// toggling the two optional rules via FilterUnknown/FilterFailed
// (clean.py's --no-filter-unknown / --no-filter-failed).
type Cleaner struct {
	RunID         string
	FilterUnknown bool
	FilterFailed  bool
}

// New returns a Cleaner with both optional filter rules enabled, matching
// DataCleaner's constructor defaults.
func New(runID string) *Cleaner {
	return &Cleaner{RunID: runID, FilterUnknown: true, FilterFailed: true}
}

// Clean loads samplesPath (a run's stage3.jsonl) and, unless resultsPath is
// empty, resultsPath's pass/fail records, filters the samples, and writes
// cleaned.jsonl plus metadata.json/stats.json/filter_report.json under
// outDir (runs/{id}/cleaned/). Mirrors DataCleaner.load_test_results,
// load_samples, filter_samples and save_cleaned_data.
func (c *Cleaner) Clean(samplesPath, resultsPath, outDir string, now time.Time) (*Metadata, *FilterReport, error) {
	samples, err := readJSONL[t2m.GenerationSample](samplesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("clean: read samples: %w", err)
	}

	passed := map[string]bool{}
	filterFailed := c.FilterFailed
	if filterFailed {
		if resultsPath == "" {
			filterFailed = false
		} else {
			results, err := readJSONL[t2m.TestResultRecord](resultsPath)
			if err != nil {
				return nil, nil, fmt.Errorf("clean: read results: %w", err)
			}
			if len(results) == 0 {
				filterFailed = false
			}
			for _, r := range results {
				if r.Passed {
					passed[r.SampleID] = true
				}
			}
		}
	}

	stats := Stats{TotalLoaded: len(samples), TotalPassedTests: len(passed)}
	survivors := make([]t2m.GenerationSample, 0, len(samples))

	for i := range samples {
		s := &samples[i]

		if filterFailed && !passed[s.ID] {
			stats.FilterReasons.FailedTest++
			stats.TotalFiltered++
			continue
		}

		op := s.PrimaryOp()
		if len(s.SchemaList) == 0 {
			stats.FilterReasons.InvalidOperation++
			stats.TotalFiltered++
			continue
		}

		if c.FilterUnknown && mentionsUnknown(s.Class, op) {
			stats.FilterReasons.UnknownFields++
			stats.TotalFiltered++
			continue
		}

		if !allowedInstructionTypes[s.Class.InstructionType] {
			stats.FilterReasons.InvalidInstructionType++
			stats.TotalFiltered++
			continue
		}

		if !allowedStructures[s.Class.Structure] {
			stats.FilterReasons.InvalidStructure++
			stats.TotalFiltered++
			continue
		}

		if !t2m.IsKnownOp(op) {
			stats.FilterReasons.InvalidOperation++
			stats.TotalFiltered++
			continue
		}

		survivors = append(survivors, *s)
	}
	stats.TotalFinal = len(survivors)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("clean: create cleaned dir: %w", err)
	}
	if err := writeJSONL(filepath.Join(outDir, "cleaned.jsonl"), survivors); err != nil {
		return nil, nil, err
	}

	meta := &Metadata{
		RunID:         c.RunID,
		CreatedAt:     now,
		SourceStage3:  samplesPath,
		TotalSamples:  len(survivors),
		FilterUnknown: c.FilterUnknown,
		FilterFailed:  filterFailed,
		Stats:         stats,
	}
	if err := writeJSON(filepath.Join(outDir, "metadata.json"), meta); err != nil {
		return nil, nil, err
	}

	if err := writeJSON(filepath.Join(outDir, "stats.json"), buildStatsFile(survivors)); err != nil {
		return nil, nil, err
	}

	report := &FilterReport{
		CreatedAt:        now,
		TotalLoaded:      stats.TotalLoaded,
		TotalPassedTests: stats.TotalPassedTests,
		TotalFiltered:    stats.TotalFiltered,
		TotalFinal:       stats.TotalFinal,
		RetentionRate:    retentionRate(stats),
		FilterReasons:    stats.FilterReasons,
	}
	if err := writeJSON(filepath.Join(outDir, "filter_report.json"), report); err != nil {
		return nil, nil, err
	}

	return meta, report, nil
}

func retentionRate(s Stats) float64 {
	if s.TotalLoaded == 0 {
		return 0
	}
	return float64(s.TotalFinal) / float64(s.TotalLoaded) * 100
}

// mentionsUnknown reports whether any of a sample's four classifying
// fields is the literal "unknown", matching filter_samples's rule 2
// (lang/instruction_type/structure default to "unknown" when absent in
// the Python source; here a zero value plays the same role).
func mentionsUnknown(c t2m.Classification, op t2m.Op) bool {
	fields := []string{c.Lang, string(c.InstructionType), string(c.Structure), string(op)}
	for _, f := range fields {
		if f == "" || strings.EqualFold(f, "unknown") {
			return true
		}
	}
	return false
}

func buildStatsFile(samples []t2m.GenerationSample) *StatsFile {
	dist := distribution{
		Languages:        map[string]int{},
		Operations:       map[string]int{},
		InstructionTypes: map[string]int{},
		Structures:       map[string]int{},
	}
	for i := range samples {
		s := &samples[i]
		dist.Languages[s.Class.Lang]++
		dist.InstructionTypes[string(s.Class.InstructionType)]++
		dist.Structures[string(s.Class.Structure)]++
		dist.Operations[string(s.PrimaryOp())]++
	}
	return &StatsFile{Total: len(samples), Distribution: dist}
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("clean: decode %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}

func writeJSONL[T any](path string, items []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("clean: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("clean: encode: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("clean: encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}
