// Package benchmark implements BenchmarkBuilder (§4.7): fuses test-runner
// outcomes with stage-3 samples into the published benchmark artifact,
// grounded on the teacher's backup/retention.go list-filter-act shape
// (internal/backup/retention.go), generalized from age-tiered backup
// deletion to pass/malformed-sample filtering.
package benchmark

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

// Metadata is written to metadata.json alongside the benchmark.
type Metadata struct {
	GeneratedAt time.Time `json:"generated_at"`
	SourceRun   string    `json:"source_run"`
	TotalCount  int       `json:"total_count"`
}

// Stats is written to stats.json: the distribution of survivors by group.
type Stats struct {
	ByLang            map[string]int `json:"by_lang"`
	ByInstructionType map[string]int `json:"by_instruction_type"`
	ByStructure       map[string]int `json:"by_structure"`
	ByPrimaryOp       map[string]int `json:"by_primary_op"`
}

// Builder consumes a run's stage-3 samples and test results and writes the
// published benchmark.
type Builder struct {
	OutDir string
}

// New returns a Builder writing into outDir.
func New(outDir string) *Builder {
	return &Builder{OutDir: outDir}
}

// Build loads samplesPath (stage3.jsonl) and resultsPath (test results
// JSONL), filters, reassigns ids, and writes benchmark.jsonl/metadata.json/
// stats.json plus the benchmarks/latest alias (§4.7).
func (b *Builder) Build(samplesPath, resultsPath, sourceRun string, now time.Time) (*Metadata, *Stats, error) {
	samples, err := readJSONL[t2m.GenerationSample](samplesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark: read samples: %w", err)
	}
	results, err := readJSONL[t2m.TestResultRecord](resultsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark: read results: %w", err)
	}

	passed := map[string]bool{}
	for _, r := range results {
		if r.Passed {
			passed[r.SampleID] = true
		}
	}

	survivors := filterSamples(samples, passed)
	reassignCanonicalIDs(survivors)

	if err := os.MkdirAll(b.OutDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("benchmark: create out dir: %w", err)
	}

	if err := writeJSONL(filepath.Join(b.OutDir, "benchmark.jsonl"), survivors); err != nil {
		return nil, nil, err
	}

	meta := &Metadata{GeneratedAt: now, SourceRun: sourceRun, TotalCount: len(survivors)}
	if err := writeJSON(filepath.Join(b.OutDir, "metadata.json"), meta); err != nil {
		return nil, nil, err
	}

	stats := computeStats(survivors)
	if err := writeJSON(filepath.Join(b.OutDir, "stats.json"), stats); err != nil {
		return nil, nil, err
	}

	if err := updateLatestAlias(b.OutDir); err != nil {
		return nil, nil, err
	}

	return meta, stats, nil
}

// filterSamples keeps only samples that passed their test and are
// well-formed (§4.7's three exclusion rules, applied in order).
func filterSamples(samples []t2m.GenerationSample, passed map[string]bool) []t2m.GenerationSample {
	out := make([]t2m.GenerationSample, 0, len(samples))
	for _, s := range samples {
		if !passed[s.ID] {
			continue
		}
		if classificationMentionsUnknown(s.Class) {
			continue
		}
		if !schemaListWithinAllowList(s.SchemaList) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func classificationMentionsUnknown(c t2m.Classification) bool {
	fields := []string{c.Lang, string(c.InstructionType), string(c.Structure)}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), "unknown") {
			return true
		}
	}
	return false
}

func schemaListWithinAllowList(schemaList []t2m.IR) bool {
	if len(schemaList) == 0 {
		return false
	}
	for _, ir := range schemaList {
		if !t2m.IsKnownOp(ir.Op) {
			return false
		}
	}
	return true
}

// groupKey is {lang, instruction_type, structure, primary_op}.
type groupKey struct {
	lang            string
	instructionType string
	structure       string
	primaryOp       string
}

func keyOf(s *t2m.GenerationSample) groupKey {
	return groupKey{
		lang:            s.Class.Lang,
		instructionType: string(s.Class.InstructionType),
		structure:       string(s.Class.Structure),
		primaryOp:       string(s.PrimaryOp()),
	}
}

// reassignCanonicalIDs groups survivors by {lang, instruction_type,
// structure, primary_op} and replaces each sample's id with a sequential
// canonical one within its group, preserving input order within a group
// (§4.7).
func reassignCanonicalIDs(samples []t2m.GenerationSample) {
	counters := map[groupKey]int{}
	for i := range samples {
		k := keyOf(&samples[i])
		counters[k]++
		samples[i].ID = t2m.FormatSampleID(samples[i].Class, samples[i].PrimaryOp(), counters[k])
	}
}

func computeStats(samples []t2m.GenerationSample) *Stats {
	stats := &Stats{
		ByLang:            map[string]int{},
		ByInstructionType: map[string]int{},
		ByStructure:       map[string]int{},
		ByPrimaryOp:       map[string]int{},
	}
	for i := range samples {
		s := &samples[i]
		stats.ByLang[s.Class.Lang]++
		stats.ByInstructionType[string(s.Class.InstructionType)]++
		stats.ByStructure[string(s.Class.Structure)]++
		stats.ByPrimaryOp[string(s.PrimaryOp())]++
	}
	return stats
}

// updateLatestAlias points benchmarks/latest at outDir, replacing any
// existing symlink.
func updateLatestAlias(outDir string) error {
	parent := filepath.Dir(outDir)
	latest := filepath.Join(parent, "latest")
	target, err := filepath.Rel(parent, outDir)
	if err != nil {
		target = outDir
	}
	if _, err := os.Lstat(latest); err == nil {
		if err := os.Remove(latest); err != nil {
			return fmt.Errorf("benchmark: remove stale latest alias: %w", err)
		}
	}
	if err := os.Symlink(target, latest); err != nil {
		return fmt.Errorf("benchmark: create latest alias: %w", err)
	}
	return nil
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
			return nil, fmt.Errorf("benchmark: decode %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}

func writeJSONL[T any](path string, items []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("benchmark: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("benchmark: encode: %w", err)
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
		return fmt.Errorf("benchmark: encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}
