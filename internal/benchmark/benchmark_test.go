package benchmark_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/benchmark"
	"github.com/text2mem/benchctl/internal/t2m"
)

func writeSamplesFile(t *testing.T, path string, samples []t2m.GenerationSample) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, s := range samples {
		data, err := json.Marshal(s)
		require.NoError(t, err)
		_, err = f.Write(append(data, '\n'))
		require.NoError(t, err)
	}
}

func writeResultsFile(t *testing.T, path string, results []t2m.TestResultRecord) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, r := range results {
		data, err := json.Marshal(r)
		require.NoError(t, err)
		_, err = f.Write(append(data, '\n'))
		require.NoError(t, err)
	}
}

func encodeSample(id, lang string, it t2m.InstructionType, structure t2m.Structure) t2m.GenerationSample {
	return t2m.GenerationSample{
		ID:    id,
		Class: t2m.Classification{Lang: lang, InstructionType: it, Structure: structure},
		SchemaList: []t2m.IR{
			{
				Stage: t2m.StageENC,
				Op:    t2m.OpEncode,
				Args:  &t2m.EncodeArgs{Payload: t2m.Payload{Text: "hello"}, Type: t2m.CategoryNote},
			},
		},
	}
}

func TestBuild_FiltersDropsAndReassignsIDs(t *testing.T) {
	dir := t.TempDir()
	samplesPath := filepath.Join(dir, "stage3.jsonl")
	resultsPath := filepath.Join(dir, "results.jsonl")
	outDir := filepath.Join(dir, "benchmarks", "run1")

	passing1 := encodeSample("raw-001", "en", t2m.InstructionDirect, t2m.StructureSingle)
	passing2 := encodeSample("raw-002", "en", t2m.InstructionDirect, t2m.StructureSingle)
	failing := encodeSample("raw-003", "en", t2m.InstructionDirect, t2m.StructureSingle)
	unknownLang := encodeSample("raw-004", "unknown", t2m.InstructionDirect, t2m.StructureSingle)
	badOp := encodeSample("raw-005", "en", t2m.InstructionDirect, t2m.StructureSingle)
	badOp.SchemaList = []t2m.IR{{Stage: t2m.StageSTO, Op: t2m.Op("frobnicate")}}

	writeSamplesFile(t, samplesPath, []t2m.GenerationSample{passing1, passing2, failing, unknownLang, badOp})
	writeResultsFile(t, resultsPath, []t2m.TestResultRecord{
		{SampleID: "raw-001", Passed: true},
		{SampleID: "raw-002", Passed: true},
		{SampleID: "raw-003", Passed: false},
		{SampleID: "raw-004", Passed: true},
		{SampleID: "raw-005", Passed: true},
	})

	b := benchmark.New(outDir)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	meta, stats, err := b.Build(samplesPath, resultsPath, "run1", now)
	require.NoError(t, err)

	assert.Equal(t, 2, meta.TotalCount)
	assert.Equal(t, "run1", meta.SourceRun)
	assert.Equal(t, 2, stats.ByLang["en"])

	data, err := os.ReadFile(filepath.Join(outDir, "benchmark.jsonl"))
	require.NoError(t, err)
	var kept []t2m.GenerationSample
	for _, line := range splitLines(data) {
		var s t2m.GenerationSample
		require.NoError(t, json.Unmarshal(line, &s))
		kept = append(kept, s)
	}
	require.Len(t, kept, 2)
	assert.Equal(t, "t2m-en-direct-single-enc-001", kept[0].ID)
	assert.Equal(t, "t2m-en-direct-single-enc-002", kept[1].ID)

	latest := filepath.Join(dir, "benchmarks", "latest")
	target, err := os.Readlink(latest)
	require.NoError(t, err)
	assert.Equal(t, "run1", target)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
