package clean_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/clean"
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

func TestClean_AppliesFiveRulesWithPerReasonCounts(t *testing.T) {
	dir := t.TempDir()
	samplesPath := filepath.Join(dir, "stage3.jsonl")
	resultsPath := filepath.Join(dir, "results.jsonl")
	outDir := filepath.Join(dir, "runs", "run1", "cleaned")

	passing := encodeSample("s-001", "en", t2m.InstructionDirect, t2m.StructureSingle)
	failedTest := encodeSample("s-002", "en", t2m.InstructionDirect, t2m.StructureSingle)
	unknownLang := encodeSample("s-003", "unknown", t2m.InstructionDirect, t2m.StructureSingle)
	badInstructionType := encodeSample("s-004", "en", t2m.InstructionImplicit, t2m.StructureSingle)
	badStructure := encodeSample("s-005", "en", t2m.InstructionDirect, t2m.StructureCombo)
	noSchema := encodeSample("s-006", "en", t2m.InstructionDirect, t2m.StructureSingle)
	noSchema.SchemaList = nil

	writeSamplesFile(t, samplesPath, []t2m.GenerationSample{
		passing, failedTest, unknownLang, badInstructionType, badStructure, noSchema,
	})
	writeResultsFile(t, resultsPath, []t2m.TestResultRecord{
		{SampleID: "s-001", Passed: true},
		{SampleID: "s-002", Passed: false},
		{SampleID: "s-003", Passed: true},
		{SampleID: "s-004", Passed: true},
		{SampleID: "s-005", Passed: true},
		{SampleID: "s-006", Passed: true},
	})

	c := clean.New("run1")
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	meta, report, err := c.Clean(samplesPath, resultsPath, outDir, now)
	require.NoError(t, err)

	assert.Equal(t, 6, meta.Stats.TotalLoaded)
	assert.Equal(t, 1, meta.TotalSamples)
	assert.Equal(t, 1, report.FilterReasons.FailedTest)
	assert.Equal(t, 1, report.FilterReasons.UnknownFields)
	assert.Equal(t, 1, report.FilterReasons.InvalidInstructionType)
	assert.Equal(t, 1, report.FilterReasons.InvalidStructure)
	assert.Equal(t, 1, report.FilterReasons.InvalidOperation)
	assert.Equal(t, 1, report.TotalFinal)
	assert.InDelta(t, 100.0/6.0, report.RetentionRate, 0.01)

	cleanedData, err := os.ReadFile(filepath.Join(outDir, "cleaned.jsonl"))
	require.NoError(t, err)
	var kept t2m.GenerationSample
	require.NoError(t, json.Unmarshal(cleanedData, &kept))
	assert.Equal(t, "s-001", kept.ID)

	for _, f := range []string{"metadata.json", "stats.json", "filter_report.json"} {
		_, err := os.Stat(filepath.Join(outDir, f))
		assert.NoError(t, err, "expected %s to exist", f)
	}
}

func TestClean_NoResultsFileSkipsFailedTestRule(t *testing.T) {
	dir := t.TempDir()
	samplesPath := filepath.Join(dir, "stage3.jsonl")
	outDir := filepath.Join(dir, "cleaned")

	writeSamplesFile(t, samplesPath, []t2m.GenerationSample{
		encodeSample("s-001", "en", t2m.InstructionDirect, t2m.StructureSingle),
	})

	c := clean.New("run1")
	meta, report, err := c.Clean(samplesPath, "", outDir, time.Now())
	require.NoError(t, err)
	assert.False(t, meta.FilterFailed)
	assert.Equal(t, 0, report.FilterReasons.FailedTest)
	assert.Equal(t, 1, report.TotalFinal)
}
