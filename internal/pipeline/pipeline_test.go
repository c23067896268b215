package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/alloc"
	"github.com/text2mem/benchctl/internal/checkpoint"
	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/pipeline"
	"github.com/text2mem/benchctl/internal/t2m"
)

const stage1JSON = `{"instruction":"remember my meeting notes","context":"a sufficiently long context paragraph for bounds checking","classification":{"lang":"en","instruction_type":"direct"},"scenario_info":{"topic":"project"},"operation":"encode"}`

const stage2JSON = `{"prerequisites":[],"schema_list":[{"stage":"ENC","op":"encode","args":{"payload":{"text":"meeting notes"}}}]}`

const stage3JSON = `{"assertions":[{"name":"row_exists","select":{"from":"memory","where":[],"agg":"count"},"expect":{"op":"==","value":1}}],"eval_time_utc":"2024-01-01T00:00:00Z"}`

// scriptedGeneration routes a Complete call to one of three canned replies
// based on a marker in the prompt, and counts how many times it was called.
type scriptedGeneration struct {
	calls int32
}

func (g *scriptedGeneration) Model() string { return "scripted" }

func (g *scriptedGeneration) Complete(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	switch {
	case strings.Contains(prompt, "Translate this instruction into T2M IR"):
		return stage2JSON, nil
	case strings.Contains(prompt, "Write verification checks"):
		return stage3JSON, nil
	default:
		return stage1JSON, nil
	}
}

func testPlan() *alloc.GenerationPlan {
	return &alloc.GenerationPlan{
		Name:         "unit-test-plan",
		TotalSamples: 1,
		Scenarios:    map[string]float64{"proj": 1.0},
		Operations:   map[string]float64{"encode": 1.0},
		WorkflowPct:  0,
		BatchSize:    10,
	}
}

func testCatalog() pipeline.Catalog {
	return pipeline.Catalog{
		Scenarios:  map[string]pipeline.Scenario{"proj": {Name: "proj", Description: "project notes"}},
		Operations: map[t2m.Op]pipeline.OperationInfo{t2m.OpEncode: {Op: t2m.OpEncode, Description: "encode a memory"}},
		Langs:      []string{"en"},
	}
}

func TestSampleIDGenerator_ProducesCanonicalMonotonicIDs(t *testing.T) {
	gen := &pipeline.SampleIDGenerator{}
	class := t2m.Classification{Lang: "en", InstructionType: t2m.InstructionDirect, Structure: t2m.StructureSingle}

	first := gen.Next(class, t2m.OpEncode)
	second := gen.Next(class, t2m.OpEncode)

	assert.Equal(t, "t2m-en-direct-single-enc-001", first)
	assert.Equal(t, "t2m-en-direct-single-enc-002", second)
}

func TestStage1Generator_ProducesClassifiedResult(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGeneration{}
	s1 := &pipeline.Stage1Generator{Generation: gen, IDs: &pipeline.SampleIDGenerator{}}

	result, failed := s1.Generate(ctx, pipeline.Scenario{Name: "proj", Description: "project notes"}, pipeline.OperationInfo{Op: t2m.OpEncode, Description: "encode"}, "en", t2m.StructureSingle)
	require.Nil(t, failed)
	require.NotNil(t, result)
	assert.Equal(t, "remember my meeting notes", result.Instruction)
	assert.Equal(t, t2m.InstructionDirect, result.Classification.InstructionType)
	assert.Equal(t, "t2m-en-direct-single-enc-001", result.SampleID)
}

func TestStage1Generator_FailsAfterRetriesOnShortContext(t *testing.T) {
	ctx := context.Background()
	gen := llmprovider.NewMock("mock", 0, func(prompt string) (string, error) {
		return `{"instruction":"x","context":"short","classification":{"lang":"en","instruction_type":"direct"},"scenario_info":{}}`, nil
	})
	s1 := &pipeline.Stage1Generator{Generation: gen, Bounds: pipeline.Bounds{MinContextLength: 100}, IDs: &pipeline.SampleIDGenerator{}}

	result, failed := s1.Generate(ctx, pipeline.Scenario{Name: "proj"}, pipeline.OperationInfo{Op: t2m.OpEncode}, "en", t2m.StructureSingle)
	assert.Nil(t, result)
	require.NotNil(t, failed)
	assert.Equal(t, "stage1", failed.Stage)
}

func TestStage2Generator_ProducesSchemaListMatchingOp(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGeneration{}
	s2 := &pipeline.Stage2Generator{Generation: gen}
	stage1 := &pipeline.Stage1Result{Instruction: "remember this", Context: "ctx"}

	result, failed := s2.Generate(ctx, stage1, t2m.OpEncode)
	require.Nil(t, failed)
	require.NotNil(t, result)
	require.Len(t, result.SchemaList, 1)
	assert.Equal(t, t2m.OpEncode, result.SchemaList[0].Op)
}

func TestStage2Generator_FailsWhenSchemaListOpMismatches(t *testing.T) {
	ctx := context.Background()
	gen := llmprovider.NewMock("mock", 0, func(prompt string) (string, error) {
		return `{"prerequisites":[],"schema_list":[{"stage":"STO","op":"delete","target":{"all":true},"args":{"soft":true},"meta":{"confirmation":true}}]}`, nil
	})
	s2 := &pipeline.Stage2Generator{Generation: gen}
	stage1 := &pipeline.Stage1Result{Instruction: "remember this", Context: "ctx"}

	result, failed := s2.Generate(ctx, stage1, t2m.OpEncode)
	assert.Nil(t, result)
	require.NotNil(t, failed)
	assert.Equal(t, "stage2", failed.Stage)
}

func TestStage3Generator_ProducesAssertions(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGeneration{}
	s3 := &pipeline.Stage3Generator{Generation: gen}
	stage1 := &pipeline.Stage1Result{Instruction: "remember this"}
	stage2 := &pipeline.Stage2Result{SchemaList: []t2m.IR{{Op: t2m.OpEncode}}}

	expected, failed := s3.Generate(ctx, stage1, stage2)
	require.Nil(t, failed)
	require.NotNil(t, expected)
	require.Len(t, expected.Assertions, 1)
	assert.Equal(t, "row_exists", expected.Assertions[0].Name)
}

func TestController_RunSync_ProducesSampleAndCompletesAllStages(t *testing.T) {
	ctx := context.Background()
	runDir := t.TempDir()
	gen := &scriptedGeneration{}

	ctrl := &pipeline.Controller{
		Stage1:     &pipeline.Stage1Generator{Generation: gen, IDs: &pipeline.SampleIDGenerator{}},
		Stage2:     &pipeline.Stage2Generator{Generation: gen},
		Stage3:     &pipeline.Stage3Generator{Generation: gen},
		Catalog:    testCatalog(),
		Checkpoint: checkpoint.New(filepath.Join(runDir, "checkpoint.json")),
		RunDir:     runDir,
	}

	require.NoError(t, ctrl.RunSync(ctx, testPlan()))

	data, err := os.ReadFile(filepath.Join(runDir, "stage3.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var sample t2m.GenerationSample
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &sample))
	assert.Equal(t, "t2m-en-direct-single-enc-001", sample.ID)
	assert.Equal(t, t2m.OpEncode, sample.PrimaryOp())
	assert.Len(t, sample.Expected.Assertions, 1)

	cpData, err := os.ReadFile(filepath.Join(runDir, "checkpoint.json"))
	require.NoError(t, err)
	var cp t2m.Checkpoint
	require.NoError(t, json.Unmarshal(cpData, &cp))
	for _, stage := range []string{"stage1", "stage2", "stage3"} {
		assert.True(t, cp.Stages[stage].Done(), "stage %s should be complete", stage)
	}
}

func TestController_RunSync_ResumeSkipsCompletedStages(t *testing.T) {
	ctx := context.Background()
	runDir := t.TempDir()
	gen := &scriptedGeneration{}

	newController := func() *pipeline.Controller {
		return &pipeline.Controller{
			Stage1:     &pipeline.Stage1Generator{Generation: gen, IDs: &pipeline.SampleIDGenerator{}},
			Stage2:     &pipeline.Stage2Generator{Generation: gen},
			Stage3:     &pipeline.Stage3Generator{Generation: gen},
			Catalog:    testCatalog(),
			Checkpoint: checkpoint.New(filepath.Join(runDir, "checkpoint.json")),
			RunDir:     runDir,
		}
	}

	require.NoError(t, newController().RunSync(ctx, testPlan()))
	callsAfterFirstRun := atomic.LoadInt32(&gen.calls)
	require.Greater(t, callsAfterFirstRun, int32(0))

	require.NoError(t, newController().RunSync(ctx, testPlan()))
	assert.Equal(t, callsAfterFirstRun, atomic.LoadInt32(&gen.calls), "resumed run should not re-invoke generation for already-completed stages")
}
