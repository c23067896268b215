package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/t2m"
)

// Stage1Generator produces the natural-language instruction + context +
// classification for one sample (§4.2).
type Stage1Generator struct {
	Generation llmprovider.GenerationProvider
	Bounds     Bounds
	IDs        *SampleIDGenerator
}

// stage1Wire is the JSON shape requested from the generation model.
type stage1Wire struct {
	Instruction    string                 `json:"instruction"`
	Context        string                 `json:"context"`
	Classification map[string]interface{} `json:"classification"`
	ScenarioInfo   map[string]interface{} `json:"scenario_info"`
	Operation      string                 `json:"operation"`
}

// Stage1Result is one validated, canonical-id-assigned Stage 1 output.
type Stage1Result struct {
	SampleID       string
	Instruction    string
	Context        string
	Classification t2m.Classification
	ScenarioInfo   map[string]interface{}
}

// Generate produces one Stage 1 result for scenario/operation/structure,
// retrying per §4.2's failure policy on validation failure.
func (g *Stage1Generator) Generate(ctx context.Context, scenario Scenario, op OperationInfo, lang string, structure t2m.Structure) (*Stage1Result, *FailedItem) {
	prompt := g.buildPrompt(scenario, op, lang, structure)

	var wire stage1Wire
	var lastRaw string
	_, err := generateWithRetry(ctx, func(ctx context.Context) (string, error) {
		raw, err := callAndParse(ctx, g.Generation, prompt, &wire)
		lastRaw = raw
		if err != nil {
			return raw, err
		}
		return raw, validateStage1(&wire, op.Op, g.Bounds)
	})
	if err != nil {
		return nil, &FailedItem{Stage: "stage1", Err: err, RawOutput: lastRaw}
	}

	normalizeClassificationKeys(wire.Classification)
	class := t2m.Classification{
		Lang:            stringField(wire.Classification, "lang", lang),
		InstructionType: t2m.InstructionType(stringField(wire.Classification, "instruction_type", "direct")),
		Structure:       structure,
	}

	id := g.IDs.Next(class, op.Op)
	return &Stage1Result{
		SampleID:       id,
		Instruction:    wire.Instruction,
		Context:        wire.Context,
		Classification: class,
		ScenarioInfo:   wire.ScenarioInfo,
	}, nil
}

func (g *Stage1Generator) buildPrompt(scenario Scenario, op OperationInfo, lang string, structure t2m.Structure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a %s-language user instruction for a memory system.\n", lang)
	fmt.Fprintf(&b, "Scenario: %s -- %s\n", scenario.Name, scenario.Description)
	fmt.Fprintf(&b, "Target operation: %s -- %s\n", op.Op, op.Description)
	if len(op.Examples) > 0 {
		fmt.Fprintf(&b, "Example phrasings: %s\n", strings.Join(op.Examples, "; "))
	}
	fmt.Fprintf(&b, "Structure: %s\n", structure)
	fmt.Fprintf(&b, "Respond with JSON: {\"instruction\":...,\"context\":...,\"classification\":{\"lang\":...,\"instruction_type\":...},\"scenario_info\":{...},\"operation\":%q}\n", op.Op)
	fmt.Fprintf(&b, "Context must be at least %d characters.\n", g.Bounds.MinContextLength)
	return b.String()
}

func validateStage1(w *stage1Wire, op t2m.Op, bounds Bounds) error {
	if w.Instruction == "" {
		return fmt.Errorf("pipeline: stage1 missing instruction")
	}
	if w.Context == "" {
		return fmt.Errorf("pipeline: stage1 missing context")
	}
	if len(w.Context) < bounds.MinContextLength {
		return fmt.Errorf("pipeline: stage1 context too short: %d < %d", len(w.Context), bounds.MinContextLength)
	}
	if w.Classification == nil {
		return fmt.Errorf("pipeline: stage1 missing classification")
	}
	if w.ScenarioInfo == nil {
		return fmt.Errorf("pipeline: stage1 missing scenario_info")
	}
	if w.Operation != "" && t2m.Op(w.Operation) != op {
		return fmt.Errorf("pipeline: stage1 operation mismatch: want %q got %q", op, w.Operation)
	}
	return nil
}

func stringField(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}
