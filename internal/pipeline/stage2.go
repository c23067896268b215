package pipeline

import (
	"context"
	"fmt"

	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/t2m"
)

// Stage2Generator turns a Stage 1 instruction into the structured IR
// program under test: optional setup prerequisites plus the schema_list
// that exercises the target operation (§4.2).
type Stage2Generator struct {
	Generation llmprovider.GenerationProvider
}

type stage2Wire struct {
	Prerequisites []t2m.IR `json:"prerequisites"`
	SchemaList    []t2m.IR `json:"schema_list"`
}

// Stage2Result is the validated IR program for one sample.
type Stage2Result struct {
	Prerequisites []t2m.IR
	SchemaList    []t2m.IR
}

// Generate produces prerequisites + schema_list for stage1's instruction,
// validating that schema_list is non-empty and its first op matches op.
func (g *Stage2Generator) Generate(ctx context.Context, stage1 *Stage1Result, op t2m.Op) (*Stage2Result, *FailedItem) {
	prompt := g.buildPrompt(stage1, op)

	var wire stage2Wire
	var lastRaw string
	_, err := generateWithRetry(ctx, func(ctx context.Context) (string, error) {
		raw, err := callAndParse(ctx, g.Generation, prompt, &wire)
		lastRaw = raw
		if err != nil {
			return raw, err
		}
		return raw, validateStage2(&wire, op)
	})
	if err != nil {
		return nil, &FailedItem{Stage: "stage2", Err: err, RawOutput: lastRaw}
	}

	return &Stage2Result{Prerequisites: wire.Prerequisites, SchemaList: wire.SchemaList}, nil
}

func (g *Stage2Generator) buildPrompt(stage1 *Stage1Result, op t2m.Op) string {
	return fmt.Sprintf(
		"Translate this instruction into T2M IR.\nInstruction: %s\nContext: %s\nTarget operation: %s\n"+
			"Respond with JSON: {\"prerequisites\":[...IR...],\"schema_list\":[...IR...]}. "+
			"Every IR has stage, op, target, args, meta. The first schema_list entry's op must be %q.",
		stage1.Instruction, stage1.Context, op, op,
	)
}

func validateStage2(w *stage2Wire, op t2m.Op) error {
	if len(w.SchemaList) == 0 {
		return fmt.Errorf("pipeline: stage2 empty schema_list")
	}
	if w.SchemaList[0].Op != op {
		return fmt.Errorf("pipeline: stage2 schema_list[0].op mismatch: want %q got %q", op, w.SchemaList[0].Op)
	}
	for i, ir := range w.Prerequisites {
		if ir.Op == "" {
			return fmt.Errorf("pipeline: stage2 prerequisites[%d] missing op", i)
		}
	}
	return nil
}
