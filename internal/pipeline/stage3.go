package pipeline

import (
	"context"
	"fmt"

	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/t2m"
)

// Stage3Generator produces the expected-verification block (assertions,
// ranking, triggers) for one sample's IR program (§4.2).
type Stage3Generator struct {
	Generation llmprovider.GenerationProvider
}

type stage3Wire struct {
	Assertions  []t2m.AssertionSpec `json:"assertions"`
	Ranking     *t2m.RankingSpec    `json:"ranking,omitempty"`
	Triggers    t2m.TriggerSpec     `json:"triggers,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	EvalTimeUTC string              `json:"eval_time_utc,omitempty"`
}

// Generate produces the Expected block verifying stage2's IR program.
func (g *Stage3Generator) Generate(ctx context.Context, stage1 *Stage1Result, stage2 *Stage2Result) (*t2m.Expected, *FailedItem) {
	prompt := g.buildPrompt(stage1, stage2)

	var wire stage3Wire
	var lastRaw string
	_, err := generateWithRetry(ctx, func(ctx context.Context) (string, error) {
		raw, err := callAndParse(ctx, g.Generation, prompt, &wire)
		lastRaw = raw
		if err != nil {
			return raw, err
		}
		return raw, validateStage3(&wire)
	})
	if err != nil {
		return nil, &FailedItem{Stage: "stage3", Err: err, RawOutput: lastRaw}
	}

	return &t2m.Expected{
		Meta:       t2m.ExpectedMeta{EvalTimeUTC: wire.EvalTimeUTC},
		Assertions: wire.Assertions,
		Ranking:    wire.Ranking,
		Triggers:   wire.Triggers,
	}, nil
}

func (g *Stage3Generator) buildPrompt(stage1 *Stage1Result, stage2 *Stage2Result) string {
	return fmt.Sprintf(
		"Write verification checks for this IR program.\nInstruction: %s\nSchema list op count: %d\n"+
			"Respond with JSON: {\"assertions\":[{\"name\":...,\"select\":{\"from\":...,\"where\":[...],\"agg\":...},"+
			"\"expect\":{\"op\":...,\"value\":...},\"params\":{...}}],\"ranking\":null,\"triggers\":[],\"eval_time_utc\":...}",
		stage1.Instruction, len(stage2.SchemaList),
	)
}

func validateStage3(w *stage3Wire) error {
	if len(w.Assertions) == 0 && w.Ranking == nil && len(w.Triggers) == 0 {
		return fmt.Errorf("pipeline: stage3 produced no assertions, ranking, or triggers")
	}
	for i, a := range w.Assertions {
		if a.Name == "" {
			return fmt.Errorf("pipeline: stage3 assertions[%d] missing name", i)
		}
		if a.Select.From == "" {
			return fmt.Errorf("pipeline: stage3 assertions[%d] missing select.from", i)
		}
	}
	return nil
}
