// Command t2m-bench wires the generation pipeline, evaluation harness,
// cleaning stage, and benchmark builder into four subcommands. It
// deliberately skips a flag-parsing library: every subcommand takes
// positional arguments only, per spec's explicit "command-line argument
// parsing... out of scope" framing -- this file is the thin collaborator
// that supplies one.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/text2mem/benchctl/internal/alloc"
	"github.com/text2mem/benchctl/internal/benchmark"
	"github.com/text2mem/benchctl/internal/checkpoint"
	"github.com/text2mem/benchctl/internal/clean"
	"github.com/text2mem/benchctl/internal/config"
	"github.com/text2mem/benchctl/internal/engine"
	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/pipeline"
	"github.com/text2mem/benchctl/internal/runner"
	"github.com/text2mem/benchctl/internal/t2m"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(os.Args[2:])
	case "test":
		err = runTest(os.Args[2:])
	case "clean":
		err = runClean(os.Args[2:])
	case "build":
		err = runBuild(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "t2m-bench:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  t2m-bench generate <plan.yaml> <run-dir>
  t2m-bench test <samples.jsonl> <sandbox-dir> <results.jsonl> [snapshot-dir]
  t2m-bench clean <run-id> <run-dir> [results.jsonl]
  t2m-bench build <samples.jsonl> <results.jsonl> <out-dir>`)
}

// runGenerate drives PipelineController end to end for plan, writing into
// runDir. Resumes automatically: RunSync/RunAsync skip any stage the
// checkpoint already marks done.
func runGenerate(args []string) error {
	if len(args) < 2 {
		usage()
		return fmt.Errorf("generate: expected <plan.yaml> <run-dir>")
	}
	planPath, runDir := args[0], args[1]

	raw, err := os.ReadFile(planPath)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	plan, err := alloc.LoadPlan(raw)
	if err != nil {
		return err
	}

	cfg := config.Load()
	gen, err := llmprovider.NewGenerationProvider(resolveProviderConfig(cfg, cfg.ResolvedGenerationProvider(), cfg.Provider.GenerationModel))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	ctrl := &pipeline.Controller{
		Stage1:                  &pipeline.Stage1Generator{Generation: gen, IDs: &pipeline.SampleIDGenerator{}},
		Stage2:                  &pipeline.Stage2Generator{Generation: gen},
		Stage3:                  &pipeline.Stage3Generator{Generation: gen},
		Catalog:                 catalogFromPlan(plan),
		Checkpoint:              checkpoint.New(filepath.Join(runDir, "checkpoint.json")),
		RunDir:                  runDir,
		MaxConcurrent:           cfg.Pipeline.MaxConcurrent,
		CheckpointBatchInterval: cfg.Pipeline.CheckpointBatch,
	}

	ctx := context.Background()
	if cfg.Pipeline.UseAsync {
		return ctrl.RunAsync(ctx, plan, 0)
	}
	return ctrl.RunSync(ctx, plan)
}

// runTest drives TestRunner over every sample in samplesPath, writing one
// TestResultRecord per line to resultsPath.
func runTest(args []string) error {
	if len(args) < 3 {
		usage()
		return fmt.Errorf("test: expected <samples.jsonl> <sandbox-dir> <results.jsonl> [snapshot-dir]")
	}
	samplesPath, sandboxDir, resultsPath := args[0], args[1], args[2]
	snapshotDir := ""
	if len(args) > 3 {
		snapshotDir = args[3]
	}

	samples, err := readJSONL[t2m.GenerationSample](samplesPath)
	if err != nil {
		return fmt.Errorf("read samples: %w", err)
	}

	if err := os.MkdirAll(sandboxDir, 0755); err != nil {
		return fmt.Errorf("create sandbox dir: %w", err)
	}

	cfg := config.Load()
	gen, err := llmprovider.NewGenerationProvider(resolveProviderConfig(cfg, cfg.ResolvedGenerationProvider(), cfg.Provider.GenerationModel))
	if err != nil {
		return err
	}
	embed, err := llmprovider.NewEmbeddingProvider(resolveProviderConfig(cfg, cfg.ResolvedEmbeddingProvider(), cfg.Provider.EmbeddingModel))
	if err != nil {
		return err
	}

	r := runner.New(runner.Config{
		SandboxDir:           sandboxDir,
		SnapshotDir:          snapshotDir,
		Timeout:              time.Duration(cfg.Evaluator.TimeoutSeconds) * time.Second,
		MockRankingDowngrade: true,
		Tuning: engine.SearchTuning{
			Alpha:        cfg.Search.Alpha,
			Beta:         cfg.Search.Beta,
			PhraseBonus:  cfg.Search.PhraseBonus,
			DefaultLimit: cfg.Search.DefaultLimit,
			MaxLimit:     cfg.Search.MaxLimit,
			DefaultK:     cfg.Search.DefaultK,
		},
		Generation: gen,
		Embedding:  embed,
	})

	out, err := os.Create(resultsPath)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	ctx := context.Background()
	passCount := 0
	for i := range samples {
		res := r.Run(ctx, &samples[i])
		if res.Passed {
			passCount++
		}
		record := t2m.TestResultRecord{SampleID: samples[i].ID, Passed: res.Passed}
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if cfg.Evaluator.Verbose {
			fmt.Printf("%s: passed=%v timed_out=%v\n", samples[i].ID, res.Passed, res.TimedOut)
		}
	}
	fmt.Printf("test: %d/%d samples passed\n", passCount, len(samples))
	return nil
}

// runClean filters a run's stage3.jsonl the way the cleaning stage does,
// writing runs/{id}/cleaned/{cleaned.jsonl,metadata.json,stats.json,
// filter_report.json}. Without a results.jsonl argument it skips the
// failed-test rule, same as clean.py when no test results are found.
func runClean(args []string) error {
	if len(args) < 2 {
		usage()
		return fmt.Errorf("clean: expected <run-id> <run-dir> [results.jsonl]")
	}
	runID, runDir := args[0], args[1]
	resultsPath := ""
	if len(args) > 2 {
		resultsPath = args[2]
	}

	samplesPath := filepath.Join(runDir, "stage3.jsonl")
	outDir := filepath.Join(runDir, "cleaned")

	c := clean.New(runID)
	_, report, err := c.Clean(samplesPath, resultsPath, outDir, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("clean: %d/%d samples kept (%.1f%% retention) -> %s\n", report.TotalFinal, report.TotalLoaded, report.RetentionRate, outDir)
	fmt.Printf("clean: filtered by reason: failed_test=%d unknown_fields=%d invalid_instruction_type=%d invalid_structure=%d invalid_operation=%d\n",
		report.FilterReasons.FailedTest, report.FilterReasons.UnknownFields, report.FilterReasons.InvalidInstructionType,
		report.FilterReasons.InvalidStructure, report.FilterReasons.InvalidOperation)
	return nil
}

// runBuild fuses test results with the raw samples into the published
// benchmark artifact under outDir.
func runBuild(args []string) error {
	if len(args) < 3 {
		usage()
		return fmt.Errorf("build: expected <samples.jsonl> <results.jsonl> <out-dir>")
	}
	samplesPath, resultsPath, outDir := args[0], args[1], args[2]

	b := benchmark.New(outDir)
	meta, stats, err := b.Build(samplesPath, resultsPath, filepath.Base(filepath.Dir(samplesPath)), time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("build: wrote %d samples to %s\n", meta.TotalCount, outDir)
	fmt.Printf("build: %d languages, %d primary ops represented\n", len(stats.ByLang), len(stats.ByPrimaryOp))
	return nil
}

// resolveProviderConfig turns the loaded Config into the llmprovider
// factory's ProviderConfig, resolving "auto" to the best provider the
// environment actually supports credentials/endpoints for.
func resolveProviderConfig(cfg *config.Config, provider, model string) llmprovider.ProviderConfig {
	if provider == "auto" {
		switch {
		case cfg.Endpoints.OpenAIAPIKey != "":
			provider = "openai"
		case cfg.Endpoints.OllamaBaseURL != "":
			provider = "ollama"
		default:
			provider = "mock"
		}
	}
	return llmprovider.ProviderConfig{
		Provider:       provider,
		APIKey:         cfg.Endpoints.OpenAIAPIKey,
		Model:          model,
		EmbeddingModel: cfg.Provider.EmbeddingModel,
		BaseURL:        firstNonEmpty(cfg.Endpoints.OpenAIAPIBase, cfg.Endpoints.OllamaBaseURL),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// catalogFromPlan builds the prompt-substitution catalog a Controller
// needs from the plan's scenario/operation name sets. Plan YAML files name
// scenarios and operations but carry no prose description -- that's
// generated here from the name itself, since only the allocator's
// proportions (not prose) are under test.
func catalogFromPlan(plan *alloc.GenerationPlan) pipeline.Catalog {
	scenarios := map[string]pipeline.Scenario{}
	for name := range plan.Scenarios {
		scenarios[name] = pipeline.Scenario{Name: name, Description: name}
	}

	operations := map[t2m.Op]pipeline.OperationInfo{}
	for name := range plan.Operations {
		op := t2m.Op(name)
		operations[op] = pipeline.OperationInfo{Op: op, Description: name}
	}

	return pipeline.Catalog{Scenarios: scenarios, Operations: operations, Langs: []string{"en"}}
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	dec := json.NewDecoder(f)
	for dec.More() {
		var v T
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
