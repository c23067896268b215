// Package runner implements TestRunner (§4.6): per sample, it opens a
// fresh sandbox store, executes prerequisites and the schema_list under
// test, then evaluates assertions, a ranking check, and trigger blocks
// against a virtual clock.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/text2mem/benchctl/internal/assertion"
	"github.com/text2mem/benchctl/internal/clock"
	"github.com/text2mem/benchctl/internal/engine"
	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/store/sqlite"
	"github.com/text2mem/benchctl/internal/t2m"
)

// Config carries the per-run knobs TestRunner needs (§4.6, Open Question 2
// and 3 decisions).
type Config struct {
	SandboxDir  string
	SnapshotDir string
	Timeout     time.Duration

	// MockRankingDowngrade, when the embedding provider is the mock one,
	// turns an otherwise-failing ranking check into a passing warning
	// (§4.6 item 6, Open Question 2). The zero value (false) keeps the
	// check strict; cmd/t2m-bench sets it to true.
	MockRankingDowngrade bool

	// Tuning overrides the Engine's ranking/limit defaults (§6
	// TEXT2MEM_SEARCH_* knobs); zero value keeps the Engine's built-ins.
	Tuning engine.SearchTuning

	Generation llmprovider.GenerationProvider
	Embedding  llmprovider.EmbeddingProvider
}

// OpOutcome is one executed IR's success flag and result payload.
type OpOutcome struct {
	IR    t2m.IR
	Data  map[string]interface{}
	Err   error
}

// AssertionOutcome mirrors assertion.Result with the spec's field names.
type AssertionOutcome struct {
	Name    string
	Passed  bool
	Message string
	Got     interface{}
	Want    interface{}
}

// RankingOutcome is the result of evaluating a sample's RankingSpec.
type RankingOutcome struct {
	Hits       []string
	Missed     []string
	Extras     []string
	Precision  float64
	Recall     float64
	Passed     bool
	Downgraded bool
	Message    string
}

// TriggerBlockOutcome is one evaluated {advance, assertions} step.
type TriggerBlockOutcome struct {
	Advance    string
	Assertions []AssertionOutcome
}

// Result is the full outcome of running one sample.
type Result struct {
	SampleID          string
	Passed            bool
	TimedOut          bool
	Duration          time.Duration
	PrerequisiteErrs  []OpOutcome
	SchemaOutcomes    []OpOutcome
	Assertions        []AssertionOutcome
	Ranking           *RankingOutcome
	Triggers          []TriggerBlockOutcome
	Err               error
}

// Runner executes samples against fresh sandbox stores.
type Runner struct {
	cfg Config
}

// New builds a Runner, defaulting Timeout to 30s when unset.
// MockRankingDowngrade is used exactly as given in cfg.
func New(cfg Config) *Runner {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Runner{cfg: cfg}
}

// Run executes one sample, honoring the configured per-sample timeout
// (§4.6 item 8: the worker is not interrupted, the harness just stops
// waiting).
func (r *Runner) Run(ctx context.Context, sample *t2m.GenerationSample) *Result {
	type done struct {
		res *Result
	}
	ch := make(chan done, 1)

	go func() {
		ch <- done{res: r.runSample(ctx, sample)}
	}()

	select {
	case d := <-ch:
		return d.res
	case <-time.After(r.cfg.Timeout):
		return &Result{SampleID: sample.ID, TimedOut: true, Err: fmt.Errorf("runner: sample %s timed out after %s", sample.ID, r.cfg.Timeout)}
	}
}

func (r *Runner) runSample(ctx context.Context, sample *t2m.GenerationSample) *Result {
	start := time.Now()
	result := &Result{SampleID: sample.ID}

	sandboxPath, cleanup, err := r.openSandbox(sample.InitDB)
	if err != nil {
		result.Err = err
		return result
	}
	defer cleanup()

	st, err := sqlite.Open(sandboxPath)
	if err != nil {
		result.Err = fmt.Errorf("runner: open sandbox: %w", err)
		return result
	}
	defer st.Close()

	now, err := evalNow(sample.Expected.Meta.EvalTimeUTC)
	if err != nil {
		result.Err = err
		return result
	}
	vc := clock.New(now)

	eng := engine.New(st, r.cfg.Generation, r.cfg.Embedding)
	eng.Now = vc.Now
	eng.Tuning = r.cfg.Tuning

	for _, instr := range sample.Prerequisites {
		data, execErr := eng.Execute(ctx, &instr)
		outcome := OpOutcome{IR: instr, Data: data, Err: execErr}
		if execErr != nil {
			result.PrerequisiteErrs = append(result.PrerequisiteErrs, outcome)
		}
	}

	for _, instr := range sample.SchemaList {
		data, execErr := eng.Execute(ctx, &instr)
		result.SchemaOutcomes = append(result.SchemaOutcomes, OpOutcome{IR: instr, Data: data, Err: execErr})
	}

	schemaErr := false
	for _, o := range result.SchemaOutcomes {
		if o.Err != nil {
			schemaErr = true
		}
	}

	for i := range sample.Expected.Assertions {
		result.Assertions = append(result.Assertions, r.evalAssertion(ctx, st, &sample.Expected.Assertions[i]))
	}

	if sample.Expected.Ranking != nil {
		result.Ranking = r.evalRanking(ctx, eng, sample, result.SchemaOutcomes, sample.Expected.Ranking)
	}

	for _, block := range sample.Expected.Triggers {
		result.Triggers = append(result.Triggers, r.evalTriggerBlock(ctx, st, vc, &block))
	}

	result.Duration = time.Since(start)
	result.Passed = !schemaErr &&
		len(result.PrerequisiteErrs) == 0 &&
		allAssertionsPassed(result.Assertions) &&
		(result.Ranking == nil || result.Ranking.Passed) &&
		allTriggersPassed(result.Triggers)
	return result
}

// openSandbox returns a fresh sandbox database path, seeded from the
// sample's init_db snapshot when one is named (§4.6 item 1, Open Question
// 3: .sql script tried before .db file copy).
func (r *Runner) openSandbox(initDB string) (path string, cleanup func(), err error) {
	if err := os.MkdirAll(r.cfg.SandboxDir, 0755); err != nil {
		return "", nil, fmt.Errorf("runner: create sandbox dir: %w", err)
	}
	f, err := os.CreateTemp(r.cfg.SandboxDir, "sandbox-*.db")
	if err != nil {
		return "", nil, fmt.Errorf("runner: create sandbox file: %w", err)
	}
	path = f.Name()
	f.Close()
	os.Remove(path)

	cleanup = func() {
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			os.Remove(path + suffix)
		}
	}

	if initDB == "" {
		return path, cleanup, nil
	}

	sqlPath := filepath.Join(r.cfg.SnapshotDir, initDB+".sql")
	if data, readErr := os.ReadFile(sqlPath); readErr == nil {
		st, openErr := sqlite.Open(path)
		if openErr != nil {
			cleanup()
			return "", nil, fmt.Errorf("runner: open sandbox for init_db %q: %w", initDB, openErr)
		}
		_, execErr := st.DB().Exec(string(data))
		st.Close()
		if execErr != nil {
			cleanup()
			return "", nil, fmt.Errorf("runner: run init_db script %q: %w", initDB, execErr)
		}
		return path, cleanup, nil
	}

	dbPath := filepath.Join(r.cfg.SnapshotDir, initDB+".db")
	if data, readErr := os.ReadFile(dbPath); readErr == nil {
		if err := os.WriteFile(path, data, 0644); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("runner: copy init_db snapshot %q: %w", initDB, err)
		}
		return path, cleanup, nil
	}

	cleanup()
	return "", nil, fmt.Errorf("runner: no snapshot named %q found (.sql or .db) in %s", initDB, r.cfg.SnapshotDir)
}

// evalNow derives the virtual clock's starting instant from
// expected.meta.eval_time_utc, defaulting to wall time when absent (§4.6
// item 2).
func evalNow(evalTimeUTC string) (time.Time, error) {
	if evalTimeUTC == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, evalTimeUTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("runner: invalid eval_time_utc %q: %w", evalTimeUTC, err)
	}
	return t, nil
}

func (r *Runner) evalAssertion(ctx context.Context, st *sqlite.Store, spec *t2m.AssertionSpec) AssertionOutcome {
	compiled, err := assertion.Compile(spec)
	if err != nil {
		return AssertionOutcome{Name: spec.Name, Passed: false, Message: err.Error()}
	}
	res := assertion.Run(ctx, st.DB(), compiled)
	if res.Err != nil {
		return AssertionOutcome{Name: spec.Name, Passed: false, Message: res.Err.Error(), Got: res.Got, Want: res.Want}
	}
	return AssertionOutcome{Name: spec.Name, Passed: res.Passed, Got: res.Got, Want: res.Want}
}

func (r *Runner) evalTriggerBlock(ctx context.Context, st *sqlite.Store, vc *clock.VirtualClock, block *t2m.TriggerBlock) TriggerBlockOutcome {
	if err := vc.Advance(block.Advance); err != nil {
		return TriggerBlockOutcome{Advance: block.Advance, Assertions: []AssertionOutcome{
			{Name: "advance", Passed: false, Message: err.Error()},
		}}
	}
	out := TriggerBlockOutcome{Advance: block.Advance}
	for i := range block.Assertions {
		out.Assertions = append(out.Assertions, r.evalAssertion(ctx, st, &block.Assertions[i]))
	}
	return out
}

// evalRanking evaluates a sample's ranking check (§4.6 item 6): reuses the
// engine's own retrieve result when the schema_list's retrieve targeted a
// filter, otherwise re-runs a fresh search-based Retrieve built from the
// ranking spec's query and topk.
func (r *Runner) evalRanking(ctx context.Context, eng *engine.Engine, sample *t2m.GenerationSample, schemaOutcomes []OpOutcome, spec *t2m.RankingSpec) *RankingOutcome {
	var retrievedIDs []string

	primaryIdx := findRetrieveIndex(sample.SchemaList)
	usedSearch := primaryIdx >= 0 && sample.SchemaList[primaryIdx].Target != nil && sample.SchemaList[primaryIdx].Target.Search != nil

	if primaryIdx >= 0 && !usedSearch {
		retrievedIDs = idsFromResultMap(schemaOutcomes[primaryIdx].Data)
	} else {
		k := spec.TopK
		instr := t2m.IR{
			Stage: t2m.StageRET,
			Op:    t2m.OpRetrieve,
			Target: &t2m.TargetSpec{Search: &t2m.SearchSpec{
				Intent: t2m.SearchIntent{Query: spec.Query},
				Limit:  &k,
			}},
		}
		data, err := eng.Execute(ctx, &instr)
		if err != nil {
			return &RankingOutcome{Passed: false, Message: fmt.Sprintf("ranking retrieve failed: %v", err)}
		}
		retrievedIDs = idsFromResultMap(data)
	}

	if spec.TopK > 0 && len(retrievedIDs) > spec.TopK {
		retrievedIDs = retrievedIDs[:spec.TopK]
	}

	hits, missed, extras := diffIDs(retrievedIDs, spec.GoldIDs)

	var precision, recall float64
	if len(retrievedIDs) > 0 {
		precision = float64(len(hits)) / float64(len(retrievedIDs))
	}
	if len(spec.GoldIDs) > 0 {
		recall = float64(len(hits)) / float64(len(spec.GoldIDs))
	} else {
		recall = 1
	}

	passed := len(hits) >= spec.MinHits && (spec.AllowExtra || len(extras) == 0)

	out := &RankingOutcome{
		Hits: hits, Missed: missed, Extras: extras,
		Precision: precision, Recall: recall, Passed: passed,
	}

	if !passed && r.cfg.MockRankingDowngrade && r.usingMockEmbedding() {
		out.Passed = true
		out.Downgraded = true
		out.Message = "ranking check downgraded to warning: embedding provider is mock, similarity is not meaningful"
	}
	return out
}

func (r *Runner) usingMockEmbedding() bool {
	_, ok := r.cfg.Embedding.(*llmprovider.Mock)
	return ok
}

func findRetrieveIndex(schemaList []t2m.IR) int {
	for i := range schemaList {
		if schemaList[i].Op == t2m.OpRetrieve {
			return i
		}
	}
	return -1
}

func idsFromResultMap(data map[string]interface{}) []string {
	raw, ok := data["results"].([]map[string]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, m := range raw {
		switch v := m["id"].(type) {
		case int64:
			ids = append(ids, strconv.FormatInt(v, 10))
		case int:
			ids = append(ids, strconv.Itoa(v))
		case float64:
			ids = append(ids, strconv.FormatInt(int64(v), 10))
		case string:
			ids = append(ids, v)
		}
	}
	return ids
}

func diffIDs(retrieved, gold []string) (hits, missed, extras []string) {
	goldSet := map[string]bool{}
	for _, g := range gold {
		goldSet[g] = true
	}
	retrievedSet := map[string]bool{}
	for _, id := range retrieved {
		retrievedSet[id] = true
		if goldSet[id] {
			hits = append(hits, id)
		} else {
			extras = append(extras, id)
		}
	}
	for _, g := range gold {
		if !retrievedSet[g] {
			missed = append(missed, g)
		}
	}
	sort.Strings(hits)
	sort.Strings(missed)
	sort.Strings(extras)
	return hits, missed, extras
}

func allAssertionsPassed(outs []AssertionOutcome) bool {
	for _, o := range outs {
		if !o.Passed {
			return false
		}
	}
	return true
}

func allTriggersPassed(blocks []TriggerBlockOutcome) bool {
	for _, b := range blocks {
		if !allAssertionsPassed(b.Assertions) {
			return false
		}
	}
	return true
}
