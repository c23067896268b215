package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/runner"
	"github.com/text2mem/benchctl/internal/t2m"
)

func testConfig(t *testing.T) runner.Config {
	t.Helper()
	return runner.Config{
		SandboxDir: t.TempDir(),
		Generation: llmprovider.NewMock("mock-gen", 0, nil),
		Embedding:  llmprovider.NewMock("mock-embed", 8, nil),
	}
}

func encodeIR(text string) t2m.IR {
	return t2m.IR{
		Stage: t2m.StageENC,
		Op:    t2m.OpEncode,
		Args:  &t2m.EncodeArgs{Payload: t2m.Payload{Text: text}, Type: t2m.CategoryNote},
	}
}

func TestRun_PassesWhenAssertionHolds(t *testing.T) {
	r := runner.New(testConfig(t))

	sample := &t2m.GenerationSample{
		ID:         "t2m-en-direct-single-enc-001",
		SchemaList: []t2m.IR{encodeIR("remember to water the plants")},
		Expected: t2m.Expected{
			Assertions: []t2m.AssertionSpec{
				{
					Name:   "one_note_exists",
					Select: t2m.SelectSpec{From: "memory", Agg: "count"},
					Expect: t2m.ExpectSpec{Op: t2m.CmpEQ, Value: float64(1)},
				},
			},
		},
	}

	res := r.Run(context.Background(), sample)
	require.NoError(t, res.Err)
	require.False(t, res.TimedOut)
	assert.True(t, res.Passed)
	require.Len(t, res.Assertions, 1)
	assert.True(t, res.Assertions[0].Passed)
}

func TestRun_FailsWhenAssertionMismatches(t *testing.T) {
	r := runner.New(testConfig(t))

	sample := &t2m.GenerationSample{
		ID:         "t2m-en-direct-single-enc-002",
		SchemaList: []t2m.IR{encodeIR("remember to water the plants")},
		Expected: t2m.Expected{
			Assertions: []t2m.AssertionSpec{
				{
					Name:   "expects_two_but_only_one",
					Select: t2m.SelectSpec{From: "memory", Agg: "count"},
					Expect: t2m.ExpectSpec{Op: t2m.CmpEQ, Value: float64(2)},
				},
			},
		},
	}

	res := r.Run(context.Background(), sample)
	require.NoError(t, res.Err)
	assert.False(t, res.Passed)
	require.Len(t, res.Assertions, 1)
	assert.False(t, res.Assertions[0].Passed)
}

func TestRun_PrerequisiteErrorFailsSample(t *testing.T) {
	r := runner.New(testConfig(t))

	badTarget := "not-a-number"
	sample := &t2m.GenerationSample{
		ID: "t2m-en-direct-single-upd-003",
		Prerequisites: []t2m.IR{
			{
				Stage:  t2m.StageSTO,
				Op:     t2m.OpUpdate,
				Target: &t2m.TargetSpec{IDs: []string{badTarget}},
				Args:   &t2m.UpdateArgs{Fields: map[string]interface{}{"weight": 0.5}},
			},
		},
		SchemaList: []t2m.IR{encodeIR("a second note")},
	}

	res := r.Run(context.Background(), sample)
	require.NoError(t, res.Err)
	assert.False(t, res.Passed)
	assert.Len(t, res.PrerequisiteErrs, 1)
}

func TestRun_TriggerAdvancesVirtualClockBeforeAsserting(t *testing.T) {
	r := runner.New(testConfig(t))

	sample := &t2m.GenerationSample{
		ID:         "t2m-en-direct-single-exp-004",
		SchemaList: []t2m.IR{encodeIR("ephemeral reminder")},
		Expected: t2m.Expected{
			Triggers: t2m.TriggerSpec{
				{
					Advance: "PT1H",
					Assertions: []t2m.AssertionSpec{
						{
							Name:   "still_one_row",
							Select: t2m.SelectSpec{From: "memory", Agg: "count"},
							Expect: t2m.ExpectSpec{Op: t2m.CmpEQ, Value: float64(1)},
						},
					},
				},
			},
		},
	}

	res := r.Run(context.Background(), sample)
	require.NoError(t, res.Err)
	assert.True(t, res.Passed)
	require.Len(t, res.Triggers, 1)
	assert.Equal(t, "PT1H", res.Triggers[0].Advance)
	assert.True(t, res.Triggers[0].Assertions[0].Passed)
}

func TestRun_RankingDowngradesUnderMockEmbedding(t *testing.T) {
	cfg := testConfig(t)
	cfg.MockRankingDowngrade = true
	r := runner.New(cfg)

	sample := &t2m.GenerationSample{
		ID: "t2m-en-direct-single-ret-005",
		SchemaList: []t2m.IR{
			encodeIR("alpha project kickoff notes"),
			{
				Stage: t2m.StageRET,
				Op:    t2m.OpRetrieve,
				Target: &t2m.TargetSpec{Search: &t2m.SearchSpec{
					Intent: t2m.SearchIntent{Query: "alpha project"},
				}},
			},
		},
		Expected: t2m.Expected{
			Ranking: &t2m.RankingSpec{
				Query:   "alpha project",
				GoldIDs: []string{"999999"},
				TopK:    5,
				MinHits: 1,
			},
		},
	}

	res := r.Run(context.Background(), sample)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Ranking)
	assert.True(t, res.Ranking.Passed)
	assert.True(t, res.Ranking.Downgraded)
	assert.True(t, res.Passed)
}
