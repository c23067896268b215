package t2m_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/t2m"
)

func TestIR_UnmarshalJSON_RoutesArgsByOp(t *testing.T) {
	raw := []byte(`{
		"stage": "ENC",
		"op": "encode",
		"args": {"payload": {"text": "alpha project meeting notes"}, "type": "note", "tags": ["proj"]}
	}`)

	var ir t2m.IR
	require.NoError(t, json.Unmarshal(raw, &ir))

	args, ok := ir.Args.(*t2m.EncodeArgs)
	require.True(t, ok, "expected *EncodeArgs, got %T", ir.Args)
	assert.Equal(t, "alpha project meeting notes", args.Payload.Text)
	assert.Equal(t, t2m.CategoryNote, args.Type)
	assert.Equal(t, []string{"proj"}, args.Tags)
}

func TestIR_MarshalRoundTrip(t *testing.T) {
	orig := t2m.IR{
		Stage: t2m.StageSTO,
		Op:    t2m.OpPromote,
		Target: &t2m.TargetSpec{IDs: []string{"1"}},
		Args:  &t2m.PromoteDemoteArgs{Weight: floatPtr(0.8)},
	}

	b, err := json.Marshal(orig)
	require.NoError(t, err)

	var roundTripped t2m.IR
	require.NoError(t, json.Unmarshal(b, &roundTripped))

	args, ok := roundTripped.Args.(*t2m.PromoteDemoteArgs)
	require.True(t, ok)
	require.NotNil(t, args.Weight)
	assert.Equal(t, 0.8, *args.Weight)
}

func TestStageForOp(t *testing.T) {
	stage, err := t2m.StageForOp(t2m.OpEncode)
	require.NoError(t, err)
	assert.Equal(t, t2m.StageENC, stage)

	stage, err = t2m.StageForOp(t2m.OpRetrieve)
	require.NoError(t, err)
	assert.Equal(t, t2m.StageRET, stage)

	stage, err = t2m.StageForOp(t2m.OpSummarize)
	require.NoError(t, err)
	assert.Equal(t, t2m.StageRET, stage)

	stage, err = t2m.StageForOp(t2m.OpLock)
	require.NoError(t, err)
	assert.Equal(t, t2m.StageSTO, stage)

	_, err = t2m.StageForOp("bogus")
	assert.Error(t, err)
}

func floatPtr(f float64) *float64 { return &f }
