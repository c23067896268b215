package ir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/text2mem/benchctl/internal/ir"
	"github.com/text2mem/benchctl/internal/t2m"
)

func TestValidate_EncodeOK(t *testing.T) {
	r := &t2m.IR{
		Stage: t2m.StageENC,
		Op:    t2m.OpEncode,
		Args:  &t2m.EncodeArgs{Payload: t2m.Payload{Text: "hi"}},
	}
	assert.NoError(t, ir.Validate(r))
}

func TestValidate_WrongStage(t *testing.T) {
	r := &t2m.IR{
		Stage: t2m.StageSTO,
		Op:    t2m.OpEncode,
		Args:  &t2m.EncodeArgs{Payload: t2m.Payload{Text: "hi"}},
	}
	assert.Error(t, ir.Validate(r))
}

func TestValidate_AllWithoutConfirmation(t *testing.T) {
	r := &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpDelete,
		Target: &t2m.TargetSpec{All: true},
		Args:   &t2m.DeleteArgs{Soft: true},
	}
	err := ir.Validate(r)
	assert.Error(t, err)
}

func TestValidate_AllWithConfirmation(t *testing.T) {
	r := &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpDelete,
		Target: &t2m.TargetSpec{All: true},
		Args:   &t2m.DeleteArgs{Soft: true},
		Meta:   &t2m.Meta{Confirmation: true},
	}
	assert.NoError(t, ir.Validate(r))
}

func TestValidate_UpdateRejectsEmbeddingWrite(t *testing.T) {
	r := &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpUpdate,
		Target: &t2m.TargetSpec{IDs: []string{"1"}},
		Args:   &t2m.UpdateArgs{Fields: map[string]interface{}{"embedding": []float64{1, 2}}},
	}
	err := ir.Validate(r)
	assert.Error(t, err)
}

func TestValidate_MissingTarget(t *testing.T) {
	r := &t2m.IR{
		Stage: t2m.StageSTO,
		Op:    t2m.OpLock,
		Args:  &t2m.LockArgs{Mode: t2m.LockReadOnly},
	}
	assert.Error(t, ir.Validate(r))
}
