package llmprovider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/llmprovider"
)

type sample struct {
	Instruction string `json:"instruction"`
	Context     string `json:"context"`
}

func TestParseJSON_DirectParse(t *testing.T) {
	var s sample
	err := llmprovider.ParseJSON(`{"instruction":"do x","context":"ctx"}`, &s)
	require.NoError(t, err)
	assert.Equal(t, "do x", s.Instruction)
}

func TestParseJSON_TrailingCommentary(t *testing.T) {
	var s sample
	raw := `{"instruction":"do x","context":"ctx"}` + "\nHope that helps!"
	err := llmprovider.ParseJSON(raw, &s)
	require.NoError(t, err)
	assert.Equal(t, "ctx", s.Context)
}

func TestParseJSON_MarkdownFencedWithTrailingComma(t *testing.T) {
	var s sample
	raw := "```json\n{\"instruction\":\"do x\",\"context\":\"ctx\",}\n```"
	err := llmprovider.ParseJSON(raw, &s)
	require.NoError(t, err)
	assert.Equal(t, "do x", s.Instruction)
}

func TestParseJSON_AutoCompletesMissingBraces(t *testing.T) {
	var s sample
	raw := `{"instruction":"do x","context":"ctx"`
	err := llmprovider.ParseJSON(raw, &s)
	require.NoError(t, err)
	assert.Equal(t, "do x", s.Instruction)
}

func TestParseJSON_Unrepairable(t *testing.T) {
	var s sample
	err := llmprovider.ParseJSON(`not json at all`, &s)
	require.Error(t, err)
}
