package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/engine"
	"github.com/text2mem/benchctl/internal/llmprovider"
	"github.com/text2mem/benchctl/internal/store/sqlite"
	"github.com/text2mem/benchctl/internal/t2m"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(t *testing.T) (*engine.Engine, *sqlite.Store) {
	t.Helper()
	s := openTestStore(t)
	gen := llmprovider.NewMock("mock-gen", 0, nil)
	embed := llmprovider.NewMock("mock-embed", 4, nil)
	return engine.New(s, gen, embed), s
}

func insertRecord(t *testing.T, eng *engine.Engine, text string, tags []string) int64 {
	t.Helper()
	ctx := context.Background()
	res, err := eng.Execute(ctx, &t2m.IR{
		Stage: t2m.StageENC,
		Op:    t2m.OpEncode,
		Args:  &t2m.EncodeArgs{Payload: t2m.Payload{Text: text}, Tags: tags},
	})
	require.NoError(t, err)
	id, ok := res["inserted_id"].(int64)
	require.True(t, ok)
	return id
}

func idTarget(ids ...int64) *t2m.TargetSpec {
	ss := make([]string, len(ids))
	for i, id := range ids {
		ss[i] = fmtInt(id)
	}
	return &t2m.TargetSpec{IDs: ss}
}

func fmtInt(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestEncode_InsertsWithEmbedding(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage: t2m.StageENC,
		Op:    t2m.OpEncode,
		Args: &t2m.EncodeArgs{
			Payload: t2m.Payload{Text: "alpha project kickoff notes"},
			Tags:    []string{"proj"},
			Subject: "alpha",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res["embedding_dim"])
	assert.Equal(t, "mock", res["embedding_provider"])

	id := res["inserted_id"].(int64)
	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alpha project kickoff notes", m.Text)
	assert.Equal(t, "alpha", m.Facets.Subject)
	assert.Equal(t, t2m.CategoryGeneric, m.Type)
}

func TestEncode_SkipEmbeddingLeavesNoVector(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage: t2m.StageENC,
		Op:    t2m.OpEncode,
		Args:  &t2m.EncodeArgs{Payload: t2m.Payload{Text: "skip me"}, SkipEmbedding: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res["embedding_dim"])
	assert.Equal(t, "", res["embedding_provider"])
}

func TestRetrieve_ByIDsReturnsRecord(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	id := insertRecord(t, eng, "retrievable note", nil)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageRET,
		Op:     t2m.OpRetrieve,
		Target: idTarget(id),
		Args:   &t2m.RetrieveArgs{},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["count"])
	results := res["results"].([]map[string]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "retrievable note", results[0]["text"])
}

func TestSummarize_CallsGenerationWithSourceIDs(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	id1 := insertRecord(t, eng, "first memory", nil)
	id2 := insertRecord(t, eng, "second memory", nil)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageRET,
		Op:     t2m.OpSummarize,
		Target: idTarget(id1, id2),
		Args:   &t2m.SummarizeArgs{Focus: "project status"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res["count"])
	assert.Equal(t, "mock-gen", res["model"])
	ids, ok := res["source_ids"].([]int64)
	require.True(t, ok)
	assert.ElementsMatch(t, []int64{id1, id2}, ids)
}

func TestUpdate_WritesWhitelistedFieldsAndClampsWeight(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "original text", nil)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpUpdate,
		Target: idTarget(id),
		Args: &t2m.UpdateArgs{Fields: map[string]interface{}{
			"text":   "revised text",
			"weight": 5.0,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["affected_rows"])

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "revised text", m.Text)
	assert.Equal(t, 1.0, m.Weight)
}

func TestUpdate_SkipsRowsLockedNoWrite(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "locked text", nil)

	_, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpLock,
		Target: idTarget(id),
		Args:   &t2m.LockArgs{Mode: t2m.LockReadOnly},
	})
	require.NoError(t, err)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpUpdate,
		Target: idTarget(id),
		Args:   &t2m.UpdateArgs{Fields: map[string]interface{}{"text": "should not apply"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res["affected_rows"])

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "locked text", m.Text)
}

func TestDelete_SoftDeleteHidesRecord(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "to delete", nil)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpDelete,
		Target: idTarget(id),
		Args:   &t2m.DeleteArgs{Soft: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["affected_rows"])

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.Deleted)
	assert.Equal(t, t2m.StateDeleted, m.State)
}

func TestLabel_AppendsTagsAndMergesFacets(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "labeled note", []string{"existing"})

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpLabel,
		Target: idTarget(id),
		Args: &t2m.LabelArgs{
			Tags:      []string{"new-tag"},
			TagPolicy: t2m.TagAppend,
			Facets:    map[string]interface{}{"subject": "labeling"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["affected_rows"])

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"existing", "new-tag"}, m.Tags)
	assert.Equal(t, "labeling", m.Facets.Subject)
}

func TestPromote_SetsAbsoluteWeight(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "promote me", nil)

	weight := 0.8
	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpPromote,
		Target: idTarget(id),
		Args:   &t2m.PromoteDemoteArgs{Weight: &weight},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["affected_rows"])

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.8, m.Weight)
}

func TestDemote_ArchiveDrivesWeightToZero(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "demote me", nil)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpDemote,
		Target: idTarget(id),
		Args:   &t2m.PromoteDemoteArgs{Archive: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["affected_rows"])

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Weight)
}

func TestMerge_CombinesChildrenIntoPrimary(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id1 := insertRecord(t, eng, "first half", []string{"a"})
	id2 := insertRecord(t, eng, "second half", []string{"b"})

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpMerge,
		Target: idTarget(id1, id2),
		Args:   &t2m.MergeArgs{PrimaryID: fmtInt(id1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(id1), res["primary_id"])
	assert.Equal(t, 2, res["affected_rows"])

	primary, err := s.Get(ctx, id1)
	require.NoError(t, err)
	assert.Contains(t, primary.Text, "first half")
	assert.Contains(t, primary.Text, "second half")
	assert.ElementsMatch(t, []string{"a", "b"}, primary.Tags)
	assert.Contains(t, primary.LineageParents, id2)

	child, err := s.Get(ctx, id2)
	require.NoError(t, err)
	assert.True(t, child.Deleted)
	assert.Contains(t, child.LineageChildren, id1)
}

func TestSplit_BySentencesCreatesLinkedChildren(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "First sentence here. Second sentence follows. Third one closes it.", nil)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpSplit,
		Target: idTarget(id),
		Args: &t2m.SplitArgs{
			Strategy: t2m.SplitBySentences,
			Params:   t2m.SplitParams{BySentences: &t2m.BySentencesParams{MaxSentences: 1}},
		},
	})
	require.NoError(t, err)
	childIDs, ok := res["child_ids"].([]int64)
	require.True(t, ok)
	assert.Len(t, childIDs, 3)

	parent, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, childIDs, parent.LineageChildren)

	child, err := s.Get(ctx, childIDs[0])
	require.NoError(t, err)
	assert.Contains(t, child.Tags, "split_from_"+fmtInt(id))
	assert.Contains(t, child.LineageParents, id)
}

func TestLock_ReadOnlySetsNoWritePermission(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "lockable", nil)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpLock,
		Target: idTarget(id),
		Args:   &t2m.LockArgs{Mode: t2m.LockReadOnly, Reason: "frozen for audit"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["affected_rows"])

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, t2m.StateLocked, m.State)
	assert.Equal(t, t2m.PermLockedNoWrite, m.WritePermLevel)
	assert.Equal(t, "frozen for audit", m.LockReason)
}

func TestExpire_SchedulesExpiryWithoutReaping(t *testing.T) {
	ctx := context.Background()
	eng, s := newTestEngine(t)
	id := insertRecord(t, eng, "expiring soon", nil)

	res, err := eng.Execute(ctx, &t2m.IR{
		Stage:  t2m.StageSTO,
		Op:     t2m.OpExpire,
		Target: idTarget(id),
		Args:   &t2m.ExpireArgs{TTL: "1d", OnExpire: t2m.ExpireSoftDelete},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["affected_rows"])

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, m.ExpireAt)
	assert.True(t, m.ExpireAt.After(time.Now()))
	assert.Equal(t, t2m.ExpireSoftDelete, m.ExpireAction)
	assert.Equal(t, t2m.StateFresh, m.State)
}
