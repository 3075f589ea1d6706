package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	idx := NewMemoryIndex()
	require.NoError(t, idx.CreateCollection(context.Background(), &CollectionConfig{
		Name:      "test",
		Dimension: 2,
	}))
	return idx
}

func entry(chunkID, docID string, seq int, embedding []float32) *IndexEntry {
	return &IndexEntry{
		ChunkID:       chunkID,
		DocumentID:    docID,
		SequenceIndex: seq,
		Content:       "content-" + chunkID,
		Embedding:     embedding,
	}
}

func TestMemoryIndexQueryOrdering(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []*IndexEntry{
		entry("c1", "d1", 0, []float32{1, 0}),    // 与查询向量相同
		entry("c2", "d1", 1, []float32{0, 1}),    // 正交
		entry("c3", "d1", 2, []float32{0.9, 0.1}), // 接近
	}))

	candidates, err := idx.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "c1", candidates[0].ChunkID)
	assert.Equal(t, "c3", candidates[1].ChunkID)
	assert.Equal(t, "c2", candidates[2].ChunkID)
	assert.InDelta(t, 0, candidates[0].Distance, 1e-9)
	assert.True(t, candidates[0].Distance <= candidates[1].Distance)
	assert.True(t, candidates[1].Distance <= candidates[2].Distance)
}

func TestMemoryIndexTieBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	// 两条记录与查询向量的距离完全相同
	require.NoError(t, idx.Add(ctx, []*IndexEntry{
		entry("second", "d1", 1, []float32{2, 0}),
		entry("first", "d1", 0, []float32{3, 0}),
	}))

	candidates, err := idx.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// 距离相同时按写入顺序
	assert.Equal(t, "second", candidates[0].ChunkID)
	assert.Equal(t, "first", candidates[1].ChunkID)
}

func TestMemoryIndexUpsertKeepsSlot(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []*IndexEntry{
		entry("a", "d1", 0, []float32{1, 0}),
		entry("b", "d1", 1, []float32{1, 0}),
	}))

	// 覆盖写入 a，更新内容但保持槽位
	updated := entry("a", "d1", 0, []float32{1, 0})
	updated.Content = "updated"
	require.NoError(t, idx.Add(ctx, []*IndexEntry{updated}))

	count, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	candidates, err := idx.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a", candidates[0].ChunkID)
	assert.Equal(t, "updated", candidates[0].Content)
	assert.Equal(t, "b", candidates[1].ChunkID)
}

func TestMemoryIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	err := idx.Add(ctx, []*IndexEntry{entry("a", "d1", 0, []float32{1, 0, 0})})
	require.Error(t, err)
}

func TestMemoryIndexRemove(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []*IndexEntry{
		entry("a", "d1", 0, []float32{1, 0}),
		entry("b", "d1", 1, []float32{0, 1}),
		entry("c", "d2", 0, []float32{1, 1}),
	}))

	require.NoError(t, idx.Remove(ctx, []string{"b"}))
	count, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// 删除不存在的分块不报错
	require.NoError(t, idx.Remove(ctx, []string{"missing"}))
}

func TestMemoryIndexRemoveByDocument(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []*IndexEntry{
		entry("a", "d1", 0, []float32{1, 0}),
		entry("b", "d1", 1, []float32{0, 1}),
		entry("c", "d2", 0, []float32{1, 1}),
	}))

	require.NoError(t, idx.RemoveByDocument(ctx, "d1"))

	count, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	candidates, err := idx.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "c", candidates[0].ChunkID)
}

func TestMemoryIndexQueryNonPositiveK(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []*IndexEntry{
		entry("a", "d1", 0, []float32{1, 0}),
		entry("b", "d1", 1, []float32{0, 1}),
	}))

	candidates, err := idx.Query(ctx, []float32{1, 0}, -1)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	candidates, err = idx.Query(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestMemoryIndexQueryEmpty(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	candidates, err := idx.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
