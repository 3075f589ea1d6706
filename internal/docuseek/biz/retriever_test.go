package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuseek/docuseek/internal/docuseek/store"
)

// fakeIndex 返回固定候选列表的索引桩。
type fakeIndex struct {
	store.VectorIndex
	candidates []*store.Candidate
	err        error
	lastK      int
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, k int) ([]*store.Candidate, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	if k > len(f.candidates) {
		k = len(f.candidates)
	}
	return f.candidates[:k], nil
}

func candidate(chunkID string, distance float64, seq int) *store.Candidate {
	return &store.Candidate{
		ChunkID:       chunkID,
		Distance:      distance,
		Content:       "text-" + chunkID,
		DocumentID:    "doc-1",
		DocumentName:  "doc.txt",
		SequenceIndex: seq,
	}
}

func TestRetrieveThresholdFilter(t *testing.T) {
	idx := &fakeIndex{candidates: []*store.Candidate{
		candidate("a", 0.1, 0), // similarity 0.9
		candidate("b", 0.2, 1), // similarity 0.8
		candidate("c", 0.4, 2), // similarity 0.6，低于阈值
	}}
	r := NewRetriever(idx)

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, 5, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "b", results[1].ChunkID)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-9)
	assert.InDelta(t, 0.8, results[1].Similarity, 1e-9)
}

func TestRetrieveOverFetch(t *testing.T) {
	idx := &fakeIndex{}
	r := NewRetriever(idx)

	_, err := r.Retrieve(context.Background(), []float32{1, 0}, 5, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 10, idx.lastK)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	idx := &fakeIndex{candidates: []*store.Candidate{
		candidate("a", 0.0, 0),
		candidate("b", 0.1, 1),
		candidate("c", 0.2, 2),
	}}
	r := NewRetriever(idx)

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "b", results[1].ChunkID)
}

func TestRetrieveTieBreaks(t *testing.T) {
	// 相同相似度：先按序号，再按分块 ID
	idx := &fakeIndex{candidates: []*store.Candidate{
		candidate("z", 0.2, 3),
		candidate("b", 0.2, 1),
		candidate("a", 0.2, 1),
	}}
	r := NewRetriever(idx)

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "b", results[1].ChunkID)
	assert.Equal(t, "z", results[2].ChunkID)
}

func TestRetrieveDeterministic(t *testing.T) {
	idx := &fakeIndex{candidates: []*store.Candidate{
		candidate("a", 0.15, 0),
		candidate("b", 0.15, 1),
		candidate("c", 0.05, 2),
	}}
	r := NewRetriever(idx)

	first, err := r.Retrieve(context.Background(), []float32{1, 0}, 3, 0)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), []float32{1, 0}, 3, 0)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
	}
	assert.Equal(t, "c", first[0].ChunkID)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	r := NewRetriever(&fakeIndex{})

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, 5, 0.7)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveSimilarityClamped(t *testing.T) {
	// 距离大于 1 时相似度截断到 0，低于任何正阈值
	idx := &fakeIndex{candidates: []*store.Candidate{
		candidate("a", 1.5, 0),
	}}
	r := NewRetriever(idx)

	results, err := r.Retrieve(context.Background(), []float32{1, 0}, 5, 0.1)
	require.NoError(t, err)
	assert.Empty(t, results)

	// 阈值为 0 时保留，且相似度不为负
	results, err = r.Retrieve(context.Background(), []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].Similarity)
}
