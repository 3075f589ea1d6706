package biz

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunkerInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"零大小", 0, 0},
		{"负大小", -1, 0},
		{"负重叠", 10, -1},
		{"重叠等于大小", 10, 10},
		{"重叠大于大小", 10, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.size, tt.overlap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestChunkFixedWindow(t *testing.T) {
	c, err := NewChunker(4, 1)
	require.NoError(t, err)

	chunks := c.Chunk("doc-1", "ABCDEFGHIJ")
	require.Len(t, chunks, 3)

	assert.Equal(t, "ABCD", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 4, chunks[0].EndOffset)

	assert.Equal(t, "DEFG", chunks[1].Text)
	assert.Equal(t, 3, chunks[1].StartOffset)
	assert.Equal(t, 7, chunks[1].EndOffset)

	assert.Equal(t, "GHIJ", chunks[2].Text)
	assert.Equal(t, 6, chunks[2].StartOffset)
	assert.Equal(t, 10, chunks[2].EndOffset)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.SequenceIndex)
		assert.Equal(t, "doc-1", ch.DocumentID)
		assert.NotEmpty(t, ch.ID)
	}
}

func TestChunkDefaults(t *testing.T) {
	c, err := NewChunker(1000, 200)
	require.NoError(t, err)

	text := strings.Repeat("a", 5000)
	chunks := c.Chunk("doc-1", text)
	require.Len(t, chunks, 6)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.SequenceIndex)
		assert.Equal(t, i*800, ch.StartOffset)
	}
	assert.Equal(t, 5000, chunks[5].EndOffset)
}

func TestChunkReconstruction(t *testing.T) {
	c, err := NewChunker(7, 3)
	require.NoError(t, err)

	text := "The quick brown fox jumps over the lazy dog"
	chunks := c.Chunk("doc-1", text)
	require.NotEmpty(t, chunks)

	// 去掉每个后续分块的重叠前缀后拼接应还原原文
	runes := []rune(text)
	var sb strings.Builder
	sb.WriteString(chunks[0].Text)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		cur := chunks[i]
		assert.True(t, cur.StartOffset < prev.EndOffset, "相邻分块应重叠")
		skip := prev.EndOffset - cur.StartOffset
		sb.WriteString(string([]rune(cur.Text)[skip:]))
	}
	assert.Equal(t, string(runes), sb.String())

	// 每个分块文本与偏移量一致
	for _, ch := range chunks {
		assert.Equal(t, string(runes[ch.StartOffset:ch.EndOffset]), ch.Text)
	}
}

func TestChunkIdempotent(t *testing.T) {
	c, err := NewChunker(4, 1)
	require.NoError(t, err)

	first := c.Chunk("doc-1", "ABCDEFGHIJ")
	second := c.Chunk("doc-1", "ABCDEFGHIJ")
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestChunkEmptyText(t *testing.T) {
	c, err := NewChunker(4, 1)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk("doc-1", ""))
}

func TestChunkShortText(t *testing.T) {
	c, err := NewChunker(100, 20)
	require.NoError(t, err)

	chunks := c.Chunk("doc-1", "short")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 5, chunks[0].EndOffset)
}

func TestChunkUnicodeOffsets(t *testing.T) {
	c, err := NewChunker(3, 1)
	require.NoError(t, err)

	chunks := c.Chunk("doc-1", "你好世界再见")
	require.Len(t, chunks, 3)
	assert.Equal(t, "你好世", chunks[0].Text)
	assert.Equal(t, "世界再", chunks[1].Text)
	assert.Equal(t, "再见", chunks[2].Text)
	assert.Equal(t, 4, chunks[2].StartOffset)
	assert.Equal(t, 6, chunks[2].EndOffset)
}
