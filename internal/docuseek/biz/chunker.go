package biz

import (
	"fmt"

	"github.com/docuseek/docuseek/internal/model"
	"github.com/docuseek/docuseek/internal/pkg/textutil"
)

// Chunker 将文档文本切分为固定大小的重叠分块。
//
// 分块窗口按 Unicode 字符计数：第 i 个分块覆盖 [cursor, cursor+size)，
// 下一个游标前进 size-overlap。偏移量为原文中的 rune 位置，分块序号
// 在单次切分内从 0 连续递增。
type Chunker struct {
	size    int
	overlap int
}

// NewChunker 创建分块器。size 必须为正，overlap 必须非负且小于 size。
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must be non-negative, got %d", ErrInvalidConfig, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than size %d", ErrInvalidConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size 返回分块大小。
func (c *Chunker) Size() int {
	return c.size
}

// Overlap 返回相邻分块的重叠长度。
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Chunk 切分文档文本。空文本返回空切片。
// 分块 ID 由文档 ID 和序号确定性生成，重复切分产生相同的 ID 集合。
func (c *Chunker) Chunk(documentID, text string) []model.Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	step := c.size - c.overlap

	var chunks []model.Chunk
	for cursor := 0; cursor < len(runes); cursor += step {
		end := cursor + c.size
		if end > len(runes) {
			end = len(runes)
		}

		seq := len(chunks)
		chunks = append(chunks, model.Chunk{
			ID:            textutil.ChunkID(documentID, seq),
			DocumentID:    documentID,
			Text:          string(runes[cursor:end]),
			StartOffset:   cursor,
			EndOffset:     end,
			SequenceIndex: seq,
		})

		if end == len(runes) {
			break
		}
	}

	return chunks
}
