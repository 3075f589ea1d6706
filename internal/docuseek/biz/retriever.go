package biz

import (
	"context"
	"fmt"
	"sort"

	"github.com/kart-io/logger"

	"github.com/docuseek/docuseek/internal/docuseek/store"
	"github.com/docuseek/docuseek/internal/model"
	"github.com/docuseek/docuseek/internal/pkg/textutil"
)

// overFetchFactor 从索引多取候选，阈值过滤后仍可能凑满 topK。
const overFetchFactor = 2

// Retriever 负责相似度检索与相关性过滤。
type Retriever struct {
	index store.VectorIndex
}

// NewRetriever 创建检索器。
func NewRetriever(index store.VectorIndex) *Retriever {
	return &Retriever{index: index}
}

// Retrieve 返回与查询向量最相关的至多 topK 个分块。
//
// 候选按相似度（1 - 余弦距离，截断到 [0,1]）降序排列，低于 threshold
// 的候选被丢弃。相似度相同时按分块序号升序、再按分块 ID 升序排序，
// 保证结果确定性。空结果不是错误。
func (r *Retriever) Retrieve(ctx context.Context, embedding []float32, topK int, threshold float64) ([]*model.RetrievalResult, error) {
	candidates, err := r.index.Query(ctx, embedding, topK*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("检索失败: %w", err)
	}

	results := make([]*model.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		similarity := textutil.DistanceToSimilarity(c.Distance)
		if similarity < threshold {
			continue
		}
		results = append(results, &model.RetrievalResult{
			ChunkID:       c.ChunkID,
			Text:          c.Content,
			Similarity:    similarity,
			DocumentID:    c.DocumentID,
			DocumentName:  c.DocumentName,
			FileType:      c.FileType,
			SequenceIndex: c.SequenceIndex,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].SequenceIndex != results[j].SequenceIndex {
			return results[i].SequenceIndex < results[j].SequenceIndex
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	logger.Infow("retrieval completed",
		"candidates", len(candidates),
		"returned", len(results),
		"top_k", topK,
		"threshold", threshold,
	)

	return results, nil
}
