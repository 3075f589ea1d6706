// Package store 提供分块向量索引的存储抽象。
package store

import (
	"context"
)

// IndexEntry 是写入向量索引的一条分块记录。
// 元数据随向量一并冗余存储，检索时无需回表。
type IndexEntry struct {
	ChunkID       string
	Embedding     []float32
	Content       string
	DocumentID    string
	DocumentName  string
	FileType      string
	SequenceIndex int
	StartOffset   int
	EndOffset     int
}

// Candidate 是相似度检索返回的一条候选结果。
// Distance 为余弦距离，越小越相似。
type Candidate struct {
	ChunkID       string
	Distance      float64
	Content       string
	DocumentID    string
	DocumentName  string
	FileType      string
	SequenceIndex int
}

// CollectionConfig 描述向量集合。
type CollectionConfig struct {
	// Name 集合名称。
	Name string
	// Dimension 向量维度。
	Dimension int
}

// VectorIndex 定义向量索引的统一接口。
//
// Add 以 ChunkID 为主键执行覆盖写入：重复的 ChunkID 更新内容而不产生
// 重复记录。Query 按余弦距离升序返回候选，距离相同时按写入顺序排序。
type VectorIndex interface {
	// CreateCollection 创建集合，幂等。
	CreateCollection(ctx context.Context, cfg *CollectionConfig) error

	// Add 批量写入分块记录（upsert 语义）。
	Add(ctx context.Context, entries []*IndexEntry) error

	// Query 返回与查询向量最接近的 k 条候选。
	Query(ctx context.Context, vector []float32, k int) ([]*Candidate, error)

	// Remove 删除指定的分块。
	Remove(ctx context.Context, chunkIDs []string) error

	// RemoveByDocument 删除文档的全部分块。
	RemoveByDocument(ctx context.Context, documentID string) error

	// Stats 返回索引中的分块总数。
	Stats(ctx context.Context) (int64, error)

	// Close 释放底层资源。
	Close(ctx context.Context) error
}
