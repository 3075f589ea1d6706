package store

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/docuseek/docuseek/pkg/component/milvus"
)

// Milvus 集合字段名。
const (
	fieldChunkID       = "chunk_id"
	fieldContent       = "content"
	fieldDocumentID    = "document_id"
	fieldDocumentName  = "document_name"
	fieldFileType      = "file_type"
	fieldSequenceIndex = "sequence_index"
	fieldStartOffset   = "start_offset"
	fieldEndOffset     = "end_offset"
)

var outputFields = []string{
	fieldContent,
	fieldDocumentID,
	fieldDocumentName,
	fieldFileType,
	fieldSequenceIndex,
}

// MilvusIndex 基于 Milvus 实现 VectorIndex。
// 以 chunk_id 作为字符串主键，Upsert 天然具备覆盖写入语义。
type MilvusIndex struct {
	client     *milvus.Client
	collection string
}

var _ VectorIndex = (*MilvusIndex)(nil)

// NewMilvusIndex 创建 Milvus 向量索引。
func NewMilvusIndex(client *milvus.Client, collection string) *MilvusIndex {
	return &MilvusIndex{
		client:     client,
		collection: collection,
	}
}

// CreateCollection 创建集合与索引，幂等。
func (m *MilvusIndex) CreateCollection(ctx context.Context, cfg *CollectionConfig) error {
	schema := &milvus.CollectionSchema{
		Name:        cfg.Name,
		Description: "Document chunks with embeddings",
		PrimaryKey:  fieldChunkID,
		Dimension:   cfg.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: fieldContent, DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: fieldDocumentID, DataType: entity.FieldTypeVarChar, MaxLen: 128},
			{Name: fieldDocumentName, DataType: entity.FieldTypeVarChar, MaxLen: 512},
			{Name: fieldFileType, DataType: entity.FieldTypeVarChar, MaxLen: 16},
			{Name: fieldSequenceIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldStartOffset, DataType: entity.FieldTypeInt64},
			{Name: fieldEndOffset, DataType: entity.FieldTypeInt64},
		},
	}

	if err := m.client.CreateCollection(ctx, schema); err != nil {
		return fmt.Errorf("创建集合失败: %w", err)
	}

	m.collection = cfg.Name
	logger.Infow("milvus collection ready", "collection", cfg.Name, "dimension", cfg.Dimension)
	return nil
}

// Add 批量写入分块记录。
func (m *MilvusIndex) Add(ctx context.Context, entries []*IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	data := &milvus.UpsertData{
		Keys:       make([]string, len(entries)),
		Embeddings: make([][]float32, len(entries)),
		Metadata: map[string][]any{
			fieldContent:       make([]any, len(entries)),
			fieldDocumentID:    make([]any, len(entries)),
			fieldDocumentName:  make([]any, len(entries)),
			fieldFileType:      make([]any, len(entries)),
			fieldSequenceIndex: make([]any, len(entries)),
			fieldStartOffset:   make([]any, len(entries)),
			fieldEndOffset:     make([]any, len(entries)),
		},
	}

	for i, e := range entries {
		data.Keys[i] = e.ChunkID
		data.Embeddings[i] = e.Embedding
		data.Metadata[fieldContent][i] = e.Content
		data.Metadata[fieldDocumentID][i] = e.DocumentID
		data.Metadata[fieldDocumentName][i] = e.DocumentName
		data.Metadata[fieldFileType][i] = e.FileType
		data.Metadata[fieldSequenceIndex][i] = int64(e.SequenceIndex)
		data.Metadata[fieldStartOffset][i] = int64(e.StartOffset)
		data.Metadata[fieldEndOffset][i] = int64(e.EndOffset)
	}

	if err := m.client.Upsert(ctx, m.collection, fieldChunkID, data); err != nil {
		return fmt.Errorf("写入向量失败: %w", err)
	}

	logger.Infow("chunks indexed", "collection", m.collection, "count", len(entries))
	return nil
}

// Query 返回与查询向量最接近的 k 条候选。
// COSINE 索引的得分为相似度，这里统一转换为距离（1 - score）。
func (m *MilvusIndex) Query(ctx context.Context, vector []float32, k int) ([]*Candidate, error) {
	results, err := m.client.Search(ctx, m.collection, vector, k, outputFields)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	candidates := make([]*Candidate, 0, len(results))
	for _, r := range results {
		c := &Candidate{
			ChunkID:  r.Key,
			Distance: 1 - float64(r.Score),
		}
		if v, ok := r.Metadata[fieldContent].(string); ok {
			c.Content = v
		}
		if v, ok := r.Metadata[fieldDocumentID].(string); ok {
			c.DocumentID = v
		}
		if v, ok := r.Metadata[fieldDocumentName].(string); ok {
			c.DocumentName = v
		}
		if v, ok := r.Metadata[fieldFileType].(string); ok {
			c.FileType = v
		}
		if v, ok := r.Metadata[fieldSequenceIndex].(int64); ok {
			c.SequenceIndex = int(v)
		}
		candidates = append(candidates, c)
	}

	return candidates, nil
}

// Remove 删除指定的分块。
func (m *MilvusIndex) Remove(ctx context.Context, chunkIDs []string) error {
	if err := m.client.DeleteByKeys(ctx, m.collection, fieldChunkID, chunkIDs); err != nil {
		return fmt.Errorf("删除分块失败: %w", err)
	}
	return nil
}

// RemoveByDocument 删除文档的全部分块。
func (m *MilvusIndex) RemoveByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`%s == "%s"`, fieldDocumentID, documentID)
	if err := m.client.DeleteByExpr(ctx, m.collection, expr); err != nil {
		return fmt.Errorf("删除文档分块失败: %w", err)
	}

	logger.Infow("document chunks removed", "collection", m.collection, "document_id", documentID)
	return nil
}

// Stats 返回索引中的分块总数。
func (m *MilvusIndex) Stats(ctx context.Context) (int64, error) {
	return m.client.RowCount(ctx, m.collection)
}

// Close 释放底层客户端。
func (m *MilvusIndex) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}
