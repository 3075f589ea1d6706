package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/docuseek/docuseek/internal/pkg/textutil"
)

// MemoryIndex 是进程内的暴力检索实现，用于测试与开发环境。
//
// 记录保留首次写入时的槽位：覆盖写入更新内容但不改变顺序，使得
// 距离相同时的排序结果稳定可复现。
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   []*IndexEntry
	slots     map[string]int // ChunkID -> entries 下标
}

var _ VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex 创建内存向量索引。
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		slots: make(map[string]int),
	}
}

// CreateCollection 记录集合维度，幂等。
func (m *MemoryIndex) CreateCollection(_ context.Context, cfg *CollectionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimension = cfg.Dimension
	return nil
}

// Add 批量写入分块记录（upsert 语义）。
func (m *MemoryIndex) Add(_ context.Context, entries []*IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if m.dimension > 0 && len(e.Embedding) != m.dimension {
			return fmt.Errorf("向量维度不匹配: 期望 %d，实际 %d", m.dimension, len(e.Embedding))
		}

		cp := *e
		if slot, ok := m.slots[e.ChunkID]; ok {
			m.entries[slot] = &cp
			continue
		}
		m.slots[e.ChunkID] = len(m.entries)
		m.entries = append(m.entries, &cp)
	}
	return nil
}

// Query 返回与查询向量最接近的 k 条候选，距离相同时按写入顺序排序。
func (m *MemoryIndex) Query(_ context.Context, vector []float32, k int) ([]*Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		slot      int
		candidate *Candidate
	}

	results := make([]scored, 0, len(m.entries))
	for slot, e := range m.entries {
		results = append(results, scored{
			slot: slot,
			candidate: &Candidate{
				ChunkID:       e.ChunkID,
				Distance:      textutil.CosineDistance(vector, e.Embedding),
				Content:       e.Content,
				DocumentID:    e.DocumentID,
				DocumentName:  e.DocumentName,
				FileType:      e.FileType,
				SequenceIndex: e.SequenceIndex,
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].candidate.Distance != results[j].candidate.Distance {
			return results[i].candidate.Distance < results[j].candidate.Distance
		}
		return results[i].slot < results[j].slot
	})

	if k < 0 {
		k = 0
	}
	if k > len(results) {
		k = len(results)
	}
	candidates := make([]*Candidate, k)
	for i := 0; i < k; i++ {
		candidates[i] = results[i].candidate
	}
	return candidates, nil
}

// Remove 删除指定的分块。
func (m *MemoryIndex) Remove(_ context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		drop[id] = true
	}
	m.compact(func(e *IndexEntry) bool { return drop[e.ChunkID] })
	return nil
}

// RemoveByDocument 删除文档的全部分块。
func (m *MemoryIndex) RemoveByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.compact(func(e *IndexEntry) bool { return e.DocumentID == documentID })
	return nil
}

// compact 移除命中谓词的记录并重建槽位映射，保持剩余记录的相对顺序。
func (m *MemoryIndex) compact(match func(*IndexEntry) bool) {
	kept := m.entries[:0]
	slots := make(map[string]int, len(m.entries))
	for _, e := range m.entries {
		if match(e) {
			continue
		}
		slots[e.ChunkID] = len(kept)
		kept = append(kept, e)
	}
	m.entries = kept
	m.slots = slots
}

// Entries 返回全部记录的快照，按写入顺序排列。
func (m *MemoryIndex) Entries() []*IndexEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make([]*IndexEntry, len(m.entries))
	for i, e := range m.entries {
		cp := *e
		snapshot[i] = &cp
	}
	return snapshot
}

// Stats 返回索引中的分块总数。
func (m *MemoryIndex) Stats(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

// Close 实现 VectorIndex 接口，无资源需要释放。
func (m *MemoryIndex) Close(_ context.Context) error {
	return nil
}
