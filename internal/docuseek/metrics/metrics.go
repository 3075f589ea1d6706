// Package metrics 提供问答服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 问答服务业务指标。
type Metrics struct {
	// 查询指标
	queriesTotal       uint64 // 总查询次数
	queriesCacheHits   uint64 // 缓存命中次数
	queriesCacheMisses uint64 // 缓存未命中次数
	queriesErrors      uint64 // 查询错误次数
	queriesNoContext   uint64 // 无相关上下文的查询次数

	// 检索指标
	retrievalTotal    uint64  // 总检索次数
	retrievalDuration float64 // 检索总耗时（秒）
	retrievalErrors   uint64  // 检索错误次数

	// LLM 调用指标
	llmCallsTotal    uint64  // LLM 总调用次数
	llmCallsDuration float64 // LLM 调用总耗时（秒）
	llmCallsErrors   uint64  // LLM 调用错误次数

	// 索引指标
	documentsIngested uint64 // 已索引文档数
	chunksIngested    uint64 // 已索引分块数
	documentsDeleted  uint64 // 已删除文档数
	ingestErrors      uint64 // 索引错误次数

	startTime  time.Time
	durationMu sync.Mutex
}

var (
	global *Metrics
	once   sync.Once
)

// Get 获取全局指标实例。
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{startTime: time.Now()}
	})
	return global
}

// RecordQuery 记录查询。
func (m *Metrics) RecordQuery(cacheHit bool, err error) {
	atomic.AddUint64(&m.queriesTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.queriesErrors, 1)
		return
	}
	if cacheHit {
		atomic.AddUint64(&m.queriesCacheHits, 1)
	} else {
		atomic.AddUint64(&m.queriesCacheMisses, 1)
	}
}

// RecordNoContext 记录一次无相关上下文的查询。
func (m *Metrics) RecordNoContext() {
	atomic.AddUint64(&m.queriesNoContext, 1)
}

// RecordRetrieval 记录检索操作。
func (m *Metrics) RecordRetrieval(duration time.Duration, err error) {
	atomic.AddUint64(&m.retrievalTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.retrievalErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordLLMCall 记录 LLM 调用。
func (m *Metrics) RecordLLMCall(duration time.Duration, err error) {
	atomic.AddUint64(&m.llmCallsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.llmCallsErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.llmCallsDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordIngest 记录索引操作。
func (m *Metrics) RecordIngest(documents, chunks int, err error) {
	if err != nil {
		atomic.AddUint64(&m.ingestErrors, 1)
		return
	}
	atomic.AddUint64(&m.documentsIngested, uint64(documents))
	atomic.AddUint64(&m.chunksIngested, uint64(chunks))
}

// RecordDelete 记录文档删除。
func (m *Metrics) RecordDelete() {
	atomic.AddUint64(&m.documentsDeleted, 1)
}

// Snapshot 返回指标快照，用于统计接口。
func (m *Metrics) Snapshot() map[string]any {
	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	llmDuration := m.llmCallsDuration
	m.durationMu.Unlock()

	return map[string]any{
		"queries_total":        atomic.LoadUint64(&m.queriesTotal),
		"queries_cache_hits":   atomic.LoadUint64(&m.queriesCacheHits),
		"queries_cache_misses": atomic.LoadUint64(&m.queriesCacheMisses),
		"queries_errors":       atomic.LoadUint64(&m.queriesErrors),
		"queries_no_context":   atomic.LoadUint64(&m.queriesNoContext),
		"retrieval_total":      atomic.LoadUint64(&m.retrievalTotal),
		"retrieval_duration_s": retrievalDuration,
		"retrieval_errors":     atomic.LoadUint64(&m.retrievalErrors),
		"llm_calls_total":      atomic.LoadUint64(&m.llmCallsTotal),
		"llm_calls_duration_s": llmDuration,
		"llm_calls_errors":     atomic.LoadUint64(&m.llmCallsErrors),
		"documents_ingested":   atomic.LoadUint64(&m.documentsIngested),
		"chunks_ingested":      atomic.LoadUint64(&m.chunksIngested),
		"documents_deleted":    atomic.LoadUint64(&m.documentsDeleted),
		"ingest_errors":        atomic.LoadUint64(&m.ingestErrors),
		"uptime_seconds":       time.Since(m.startTime).Seconds(),
	}
}

// Export 导出 Prometheus 文本格式指标。
func (m *Metrics) Export(namespace string) string {
	var sb strings.Builder

	counter := func(name, help string, value uint64) {
		sb.WriteString(fmt.Sprintf("# HELP %s_%s %s\n", namespace, name, help))
		sb.WriteString(fmt.Sprintf("# TYPE %s_%s counter\n", namespace, name))
		sb.WriteString(fmt.Sprintf("%s_%s %d\n", namespace, name, value))
	}

	counter("queries_total", "Total number of queries.", atomic.LoadUint64(&m.queriesTotal))
	counter("queries_cache_hits", "Queries served from cache.", atomic.LoadUint64(&m.queriesCacheHits))
	counter("queries_errors", "Failed queries.", atomic.LoadUint64(&m.queriesErrors))
	counter("queries_no_context", "Queries answered without relevant context.", atomic.LoadUint64(&m.queriesNoContext))
	counter("retrieval_total", "Total retrieval operations.", atomic.LoadUint64(&m.retrievalTotal))
	counter("retrieval_errors", "Failed retrieval operations.", atomic.LoadUint64(&m.retrievalErrors))
	counter("llm_calls_total", "Total LLM calls.", atomic.LoadUint64(&m.llmCallsTotal))
	counter("llm_calls_errors", "Failed LLM calls.", atomic.LoadUint64(&m.llmCallsErrors))
	counter("documents_ingested", "Documents ingested into the index.", atomic.LoadUint64(&m.documentsIngested))
	counter("chunks_ingested", "Chunks written to the index.", atomic.LoadUint64(&m.chunksIngested))
	counter("documents_deleted", "Documents removed from the index.", atomic.LoadUint64(&m.documentsDeleted))
	counter("ingest_errors", "Failed ingest operations.", atomic.LoadUint64(&m.ingestErrors))

	return sb.String()
}
