package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/docuseek/docuseek/internal/docuseek/metrics"
	"github.com/docuseek/docuseek/internal/docuseek/store"
	"github.com/docuseek/docuseek/internal/model"
	"github.com/docuseek/docuseek/pkg/llm"
)

// State 表示一次查询在流水线中的阶段。
type State string

const (
	StateIdle       State = "idle"
	StateEmbedding  State = "embedding"
	StateRetrieving State = "retrieving"
	StateAssembling State = "assembling"
	StateGenerating State = "generating"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// maxHistoryTurns 多轮问答时参与提示的最近对话轮数。
const maxHistoryTurns = 3

// EngineConfig 问答引擎配置。
type EngineConfig struct {
	// TopK 默认返回的分块数。
	TopK int
	// SimilarityThreshold 默认相关性阈值，[0, 1]。
	SimilarityThreshold float64
	// MaxPromptLength 提示词长度预算（Unicode 字符数）。
	MaxPromptLength int
	// Temperature 生成温度。
	Temperature float64
	// MaxTokens 最大生成 token 数。
	MaxTokens int
	// SystemPrompt 系统提示词。
	SystemPrompt string
}

// DefaultEngineConfig 返回默认引擎配置。
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		TopK:                5,
		SimilarityThreshold: 0.7,
		MaxPromptLength:     8000,
		Temperature:         0.7,
		MaxTokens:           2048,
	}
}

// Engine 按 嵌入 → 检索 → 组装 → 生成 的顺序编排一次查询，
// 并提供文档级的索引与删除操作。
type Engine struct {
	chunker   *Chunker
	retriever *Retriever
	assembler *Assembler
	index     store.VectorIndex
	embedder  llm.EmbeddingProvider
	chat      llm.ChatProvider
	cache     *QueryCache
	metrics   *metrics.Metrics
	config    *EngineConfig

	// observer 在每次阶段切换时被调用，仅用于观测，可为 nil。
	observer func(State)
}

// EngineOption 配置 Engine 的可选项。
type EngineOption func(*Engine)

// WithStateObserver 设置阶段观察回调。
func WithStateObserver(fn func(State)) EngineOption {
	return func(e *Engine) {
		e.observer = fn
	}
}

// NewEngine 创建问答引擎。
func NewEngine(
	chunker *Chunker,
	index store.VectorIndex,
	embedder llm.EmbeddingProvider,
	chat llm.ChatProvider,
	cache *QueryCache,
	config *EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if config == nil {
		config = DefaultEngineConfig()
	}
	if config.TopK <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive", ErrInvalidConfig)
	}
	if config.SimilarityThreshold < 0 || config.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold must be in [0, 1]", ErrInvalidConfig)
	}
	if config.MaxPromptLength <= 0 {
		return nil, fmt.Errorf("%w: max prompt length must be positive", ErrInvalidConfig)
	}
	if cache == nil {
		cache = NewQueryCache(nil, nil)
	}

	e := &Engine{
		chunker:   chunker,
		retriever: NewRetriever(index),
		assembler: NewAssembler(),
		index:     index,
		embedder:  embedder,
		chat:      chat,
		cache:     cache,
		metrics:   metrics.Get(),
		config:    config,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) setState(s State) {
	if e.observer != nil {
		e.observer(s)
	}
}

// fail 统一的失败出口：切换到 Failed 并记录查询错误。
func (e *Engine) fail(err error) error {
	e.setState(StateFailed)
	e.metrics.RecordQuery(false, err)
	return err
}

// resolveQueryParams 合并请求参数与默认配置，在调用任何协作方之前校验。
func (e *Engine) resolveQueryParams(question string, reqTopK int, reqThreshold *float64) (int, float64, error) {
	topK := e.config.TopK
	if reqTopK > 0 {
		topK = reqTopK
	} else if reqTopK < 0 {
		return 0, 0, fmt.Errorf("%w: top_k must be positive", ErrInvalidConfig)
	}

	threshold := e.config.SimilarityThreshold
	if reqThreshold != nil {
		threshold = *reqThreshold
	}
	if threshold < 0 || threshold > 1 {
		return 0, 0, fmt.Errorf("%w: similarity_threshold must be in [0, 1]", ErrInvalidConfig)
	}
	if question == "" {
		return 0, 0, fmt.Errorf("%w: question must not be empty", ErrInvalidConfig)
	}
	return topK, threshold, nil
}

// buildPrompt 执行 嵌入 → 检索 → 组装 三个阶段，返回最终提示词与
// 实际纳入的分块。检索结果为空时切换到无上下文提示词，不视为错误。
func (e *Engine) buildPrompt(ctx context.Context, question string, topK int, threshold float64) (string, []*model.RetrievalResult, error) {
	// 嵌入
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	e.setState(StateEmbedding)
	embedding, err := e.embedder.EmbedSingle(ctx, question)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	// 检索
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	e.setState(StateRetrieving)
	retrievalStart := time.Now()
	results, err := e.retriever.Retrieve(ctx, embedding, topK, threshold)
	e.metrics.RecordRetrieval(time.Since(retrievalStart), err)
	if err != nil {
		return "", nil, err
	}

	// 组装
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	e.setState(StateAssembling)
	var prompt string
	included := []*model.RetrievalResult{}
	if len(results) == 0 {
		e.metrics.RecordNoContext()
		prompt, err = e.assembler.AssembleNoContext(question, e.config.MaxPromptLength)
	} else {
		prompt, included, err = e.assembler.Assemble(question, results, e.config.MaxPromptLength)
	}
	if err != nil {
		return "", nil, err
	}
	if included == nil {
		included = []*model.RetrievalResult{}
	}
	return prompt, included, nil
}

// Query 执行一次问答。
//
// 检索结果为空时走降级路径：使用无上下文提示词继续生成，返回空来源
// 的正常答案而非错误。返回结果中的 Sources 与最终提示词包含的分块
// 严格一致。上下文取消在每个阶段边界检查，取消的查询不返回部分结果。
func (e *Engine) Query(ctx context.Context, req *model.QueryRequest) (*model.QueryResult, error) {
	e.setState(StateIdle)

	topK, threshold, err := e.resolveQueryParams(req.Question, req.TopK, req.SimilarityThreshold)
	if err != nil {
		return nil, e.fail(err)
	}

	if cached := e.cache.Get(ctx, req.Question, topK, threshold); cached != nil {
		e.setState(StateDone)
		e.metrics.RecordQuery(true, nil)
		return cached, nil
	}

	prompt, included, err := e.buildPrompt(ctx, req.Question, topK, threshold)
	if err != nil {
		return nil, e.fail(err)
	}

	// 生成
	if err := ctx.Err(); err != nil {
		return nil, e.fail(err)
	}
	e.setState(StateGenerating)
	llmStart := time.Now()
	answer, err := e.chat.Generate(ctx, prompt, &llm.GenerateOptions{
		SystemPrompt: e.config.SystemPrompt,
		Temperature:  e.config.Temperature,
		MaxTokens:    e.config.MaxTokens,
	})
	e.metrics.RecordLLMCall(time.Since(llmStart), err)
	if err != nil {
		return nil, e.fail(fmt.Errorf("%w: %v", ErrGenerationUnavailable, err))
	}

	if err := ctx.Err(); err != nil {
		return nil, e.fail(err)
	}
	e.setState(StateDone)

	result := &model.QueryResult{
		Answer:  answer,
		Sources: included,
	}

	e.metrics.RecordQuery(false, nil)
	e.cache.Set(ctx, req.Question, topK, threshold, result)

	logger.Infow("query answered",
		"question_length", len(req.Question),
		"sources", len(result.Sources),
		"answer_length", len(answer),
	)

	return result, nil
}

// QueryConversation 执行一次携带对话历史的问答。
//
// 检索仍然只针对当前问题；历史消息截取最近 maxHistoryTurns 轮后
// 作为多轮消息传给 Chat 供应商，组装好的提示词作为最新的用户消息。
// 答案依赖历史内容，因此不读写查询缓存。
func (e *Engine) QueryConversation(ctx context.Context, req *model.ConversationQueryRequest) (*model.QueryResult, error) {
	e.setState(StateIdle)

	topK, threshold, err := e.resolveQueryParams(req.Question, req.TopK, req.SimilarityThreshold)
	if err != nil {
		return nil, e.fail(err)
	}
	history, err := historyMessages(req.History)
	if err != nil {
		return nil, e.fail(err)
	}

	prompt, included, err := e.buildPrompt(ctx, req.Question, topK, threshold)
	if err != nil {
		return nil, e.fail(err)
	}

	// 生成
	if err := ctx.Err(); err != nil {
		return nil, e.fail(err)
	}
	e.setState(StateGenerating)
	messages := make([]llm.Message, 0, len(history)+2)
	if e.config.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: e.config.SystemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	llmStart := time.Now()
	answer, err := e.chat.Chat(ctx, messages)
	e.metrics.RecordLLMCall(time.Since(llmStart), err)
	if err != nil {
		return nil, e.fail(fmt.Errorf("%w: %v", ErrGenerationUnavailable, err))
	}

	if err := ctx.Err(); err != nil {
		return nil, e.fail(err)
	}
	e.setState(StateDone)

	result := &model.QueryResult{
		Answer:  answer,
		Sources: included,
	}

	e.metrics.RecordQuery(false, nil)
	logger.Infow("conversation query answered",
		"history_messages", len(history),
		"sources", len(result.Sources),
		"answer_length", len(answer),
	)

	return result, nil
}

// historyMessages 校验历史消息并截取最近 maxHistoryTurns 轮。
func historyMessages(history []model.ConversationMessage) ([]llm.Message, error) {
	if len(history) > maxHistoryTurns*2 {
		history = history[len(history)-maxHistoryTurns*2:]
	}

	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		var role llm.Role
		switch m.Role {
		case "user":
			role = llm.RoleUser
		case "assistant":
			role = llm.RoleAssistant
		default:
			return nil, fmt.Errorf("%w: history role must be user or assistant, got %q", ErrInvalidConfig, m.Role)
		}
		if m.Content == "" {
			return nil, fmt.Errorf("%w: history message content must not be empty", ErrInvalidConfig)
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	return messages, nil
}

// Ingest 索引一篇文档：切分、批量嵌入、单次提交。
//
// 全有或全无：嵌入或提交任一步失败时索引不发生任何变更。待写入的
// 记录先在暂存缓冲中组装完整，最后一次性提交。
func (e *Engine) Ingest(ctx context.Context, doc *model.Document) (*model.IngestResult, error) {
	chunks := e.chunker.Chunk(doc.ID, doc.RawText)
	if len(chunks) == 0 {
		logger.Warnw("document produced no chunks", "document_id", doc.ID, "filename", doc.Metadata.Filename)
		return &model.IngestResult{DocumentID: doc.ID}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		e.metrics.RecordIngest(0, 0, err)
		return nil, fmt.Errorf("%w: embedding: %v", ErrIngestFailed, err)
	}
	if len(embeddings) != len(chunks) {
		err := fmt.Errorf("%w: embedding count mismatch: %d chunks, %d vectors", ErrIngestFailed, len(chunks), len(embeddings))
		e.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	// 暂存缓冲：全部记录组装完成后一次性提交
	entries := make([]*store.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = &store.IndexEntry{
			ChunkID:       c.ID,
			Embedding:     embeddings[i],
			Content:       c.Text,
			DocumentID:    doc.ID,
			DocumentName:  doc.Metadata.Filename,
			FileType:      doc.Metadata.FileType,
			SequenceIndex: c.SequenceIndex,
			StartOffset:   c.StartOffset,
			EndOffset:     c.EndOffset,
		}
	}

	// 提交前取消则索引保持不变
	if err := ctx.Err(); err != nil {
		e.metrics.RecordIngest(0, 0, err)
		return nil, err
	}

	if err := e.index.Add(ctx, entries); err != nil {
		e.metrics.RecordIngest(0, 0, err)
		return nil, fmt.Errorf("%w: commit: %v", ErrIngestFailed, err)
	}

	e.metrics.RecordIngest(1, len(chunks), nil)
	logger.Infow("document ingested",
		"document_id", doc.ID,
		"filename", doc.Metadata.Filename,
		"chunks", len(chunks),
	)

	return &model.IngestResult{
		DocumentID:  doc.ID,
		ChunksAdded: len(chunks),
	}, nil
}

// DeleteDocument 级联删除文档的全部分块。
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id must not be empty", ErrInvalidConfig)
	}
	if err := e.index.RemoveByDocument(ctx, documentID); err != nil {
		return err
	}
	e.metrics.RecordDelete()
	return nil
}

// Stats 返回知识库与运行时统计。
func (e *Engine) Stats(ctx context.Context) (map[string]any, error) {
	count, err := e.index.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取索引统计失败: %w", err)
	}

	stats := map[string]any{
		"chunk_count":        count,
		"embedding_provider": e.embedder.Name(),
		"chat_provider":      e.chat.Name(),
		"chunk_size":         e.chunker.Size(),
		"chunk_overlap":      e.chunker.Overlap(),
		"metrics":            e.metrics.Snapshot(),
	}

	if cacheStats, err := e.cache.GetStats(ctx); err == nil {
		stats["query_cache"] = cacheStats
	}

	return stats, nil
}
